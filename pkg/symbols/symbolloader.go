package symbols

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfutil"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// windowsTriple modules have PDB symbols, which are never searched for.
const windowsTriple = "x86_64-pc-windows-msvc"

// ELFReader reads the metadata symbol loading needs from local binaries,
// elfutil.Reader implements it.
type ELFReader interface {
	ReadBuildID(path string) (buildid.BuildID, error)
	ReadSymbolFileLocation(path string) (elfutil.SymbolFileLocation, error)
}

// SymbolLoader attaches separate symbol files to modules whose binary is
// loaded.
type SymbolLoader struct {
	finder Finder
	reader ELFReader
	interp backend.CommandInterpreter
}

// NewSymbolLoader returns a loader that attaches symbol files through
// interp.
func NewSymbolLoader(finder Finder, reader ELFReader, interp backend.CommandInterpreter) *SymbolLoader {
	return &SymbolLoader{finder: finder, reader: reader, interp: interp}
}

// LoadSymbols finds the symbol file of m and attaches it. The directory
// the binary names is tried first, the stores are only searched if
// useSymbolStores is set.
func (l *SymbolLoader) LoadSymbols(ctx context.Context, m backend.Module, log io.Writer, useSymbolStores, forceLoad bool) bool {
	if HasSymbolsLoaded(m) {
		return true
	}
	if m.Triple() == windowsTriple {
		return false
	}

	loc := l.symbolFileLocation(m, log)
	if loc.Filename == "" {
		logLine(log, "Unable to search for symbols. Symbol file name is unknown.")
		return false
	}

	id, err := buildid.Parse(m.UUID())
	if err != nil {
		logflags.SymbolsLogger().Warnf("module %s: %v", m.FileSpec().Filename, err)
	}
	if loc.Directory != "" {
		full := filepath.Join(loc.Directory, loc.Filename)
		actual, err := l.reader.ReadBuildID(full)
		if err != nil {
			logflags.SymbolsLogger().Debugf("Could not read build Id from %s for module %s (Message: %v).", full, m.FileSpec().Filename, err)
		}
		if err == nil && actual == id {
			return l.addSymbolFile(full, m, log)
		}
	}

	if !useSymbolStores {
		return false
	}
	path, ok := l.finder.FindFile(ctx, loc.Filename, id, true, log, forceLoad)
	if !ok {
		return false
	}
	return l.addSymbolFile(path, m, log)
}

// symbolFileLocation returns the symbol file the backend reports if it is
// not the binary itself, the debug link of the binary otherwise.
func (l *SymbolLoader) symbolFileLocation(m backend.Module, log io.Writer) elfutil.SymbolFileLocation {
	symbols := m.SymbolFileSpec()
	binary := m.FileSpec()
	if binary.Directory == "" || binary.Filename == "" {
		return elfutil.SymbolFileLocation{Directory: symbols.Directory, Filename: symbols.Filename}
	}
	if symbols.Filename != "" && symbols != binary {
		return elfutil.SymbolFileLocation{Directory: symbols.Directory, Filename: symbols.Filename}
	}
	loc, err := l.reader.ReadSymbolFileLocation(filepath.Join(binary.Directory, binary.Filename))
	if err != nil {
		logLine(log, err.Error())
	}
	return loc
}

func (l *SymbolLoader) addSymbolFile(path string, m backend.Module, log io.Writer) bool {
	platformPath := m.PlatformFileSpec().Path()
	command := backend.SymbolsAddCommand(platformPath, path)
	result := l.interp.HandleCommand(command)
	logflags.SymbolsLogger().Debugf("Executed command '%s' with result: succeeded=%v output=%q error=%q", command, result.Succeeded, result.Output, result.Error)
	if !result.Succeeded {
		logLine(log, "Debugger error: "+result.Error)
		return false
	}
	logLine(log, fmt.Sprintf("Debugger output: %s\nSuccessfully loaded symbol file '%s'.", result.Output, path))
	return true
}
