package symbols

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symstore"
)

const msgModuleBuildIDUnknown = "Warning: The module's build ID is unknown. This means that only flat directories can be searched, and it is not guaranteed that the file found will match the module being debugged."

// Finder finds local copies of module files.
type Finder interface {
	// FindFile returns the local path of the file called filename with
	// the given build ID. Every step of the search is written to log.
	FindFile(ctx context.Context, filename string, id buildid.BuildID, isDebugInfoFile bool, log io.Writer, forceLoad bool) (string, bool)
}

// FileFinder searches the stores configured by a search path string.
type FileFinder struct {
	parser *symstore.Parser

	mu    sync.RWMutex
	store symstore.Store
}

// NewFileFinder returns a finder with an empty search path.
func NewFileFinder(parser *symstore.Parser) *FileFinder {
	return &FileFinder{parser: parser, store: symstore.NewSequence(parser.Reader)}
}

// SetSearchPaths replaces the store chain with the one described by paths.
func (f *FileFinder) SetSearchPaths(paths string) {
	store := f.parser.Parse(paths)
	f.mu.Lock()
	f.store = store
	f.mu.Unlock()
}

// Store returns the current store chain.
func (f *FileFinder) Store() symstore.Store {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.store
}

// RemoteStoreUsed returns true if the search path reaches a symbol server
// over the network.
func (f *FileFinder) RemoteStoreUsed() bool {
	c := symstore.CountStores(f.Store())
	return c.HTTP > 0 || c.Debuginfod > 0
}

func (f *FileFinder) FindFile(ctx context.Context, filename string, id buildid.BuildID, isDebugInfoFile bool, log io.Writer, forceLoad bool) (string, bool) {
	if filename == "" {
		logLine(log, "Filename is null or empty.")
		return "", false
	}
	logLine(log, fmt.Sprintf("Searching for '%s'", filename))
	if id.IsEmpty() {
		logLine(log, msgModuleBuildIDUnknown)
	}

	ref := f.Store().FindFile(ctx, symstore.Query{Filename: filename, BuildID: id, IsDebugInfoFile: isDebugInfoFile}, log, forceLoad)
	if ref == nil {
		logLine(log, fmt.Sprintf("Failed to find file %s", filename))
		return "", false
	}
	if !ref.IsFilesystemLocation() {
		logLine(log, fmt.Sprintf("Unable to load file. '%s' must be cached in a filesystem location. Ensure that a valid cache directory is set in the symbol search paths or in symbol-cache-dir.", ref.Location()))
		return "", false
	}
	return ref.Location(), true
}

// RecordMetrics stores the number of stores of each kind in data.
func (f *FileFinder) RecordMetrics(data *LoadSymbolData) {
	c := symstore.CountStores(f.Store())
	data.FlatStoresCount = c.Flat
	data.StructuredStoresCount = c.Structured
	data.HTTPStoresCount = c.HTTP
	data.DebuginfodStoresCount = c.Debuginfod
}
