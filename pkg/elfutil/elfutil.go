// Package elfutil reads the parts of an ELF file the debugger needs to
// match modules with their binary and symbol files: the build ID, the
// .gnu_debuglink file name, the debug info directory hint and whether the
// file carries DWARF.
package elfutil

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfwriter"
)

// Error is returned when a file cannot be used as a binary or symbol file.
// Its message is meant to be shown to the user verbatim.
type Error struct {
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	ErrEmptyBuildID = errors.New("The file must have a non-empty build ID.")
	ErrNoDebugLink  = errors.New("Unable to extract the file's debuglink section.")
	ErrNoDebugDir   = errors.New("Unable to extract the file's debug_info_dir section.")
)

// SymbolFileLocation is where a binary says its symbol file lives.
type SymbolFileLocation struct {
	Directory string
	Filename  string
}

// Reader implements the binary introspection used by symbol stores and
// loaders on top of debug/elf.
type Reader struct{}

// ReadBuildID returns the build ID of the file at path.
func (Reader) ReadBuildID(path string) (buildid.BuildID, error) {
	return ReadBuildID(path)
}

// ReadSymbolFileLocation returns the debug link name and directory hint.
func (Reader) ReadSymbolFileLocation(path string) (SymbolFileLocation, error) {
	return ReadSymbolFileLocation(path)
}

// VerifySymbolFile checks path is an ELF file and, if isDebugInfoFile is
// set, that it has a .debug_info section.
func (Reader) VerifySymbolFile(path string, isDebugInfoFile bool) error {
	return VerifySymbolFile(path, isDebugInfoFile)
}

func open(path string) (*elf.File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &Error{Path: path, Msg: fmt.Sprintf("%s not found", path), Err: err}
	}
	f, err := elf.Open(path)
	if err != nil {
		return nil, &Error{Path: path, Msg: fmt.Sprintf("Failed to load '%s'. The file was not recognized as a valid ELF object file.", path), Err: err}
	}
	return f, nil
}

// ReadBuildID returns the build ID stored in the .note.gnu.build-id
// section, or in a PT_NOTE segment for files without section headers.
func ReadBuildID(path string) (buildid.BuildID, error) {
	f, err := open(path)
	if err != nil {
		return buildid.Empty, err
	}
	defer f.Close()

	fail := func(err error) (buildid.BuildID, error) {
		return buildid.Empty, &Error{Path: path, Msg: fmt.Sprintf("Failed to read build ID of '%s'. %v", path, err), Err: err}
	}

	if s := f.Section(elfwriter.SectionBuildID); s != nil {
		data, err := s.Data()
		if err != nil {
			return fail(err)
		}
		if id, ok := findBuildIDNote(data, f.ByteOrder); ok {
			return id, nil
		}
		return fail(ErrEmptyBuildID)
	}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_NOTE {
			continue
		}
		data, err := io.ReadAll(prog.Open())
		if err != nil {
			return fail(err)
		}
		if id, ok := findBuildIDNote(data, f.ByteOrder); ok {
			return id, nil
		}
	}
	return fail(ErrEmptyBuildID)
}

func findBuildIDNote(data []byte, order binary.ByteOrder) (buildid.BuildID, bool) {
	id := buildid.Empty
	forEachNote(data, order, func(name string, typ elf.NType, desc []byte) bool {
		if typ == elfwriter.NoteGNUBuildID && name == elfwriter.NoteNameGNU && len(desc) > 0 {
			id = buildid.FromBytes(desc)
			return false
		}
		return true
	})
	return id, !id.IsEmpty()
}

// ReadSymbolFileLocation reads the .gnu_debuglink file name and the
// .note.debug_info_dir directory of the file at path. A missing directory
// is not an error as long as the debug link is present; the returned
// error then lists what could not be read.
func ReadSymbolFileLocation(path string) (SymbolFileLocation, error) {
	f, err := open(path)
	if err != nil {
		return SymbolFileLocation{}, err
	}
	defer f.Close()

	var loc SymbolFileLocation
	var errs []error
	if s := f.Section(elfwriter.SectionDebugInfoDir); s != nil {
		if data, err := s.Data(); err == nil {
			loc.Directory = cstring(data)
		}
	} else {
		errs = append(errs, &Error{Path: path, Msg: fmt.Sprintf("Failed to read symbol file directory of '%s'. %v", path, ErrNoDebugDir), Err: ErrNoDebugDir})
	}
	if s := f.Section(elfwriter.SectionDebugLink); s != nil {
		if data, err := s.Data(); err == nil {
			loc.Filename = cstring(data)
		}
	} else {
		loc = SymbolFileLocation{}
		errs = append(errs, &Error{Path: path, Msg: fmt.Sprintf("Failed to read symbol file name of '%s'. %v", path, ErrNoDebugLink), Err: ErrNoDebugLink})
	}
	return loc, errors.Join(errs...)
}

// VerifySymbolFile returns nil if path is a valid ELF file and, when
// isDebugInfoFile is set, it contains a .debug_info section.
func VerifySymbolFile(path string, isDebugInfoFile bool) error {
	f, err := open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if !isDebugInfoFile {
		return nil
	}
	if f.Section(elfwriter.SectionDebugInfo) == nil {
		return &Error{Path: path, Msg: fmt.Sprintf("Failed to load '%s'. The file does not contain a debug information (.debug_info) section.", path)}
	}
	return nil
}

// FirstCodeSectionBase returns FileAddress - FileOffset of the first
// executable section, which is how far the file's preferred load address is
// from zero.
func FirstCodeSectionBase(path string) (uint64, error) {
	f, err := open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	for _, s := range f.Sections {
		if s.Flags&elf.SHF_EXECINSTR != 0 {
			return s.Addr - s.Offset, nil
		}
	}
	return 0, &Error{Path: path, Msg: fmt.Sprintf("'%s' has no code section", path)}
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
