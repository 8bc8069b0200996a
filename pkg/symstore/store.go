// Package symstore implements the chain of locations binary and symbol
// files are searched in.
//
// A search path string, in the same syntax as _NT_SYMBOL_PATH, is parsed
// by a Parser into a Sequence of stores. Stores are either local
// directories (flat or structured), remote HTTP symbol servers or the
// debuginfod client. Files found in a remote store are copied into the
// nearest cache that precedes it so that the backend can load them from
// the local file system.
package symstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// Query describes the file a store is searched for.
type Query struct {
	Filename string
	BuildID  buildid.BuildID
	// IsDebugInfoFile is set when looking for a symbol file, the file
	// found must then carry a .debug_info section.
	IsDebugInfoFile bool
}

// Store is a location that can be searched for binary and symbol files.
type Store interface {
	// FindFile returns nil if the store does not hold the file. Every
	// step of the search is described on log.
	// If forceLoad is set stores must not rely on earlier negative results.
	FindFile(ctx context.Context, q Query, log io.Writer, forceLoad bool) FileReference
	// AddFile copies source into the store. Stores that can not hold
	// copies return a *StoreError wrapping ErrNotSupported.
	AddFile(ctx context.Context, source FileReference, filename string, id buildid.BuildID, log io.Writer) (FileReference, error)
	// IsCache is true for stores files found further along the search
	// path are copied into.
	IsCache() bool
	String() string
}

// ErrNotSupported is wrapped by AddFile errors of stores that can not
// hold copies.
var ErrNotSupported = errors.New("operation not supported by this store")

// StoreError is returned when a store operation fails. Msg is a complete
// human readable message suitable for the search log.
type StoreError struct {
	Msg string
	Err error
}

func (err *StoreError) Error() string {
	return err.Msg
}

func (err *StoreError) Unwrap() error {
	return err.Err
}

// BuildIDReader reads ELF metadata of local files, elfutil.Reader
// implements it.
type BuildIDReader interface {
	ReadBuildID(path string) (buildid.BuildID, error)
	VerifySymbolFile(path string, isDebugInfoFile bool) error
}

// logLine writes msg to the search log and to the symbols trace.
func logLine(log io.Writer, msg string) {
	logflags.SymbolsLogger().Debug(msg)
	if log != nil {
		fmt.Fprintln(log, msg)
	}
}

// Counts is the number of stores of each kind in a store tree.
type Counts struct {
	Flat       int
	Structured int
	HTTP       int
	Debuginfod int
}

// CountStores walks the store tree rooted at s.
func CountStores(s Store) Counts {
	var c Counts
	var walk func(s Store)
	walk = func(s Store) {
		switch s := s.(type) {
		case *Sequence:
			for _, sub := range s.stores {
				walk(sub)
			}
		case *Server:
			for _, sub := range s.stores {
				walk(sub)
			}
		case *FlatStore:
			c.Flat++
		case *StructuredStore:
			c.Structured++
		case *HTTPStore:
			c.HTTP++
		case *DebuginfodStore:
			c.Debuginfod++
		}
	}
	if s != nil {
		walk(s)
	}
	return c
}
