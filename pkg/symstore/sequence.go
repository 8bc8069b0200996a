package symstore

import (
	"context"
	"io"
	"strings"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
)

// Sequence is the top level store built from a search path. Stores are
// searched in order. A file found in a non-cache store is copied into the
// closest cache preceding it, and local files are verified to be valid
// ELF files with the expected build ID before they are returned.
type Sequence struct {
	stores []Store
	reader BuildIDReader
}

// NewSequence returns an empty sequence verifying files with reader.
func NewSequence(reader BuildIDReader) *Sequence {
	return &Sequence{reader: reader}
}

// AddStore appends s to the sequence.
func (seq *Sequence) AddStore(s Store) {
	seq.stores = append(seq.stores, s)
}

// HasCache returns true if any store of the sequence is a cache.
func (seq *Sequence) HasCache() bool {
	for _, s := range seq.stores {
		if s.IsCache() {
			return true
		}
	}
	return false
}

// Stores returns the stores of the sequence in search order.
func (seq *Sequence) Stores() []Store { return seq.stores }

func (seq *Sequence) FindFile(ctx context.Context, q Query, log io.Writer, forceLoad bool) FileReference {
	if q.Filename == "" {
		logLine(log, msgFilenameEmpty)
		return nil
	}
	var cache Store
	for _, s := range seq.stores {
		if ctx.Err() != nil {
			return nil
		}
		sub := q
		sub.IsDebugInfoFile = false
		ref := s.FindFile(ctx, sub, log, forceLoad)
		if ref != nil {
			if !s.IsCache() && cache != nil {
				copied, err := cache.AddFile(ctx, ref, q.Filename, q.BuildID, log)
				if err != nil {
					logLine(log, err.Error())
				} else {
					ref = copied
				}
			}
			if !ref.IsFilesystemLocation() || seq.verify(ref.Location(), q.BuildID, q.IsDebugInfoFile, log) {
				return ref
			}
		}
		if s.IsCache() {
			cache = s
		}
	}
	return nil
}

func (seq *Sequence) verify(path string, id buildid.BuildID, isDebugInfoFile bool, log io.Writer) bool {
	if err := seq.reader.VerifySymbolFile(path, isDebugInfoFile); err != nil {
		logLine(log, err.Error())
		return false
	}
	if id.IsEmpty() {
		return true
	}
	actual, err := seq.reader.ReadBuildID(path)
	if err != nil {
		logLine(log, err.Error())
		return false
	}
	if actual != id {
		logLine(log, msgBuildIDMismatch(path, id, actual))
		return false
	}
	return true
}

func (seq *Sequence) AddFile(ctx context.Context, source FileReference, filename string, id buildid.BuildID, log io.Writer) (FileReference, error) {
	return nil, &StoreError{Msg: msgCopyToSequenceNotSupported, Err: ErrNotSupported}
}

func (seq *Sequence) IsCache() bool { return false }

func (seq *Sequence) String() string {
	parts := make([]string, len(seq.stores))
	for i, s := range seq.stores {
		parts[i] = s.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
