package symstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
)

// FlatStore is a plain directory holding binary and symbol files by name.
// Files are matched by name, the build ID is checked when known.
type FlatStore struct {
	path   string
	reader BuildIDReader
}

// NewFlatStore returns a store searching dir.
func NewFlatStore(dir string, reader BuildIDReader) *FlatStore {
	return &FlatStore{path: dir, reader: reader}
}

func (s *FlatStore) FindFile(ctx context.Context, q Query, log io.Writer, forceLoad bool) FileReference {
	if q.Filename == "" {
		logLine(log, msgFailedToSearchFlatStore(s.path, q.Filename, msgFilenameEmpty))
		return nil
	}
	p := filepath.Join(s.path, q.Filename)
	if fi, err := os.Stat(p); err != nil || fi.IsDir() {
		logLine(log, msgFileNotFound(p))
		return nil
	}
	if !q.BuildID.IsEmpty() {
		actual, err := s.reader.ReadBuildID(p)
		if err != nil {
			logLine(log, err.Error())
			return nil
		}
		if actual != q.BuildID {
			logLine(log, msgBuildIDMismatch(p, q.BuildID, actual))
			return nil
		}
	}
	logLine(log, msgFileFound(p))
	return NewFileReference(p)
}

func (s *FlatStore) AddFile(ctx context.Context, source FileReference, filename string, id buildid.BuildID, log io.Writer) (FileReference, error) {
	return nil, &StoreError{Msg: msgCopyToFlatStoreNotSupported, Err: ErrNotSupported}
}

func (s *FlatStore) IsCache() bool { return false }

func (s *FlatStore) String() string { return "flat(" + s.path + ")" }
