package symstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
)

// markerFile tells structured stores apart from flat directories.
const markerFile = "pingme.txt"

// IsStructuredStore returns true if dir carries the structured store
// marker file.
func IsStructuredStore(dir string) bool {
	if strings.TrimSpace(dir) == "" {
		return false
	}
	fi, err := os.Stat(filepath.Join(dir, markerFile))
	return err == nil && !fi.IsDir()
}

// StructuredStore is a directory laid out as
// <root>/<filename>/<build id>/<filename>. Files can be added to it, which
// makes it usable as a cache.
type StructuredStore struct {
	path    string
	isCache bool
}

// NewStructuredStore returns a store rooted at dir. A cache store is one
// files found later in a search sequence are copied into.
func NewStructuredStore(dir string, isCache bool) *StructuredStore {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return &StructuredStore{path: dir, isCache: isCache}
}

func (s *StructuredStore) filePath(filename string, id buildid.BuildID) string {
	return filepath.Join(s.path, filename, id.PathName(), filename)
}

func (s *StructuredStore) FindFile(ctx context.Context, q Query, log io.Writer, forceLoad bool) FileReference {
	if q.Filename == "" || q.BuildID.IsEmpty() {
		// Without a build ID the directory of the file can't be computed.
		return nil
	}
	p := s.filePath(q.Filename, q.BuildID)
	if _, err := os.Stat(p); err != nil {
		logLine(log, msgFileNotFound(p))
		return nil
	}
	logLine(log, msgFileFound(p))
	return NewFileReference(p)
}

func (s *StructuredStore) AddFile(ctx context.Context, source FileReference, filename string, id buildid.BuildID, log io.Writer) (FileReference, error) {
	fail := func(msg string, err error) (FileReference, error) {
		return nil, &StoreError{Msg: msgFailedToCopyToStructuredStore(s.path, filename, msg), Err: err}
	}
	switch {
	case source == nil:
		return fail(msgSourceFileReferenceNil, nil)
	case filename == "":
		return fail(msgFilenameEmpty, nil)
	case id.IsEmpty():
		return fail(msgEmptyBuildID, nil)
	}

	if err := s.addMarkerFileIfNeeded(); err != nil {
		return fail(err.Error(), err)
	}
	p := s.filePath(filename, id)
	if err := source.CopyTo(ctx, p); err != nil {
		return fail(err.Error(), err)
	}
	logLine(log, msgCopiedFile(filename, p))
	return NewFileReference(p), nil
}

func (s *StructuredStore) addMarkerFileIfNeeded() error {
	marker := filepath.Join(s.path, markerFile)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return err
	}
	f, err := os.Create(marker)
	if err != nil {
		return err
	}
	return f.Close()
}

func (s *StructuredStore) IsCache() bool { return s.isCache }

func (s *StructuredStore) String() string {
	if s.isCache {
		return "cache(" + s.path + ")"
	}
	return "structured(" + s.path + ")"
}
