package symstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"
)

// FileReference is a file found in a store.
type FileReference interface {
	// Location is a path for local files and a URL for remote ones.
	Location() string
	// IsFilesystemLocation is true if the backend can load the file
	// directly from Location.
	IsFilesystemLocation() bool
	// CopyTo copies the file to dest, which must not exist yet.
	CopyTo(ctx context.Context, dest string) error
}

type fileReference struct {
	path string
}

// NewFileReference returns a reference to a local file.
func NewFileReference(path string) FileReference {
	return &fileReference{path: path}
}

func (r *fileReference) Location() string           { return r.path }
func (r *fileReference) IsFilesystemLocation() bool { return true }

func (r *fileReference) CopyTo(ctx context.Context, dest string) error {
	src, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer src.Close()
	return writeNewFile(dest, src)
}

type httpFileReference struct {
	client  *http.Client
	limiter *rate.Limiter
	url     string
}

func (r *httpFileReference) Location() string           { return r.url }
func (r *httpFileReference) IsFilesystemLocation() bool { return false }

func (r *httpFileReference) CopyTo(ctx context.Context, dest string) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("download of %s failed: %s", r.url, resp.Status)
	}
	return writeNewFile(dest, resp.Body)
}

// writeNewFile writes the content of r to dest through a temporary file in
// the same directory, so an interrupted copy never leaves a truncated file
// behind that a later search would pick up.
func writeNewFile(dest string, r io.Reader) error {
	if _, err := os.Stat(dest); err == nil {
		return &StoreError{Msg: msgFileAlreadyExists(dest), Err: os.ErrExist}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return err
	}
	_, err = io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
	}
	return err
}
