package symstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfutil"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfwriter"
)

var (
	fooID   = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}
	otherID = []byte{0xff, 0xee, 0xdd, 0xcc}
)

func writeModule(t *testing.T, dir, name string, m elfwriter.Module) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := elfwriter.WriteModule(p, m); err != nil {
		t.Fatalf("could not write %s: %v", p, err)
	}
	return p
}

func TestFlatStore(t *testing.T) {
	dir := t.TempDir()
	p := writeModule(t, dir, "libfoo.so", elfwriter.Module{BuildID: fooID})
	store := NewFlatStore(dir, elfutil.Reader{})
	ctx := context.Background()

	tests := []struct {
		name  string
		q     Query
		found bool
		log   string
	}{
		{"match", Query{Filename: "libfoo.so", BuildID: buildid.FromBytes(fooID)}, true, p + "... File found."},
		{"no build id", Query{Filename: "libfoo.so"}, true, p + "... File found."},
		{"mismatch", Query{Filename: "libfoo.so", BuildID: buildid.FromBytes(otherID)}, false, "Build ID does not match"},
		{"missing", Query{Filename: "libbar.so"}, false, filepath.Join(dir, "libbar.so") + "... File not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log strings.Builder
			ref := store.FindFile(ctx, tt.q, &log, false)
			if (ref != nil) != tt.found {
				t.Fatalf("expected found=%v, got %#v", tt.found, ref)
			}
			if ref != nil && ref.Location() != p {
				t.Fatalf("expected %q, got %q", p, ref.Location())
			}
			if !strings.Contains(log.String(), tt.log) {
				t.Fatalf("expected log to contain %q, got %q", tt.log, log.String())
			}
		})
	}

	_, err := store.AddFile(ctx, NewFileReference(p), "libfoo.so", buildid.FromBytes(fooID), nil)
	if err == nil || err.Error() != msgCopyToFlatStoreNotSupported {
		t.Fatalf("expected %q, got %v", msgCopyToFlatStoreNotSupported, err)
	}
}

func TestStructuredStoreAddFile(t *testing.T) {
	src := writeModule(t, t.TempDir(), "libfoo.so", elfwriter.Module{BuildID: fooID})
	root := filepath.Join(t.TempDir(), "store")
	store := NewStructuredStore(root, false)
	id := buildid.FromBytes(fooID)
	ctx := context.Background()

	if IsStructuredStore(root) {
		t.Fatal("store without marker file detected as structured")
	}
	if ref := store.FindFile(ctx, Query{Filename: "libfoo.so", BuildID: id}, nil, false); ref != nil {
		t.Fatalf("expected nothing in an empty store, got %s", ref.Location())
	}

	var log strings.Builder
	ref, err := store.AddFile(ctx, NewFileReference(src), "libfoo.so", id, &log)
	if err != nil {
		t.Fatal(err)
	}
	expected := filepath.Join(root, "libfoo.so", id.PathName(), "libfoo.so")
	if ref.Location() != expected {
		t.Fatalf("expected %q, got %q", expected, ref.Location())
	}
	if !IsStructuredStore(root) {
		t.Fatal("marker file not created")
	}
	if log.String() != "Copied 'libfoo.so' to '"+expected+"'.\n" {
		t.Fatalf("unexpected log %q", log.String())
	}

	found := store.FindFile(ctx, Query{Filename: "libfoo.so", BuildID: id}, nil, false)
	if found == nil || found.Location() != expected {
		t.Fatalf("expected %q, got %#v", expected, found)
	}

	_, err = store.AddFile(ctx, NewFileReference(src), "libfoo.so", id, nil)
	if err == nil || !strings.Contains(err.Error(), "A file already exists at the destination path") {
		t.Fatalf("expected already exists error, got %v", err)
	}
	_, err = store.AddFile(ctx, NewFileReference(src), "libfoo.so", buildid.Empty, nil)
	if err == nil || !strings.HasSuffix(err.Error(), msgEmptyBuildID) {
		t.Fatalf("expected empty build ID error, got %v", err)
	}
}

// symbolServer serves local files under the URL paths they are mapped to.
type symbolServer struct {
	*httptest.Server
	requests int32
}

func newSymbolServer(t *testing.T, files map[string]string, headAllowed bool) *symbolServer {
	s := &symbolServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.requests, 1)
		if r.Method == http.MethodHead && !headAllowed {
			w.Header().Set("Allow", "GET")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, p)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *symbolServer) count() int {
	return int(atomic.LoadInt32(&s.requests))
}

func TestHTTPStore(t *testing.T) {
	src := writeModule(t, t.TempDir(), "libfoo.so", elfwriter.Module{BuildID: fooID})
	id := buildid.FromBytes(fooID)
	srv := newSymbolServer(t, map[string]string{"/libfoo.so/" + id.String() + "/libfoo.so": src}, true)
	store := NewHTTPStore(srv.URL+"/", srv.Client(), nil)
	ctx := context.Background()

	var log strings.Builder
	ref := store.FindFile(ctx, Query{Filename: "libfoo.so", BuildID: id}, &log, false)
	if ref == nil {
		t.Fatalf("file not found: %s", log.String())
	}
	expectedURL := srv.URL + "/libfoo.so/" + id.String() + "/libfoo.so"
	if ref.Location() != expectedURL || ref.IsFilesystemLocation() {
		t.Fatalf("expected remote reference to %q, got %q", expectedURL, ref.Location())
	}
	if !strings.Contains(log.String(), "is unencrypted") {
		t.Fatalf("expected unencrypted connection warning, got %q", log.String())
	}

	dest := filepath.Join(t.TempDir(), "copy", "libfoo.so")
	if err := ref.CopyTo(ctx, dest); err != nil {
		t.Fatal(err)
	}
	if got, err := elfutil.ReadBuildID(dest); err != nil || got != id {
		t.Fatalf("expected downloaded file with build ID %v, got %v (%v)", id, got, err)
	}
}

func TestHTTPStoreRemembersMisses(t *testing.T) {
	srv := newSymbolServer(t, map[string]string{}, true)
	store := NewHTTPStore(srv.URL, srv.Client(), nil)
	q := Query{Filename: "libbar.so", BuildID: buildid.FromBytes(otherID)}
	ctx := context.Background()

	var log strings.Builder
	if ref := store.FindFile(ctx, q, &log, false); ref != nil {
		t.Fatalf("unexpected reference %s", ref.Location())
	}
	if !strings.Contains(log.String(), "Server returned HTTP status code 404 (Not Found).") {
		t.Fatalf("expected 404 in log, got %q", log.String())
	}
	if srv.count() != 1 {
		t.Fatalf("expected 1 request, got %d", srv.count())
	}

	log.Reset()
	store.FindFile(ctx, q, &log, false)
	if srv.count() != 1 {
		t.Fatalf("expected cached miss, got %d requests", srv.count())
	}
	if !strings.Contains(log.String(), "won't be searched in Http store") {
		t.Fatalf("unexpected log %q", log.String())
	}

	store.FindFile(ctx, q, nil, true)
	if srv.count() != 2 {
		t.Fatalf("expected forced search to reach the server, got %d requests", srv.count())
	}
}

func TestHTTPStoreHeadNotAllowed(t *testing.T) {
	src := writeModule(t, t.TempDir(), "libfoo.so", elfwriter.Module{BuildID: fooID})
	id := buildid.FromBytes(fooID)
	srv := newSymbolServer(t, map[string]string{"/libfoo.so/" + id.String() + "/libfoo.so": src}, false)
	store := NewHTTPStore(srv.URL, srv.Client(), nil)

	ref := store.FindFile(context.Background(), Query{Filename: "libfoo.so", BuildID: id}, nil, false)
	if ref == nil {
		t.Fatal("expected GET fallback to find the file")
	}
	if srv.count() != 2 {
		t.Fatalf("expected HEAD then GET, got %d requests", srv.count())
	}
}

func TestHTTPStoreEmptyBuildID(t *testing.T) {
	srv := newSymbolServer(t, map[string]string{}, true)
	store := NewHTTPStore(srv.URL, srv.Client(), nil)
	var log strings.Builder
	if ref := store.FindFile(context.Background(), Query{Filename: "libfoo.so"}, &log, false); ref != nil {
		t.Fatal("expected no result without build ID")
	}
	if srv.count() != 0 {
		t.Fatalf("expected no requests, got %d", srv.count())
	}
	expected := msgFailedToSearchHTTPStore(srv.URL, "libfoo.so", msgEmptyBuildID) + "\n"
	if log.String() != expected {
		t.Fatalf("expected %q, got %q", expected, log.String())
	}
}

func TestServerCascade(t *testing.T) {
	src := writeModule(t, t.TempDir(), "libfoo.so", elfwriter.Module{BuildID: fooID})
	id := buildid.FromBytes(fooID)
	near := NewStructuredStore(filepath.Join(t.TempDir(), "near"), false)
	far := NewStructuredStore(filepath.Join(t.TempDir(), "far"), false)
	if _, err := far.AddFile(context.Background(), NewFileReference(src), "libfoo.so", id, nil); err != nil {
		t.Fatal(err)
	}

	srv := NewServer(false)
	srv.AddStore(near)
	srv.AddStore(far)
	ref := srv.FindFile(context.Background(), Query{Filename: "libfoo.so", BuildID: id}, nil, false)
	if ref == nil {
		t.Fatal("file not found")
	}
	expected := near.filePath("libfoo.so", id)
	if ref.Location() != expected {
		t.Fatalf("expected copy in nearest store %q, got %q", expected, ref.Location())
	}
}

func TestSequenceCopiesIntoCache(t *testing.T) {
	src := writeModule(t, t.TempDir(), "libfoo.so", elfwriter.Module{BuildID: fooID})
	id := buildid.FromBytes(fooID)
	srv := newSymbolServer(t, map[string]string{"/libfoo.so/" + id.String() + "/libfoo.so": src}, true)
	cacheDir := t.TempDir()

	p := &Parser{Client: srv.Client(), Reader: elfutil.Reader{}}
	seq := p.Parse("cache*" + cacheDir + ";" + srv.URL)

	var log strings.Builder
	ref := seq.FindFile(context.Background(), Query{Filename: "libfoo.so", BuildID: id}, &log, false)
	if ref == nil {
		t.Fatalf("file not found: %s", log.String())
	}
	expected := filepath.Join(cacheDir, "libfoo.so", id.PathName(), "libfoo.so")
	if ref.Location() != expected || !ref.IsFilesystemLocation() {
		t.Fatalf("expected %q, got %q", expected, ref.Location())
	}

	// The second search is served by the cache.
	before := srv.count()
	ref = seq.FindFile(context.Background(), Query{Filename: "libfoo.so", BuildID: id}, nil, false)
	if ref == nil || ref.Location() != expected || srv.count() != before {
		t.Fatalf("expected cache hit without requests, got %#v after %d requests", ref, srv.count()-before)
	}
}

func TestSequenceVerifiesFiles(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "libfoo.so", elfwriter.Module{BuildID: fooID})
	seq := NewSequence(elfutil.Reader{})
	seq.AddStore(NewFlatStore(dir, elfutil.Reader{}))

	var log strings.Builder
	q := Query{Filename: "libfoo.so", BuildID: buildid.FromBytes(fooID), IsDebugInfoFile: true}
	if ref := seq.FindFile(context.Background(), q, &log, false); ref != nil {
		t.Fatalf("expected file without .debug_info to be rejected, got %s", ref.Location())
	}
	if !strings.Contains(log.String(), "does not contain a debug information (.debug_info) section") {
		t.Fatalf("unexpected log %q", log.String())
	}

	q.IsDebugInfoFile = false
	if ref := seq.FindFile(context.Background(), q, nil, false); ref == nil {
		t.Fatal("expected binary to be found")
	}
}

func TestParse(t *testing.T) {
	flat := t.TempDir()
	structured := t.TempDir()
	if err := os.WriteFile(filepath.Join(structured, markerFile), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cache := t.TempDir()
	def := t.TempDir()

	tests := []struct {
		paths    string
		cache    string
		exclude  []string
		expected string
	}{
		{"", "", nil, "[]"},
		{flat, "", nil, "[flat(" + flat + ")]"},
		{structured, "", nil, "[structured(" + structured + ")]"},
		{flat + ";;" + structured, "", nil, "[flat(" + flat + ") structured(" + structured + ")]"},
		{"cache*" + cache, "", nil, "[cache-server[structured(" + cache + ")]]"},
		{"srv*" + cache + "*https://symbols.example.com", "", nil, "[server[structured(" + cache + ") http(https://symbols.example.com)]]"},
		{"SRV**https://symbols.example.com", "", nil, "[server[]]"},
		{"symsrv*symsrv.dll*" + cache + "*https://symbols.example.com", "", nil, "[server[structured(" + cache + ") http(https://symbols.example.com)]]"},
		{"symsrv*other.dll*" + cache, "", nil, "[]"},
		{"https://symbols.example.com", "", nil, "[]"},
		{"https://symbols.example.com", def, nil, "[server[structured(" + def + ") http(https://symbols.example.com)]]"},
		{"cache*" + cache + ";https://symbols.example.com", "", nil, "[cache-server[structured(" + cache + ")] server[http(https://symbols.example.com)]]"},
		{"https://symbols.example.com", def, []string{"SYMBOLS.example.com"}, "[]"},
		{"debuginfod", "", nil, "[debuginfod]"},
		{"debuginfod*https://a.example.com*https://b.example.com", "", nil, "[debuginfod(https://a.example.com https://b.example.com)]"},
	}
	for _, tt := range tests {
		p := &Parser{DefaultCachePath: tt.cache, HostExcludeList: tt.exclude, Reader: elfutil.Reader{}}
		got := p.Parse(tt.paths).String()
		if got != tt.expected {
			t.Errorf("%q: expected %q, got %q", tt.paths, tt.expected, got)
		}
	}
}

func TestCountStores(t *testing.T) {
	flat := t.TempDir()
	cache := t.TempDir()
	p := &Parser{Reader: elfutil.Reader{}}
	seq := p.Parse(flat + ";cache*" + cache + ";srv*" + cache + "*https://symbols.example.com;debuginfod")
	got := CountStores(seq)
	expected := Counts{Flat: 1, Structured: 2, HTTP: 1, Debuginfod: 1}
	if got != expected {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
}
