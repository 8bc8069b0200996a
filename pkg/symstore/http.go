package symstore

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
)

// missCacheSize bounds the number of URLs an HTTP store remembers as
// missing.
const missCacheSize = 4096

// IsHTTPStore returns true if element is an absolute http or https URL.
func IsHTTPStore(element string) bool {
	u, err := url.Parse(element)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// HTTPStore is a symbol server reachable over HTTP, laid out like a
// structured store. Files found in it must be copied to a cache before
// the backend can load them.
//
// URLs that were not found are remembered and not requested again unless
// the search is forced, which is what the manual "load symbols" command
// does.
type HTTPStore struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	misses  *lru.Cache
}

// NewHTTPStore returns a store for the server at baseURL. Requests are
// throttled by limiter, nil means unlimited.
func NewHTTPStore(baseURL string, client *http.Client, limiter *rate.Limiter) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	misses, err := lru.New(missCacheSize)
	if err != nil {
		panic(err)
	}
	return &HTTPStore{url: baseURL, client: client, limiter: limiter, misses: misses}
}

func (s *HTTPStore) fileURL(filename string, id buildid.BuildID) string {
	escaped := url.PathEscape(filename)
	return strings.Join([]string{strings.TrimRight(s.url, "/"), escaped, id.String(), escaped}, "/")
}

func (s *HTTPStore) do(ctx context.Context, method, fileURL string) (*http.Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, fileURL, nil)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

func allowsGet(h http.Header) bool {
	for _, v := range h.Values("Allow") {
		for _, m := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(m), http.MethodGet) {
				return true
			}
		}
	}
	return false
}

func (s *HTTPStore) FindFile(ctx context.Context, q Query, log io.Writer, forceLoad bool) FileReference {
	if q.Filename == "" {
		logLine(log, msgFailedToSearchHTTPStore(s.url, q.Filename, msgFilenameEmpty))
		return nil
	}
	if q.BuildID.IsEmpty() {
		logLine(log, msgFailedToSearchHTTPStore(s.url, q.Filename, msgEmptyBuildID))
		return nil
	}

	fileURL := s.fileURL(q.Filename, q.BuildID)
	if !forceLoad && s.misses.Contains(fileURL) {
		logLine(log, msgDoesNotExistInHTTPStore(q.Filename, s.url))
		return nil
	}

	resp, err := s.do(ctx, http.MethodHead, fileURL)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed && allowsGet(resp.Header) {
		resp.Body.Close()
		resp, err = s.do(ctx, http.MethodGet, fileURL)
	}
	if err != nil {
		logLine(log, msgFailedToSearchHTTPStore(s.url, q.Filename, err.Error()))
		return nil
	}
	defer resp.Body.Close()

	if u := resp.Request.URL; u.Scheme != "https" {
		logLine(log, msgConnectionIsUnencrypted(u.Hostname()))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logLine(log, msgFileNotFoundInHTTPStore(fileURL, resp.StatusCode, http.StatusText(resp.StatusCode)))
		if resp.StatusCode == http.StatusNotFound {
			s.misses.Add(fileURL, struct{}{})
		}
		return nil
	}
	s.misses.Remove(fileURL)
	logLine(log, msgFileFound(fileURL))
	return &httpFileReference{client: s.client, limiter: s.limiter, url: fileURL}
}

func (s *HTTPStore) AddFile(ctx context.Context, source FileReference, filename string, id buildid.BuildID, log io.Writer) (FileReference, error) {
	return nil, &StoreError{Msg: msgCopyToHTTPStoreNotSupported, Err: ErrNotSupported}
}

func (s *HTTPStore) IsCache() bool { return false }

func (s *HTTPStore) String() string { return "http(" + s.url + ")" }

// Host returns the host name of the store's URL.
func (s *HTTPStore) Host() string {
	u, err := url.Parse(s.url)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
