package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecode(t *testing.T) {
	in := `
symbol-search-paths: "srv*/tmp/symcache*https://symbols.example.com;/opt/debug"
use-symbol-stores: true
manual-symbol-loading: true
symbol-include-list: ["libmygame*.so", "libc.so.6"]
http-host-exclude-list: ["intranet.example.com"]
connect-timeout: 5s
connect-retry-delay: 100ms
debug-info-directories: ["/usr/lib/debug/.build-id"]
`
	c, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if c.SymbolSearchPaths != "srv*/tmp/symcache*https://symbols.example.com;/opt/debug" {
		t.Fatalf("unexpected search paths %q", c.SymbolSearchPaths)
	}
	if !c.UseSymbolStores || !c.ManualSymbolLoading {
		t.Fatalf("expected boolean options to be set: %#v", c)
	}
	if len(c.SymbolIncludeList) != 2 || c.SymbolIncludeList[0] != "libmygame*.so" {
		t.Fatalf("unexpected include list %#v", c.SymbolIncludeList)
	}
	if c.GetConnectTimeout() != 5*time.Second {
		t.Fatalf("expected %v, got %v", 5*time.Second, c.GetConnectTimeout())
	}
	if c.GetConnectRetryDelay() != 100*time.Millisecond {
		t.Fatalf("expected %v, got %v", 100*time.Millisecond, c.GetConnectRetryDelay())
	}
	if c.GetHTTPTimeout() != defaultHTTPTimeout {
		t.Fatalf("expected default http timeout, got %v", c.GetHTTPTimeout())
	}
}

func TestDefaultsOnNilConfig(t *testing.T) {
	var c *Config
	if c.GetConnectTimeout() != 60*time.Second {
		t.Fatalf("expected %v, got %v", 60*time.Second, c.GetConnectTimeout())
	}
	if c.GetConnectRetryDelay() != 500*time.Millisecond {
		t.Fatalf("expected %v, got %v", 500*time.Millisecond, c.GetConnectRetryDelay())
	}
}

func TestCombinedSearchPaths(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"empty", Config{}, ""},
		{"dirs only", Config{DebugInfoDirectories: []string{"/a", " ", "/b"}}, "/a;/b"},
		{"dirs and paths", Config{DebugInfoDirectories: []string{"/a"}, SymbolSearchPaths: "srv*/c*https://x"}, "/a;srv*/c*https://x"},
		{"cache prepended", Config{SymbolCacheDir: "/cache", SymbolSearchPaths: "https://x"}, "cache*/cache;https://x"},
		{"explicit cache wins", Config{SymbolCacheDir: "/cache", SymbolSearchPaths: "cache*/other;https://x"}, "cache*/other;https://x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.CombinedSearchPaths(); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoadConfigFileWritesDefault(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	c := LoadConfigFile(p)
	if len(c.DebugInfoDirectories) != 1 || c.DebugInfoDirectories[0] != "/usr/lib/debug/.build-id" {
		t.Fatalf("unexpected default debug info directories %#v", c.DebugInfoDirectories)
	}
	// second load reads the file that was just written
	c = LoadConfigFile(p)
	if len(c.DebugInfoDirectories) != 1 {
		t.Fatalf("unexpected debug info directories %#v", c.DebugInfoDirectories)
	}
}
