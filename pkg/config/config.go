package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".dbgcore"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// SymbolSearchPaths is a search path string in _NT_SYMBOL_PATH syntax,
	// for example "srv*C:\symcache*https://symbols.example.com;/opt/debug".
	SymbolSearchPaths string `yaml:"symbol-search-paths"`
	// SymbolCacheDir is the default cache used for HTTP stores that do not
	// name a downstream cache of their own.
	SymbolCacheDir string `yaml:"symbol-cache-dir"`
	// UseSymbolStores enables the store search during implicit (attach
	// time) symbol loading. Manual loads always consult the stores.
	UseSymbolStores bool `yaml:"use-symbol-stores"`

	// If ManualSymbolLoading is true only modules matching
	// SymbolIncludeList get symbols loaded, otherwise every module not
	// matching SymbolExcludeList does.
	ManualSymbolLoading bool     `yaml:"manual-symbol-loading"`
	SymbolIncludeList   []string `yaml:"symbol-include-list"`
	SymbolExcludeList   []string `yaml:"symbol-exclude-list"`

	// HTTPHostExcludeList lists hosts that are never contacted by HTTP stores.
	HTTPHostExcludeList []string `yaml:"http-host-exclude-list"`
	// HTTPRequestsPerSecond throttles requests issued by HTTP stores, 0
	// means unlimited.
	HTTPRequestsPerSecond float64 `yaml:"http-requests-per-second,omitempty"`
	// HTTPTimeout bounds every request issued by HTTP stores.
	HTTPTimeout time.Duration `yaml:"http-timeout,omitempty"`

	// ConnectTimeout and ConnectRetryDelay control how long the launcher
	// keeps retrying to connect to the remote debug server and to find the
	// remote process.
	ConnectTimeout    time.Duration `yaml:"connect-timeout,omitempty"`
	ConnectRetryDelay time.Duration `yaml:"connect-retry-delay,omitempty"`

	// DebugInfoDirectories is the list of directories that are searched,
	// as flat stores, before anything listed in SymbolSearchPaths.
	DebugInfoDirectories []string `yaml:"debug-info-directories"`
}

const (
	defaultConnectTimeout    = 60 * time.Second
	defaultConnectRetryDelay = 500 * time.Millisecond
	defaultHTTPTimeout       = 30 * time.Second
)

// GetConnectTimeout returns ConnectTimeout or its default.
func (c *Config) GetConnectTimeout() time.Duration {
	if c == nil || c.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return c.ConnectTimeout
}

// GetConnectRetryDelay returns ConnectRetryDelay or its default.
func (c *Config) GetConnectRetryDelay() time.Duration {
	if c == nil || c.ConnectRetryDelay <= 0 {
		return defaultConnectRetryDelay
	}
	return c.ConnectRetryDelay
}

// GetHTTPTimeout returns HTTPTimeout or its default.
func (c *Config) GetHTTPTimeout() time.Duration {
	if c == nil || c.HTTPTimeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.HTTPTimeout
}

// CombinedSearchPaths returns the search path string actually used to
// build the store chain: debug info directories first, then
// SymbolSearchPaths. If a cache directory is configured and the search
// paths do not mention one, it is appended as a cache entry so that HTTP
// stores have somewhere to download files to.
func (c *Config) CombinedSearchPaths() string {
	var parts []string
	for _, dir := range c.DebugInfoDirectories {
		if dir = strings.TrimSpace(dir); dir != "" {
			parts = append(parts, dir)
		}
	}
	if p := strings.TrimSpace(c.SymbolSearchPaths); p != "" {
		parts = append(parts, p)
	}
	if c.SymbolCacheDir != "" && !strings.Contains(strings.ToLower(c.SymbolSearchPaths), "cache*") {
		parts = append([]string{"cache*" + c.SymbolCacheDir}, parts...)
	}
	return strings.Join(parts, ";")
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}
	return LoadConfigFile(fullConfigFile)
}

// LoadConfigFile reads the configuration stored at path, writing the
// default configuration there first if the file does not exist.
func LoadConfigFile(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		f, err = createDefaultConfig(path)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	c, err := Decode(f)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

// Decode reads a YAML configuration from r.
func Decode(r io.Reader) (*Config, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return SaveConfigFile(fullConfigFile, conf)
}

// SaveConfigFile writes conf to path, replacing its contents.
func SaveConfigFile(path string, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the dbgcore debug engine.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Symbol search path, same syntax as _NT_SYMBOL_PATH. Entries are separated
# by ';'. Examples:
#   /opt/debug                          flat directory
#   cache*/home/me/.cache/symbols       cache for downloaded files
#   srv*/home/me/symcache*https://host  symbol server
# symbol-search-paths: ""

# Cache used by HTTP stores that have no cache of their own.
# symbol-cache-dir: ""

# Search symbol stores when symbols are loaded implicitly at attach time.
# use-symbol-stores: true

# Only load symbols for modules in symbol-include-list.
# manual-symbol-loading: false
# symbol-include-list: ["libmygame*.so"]
# symbol-exclude-list: ["libnvidia*"]

# Hosts that HTTP stores never contact.
# http-host-exclude-list: []

# connect-timeout: 60s
# connect-retry-delay: 500ms

# List of directories to use when searching for separate debug info files.
debug-info-directories: ["/usr/lib/debug/.build-id"]
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
