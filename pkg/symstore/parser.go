package symstore

import (
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// Parser builds store sequences from search path strings.
//
// The syntax follows _NT_SYMBOL_PATH: elements are separated by ';' and
// each element is one of
//
//	srv*<store>*...*<store>           symbol server
//	symsrv*symsrv.dll*<store>*...     same as srv*
//	cache*<store>*...                 symbol server used as a cache
//	debuginfod[*<url> <url>...]       debuginfod client
//	<http(s) url>                     HTTP symbol server
//	<dir>                             structured store if it holds pingme.txt,
//	                                  flat directory otherwise
//
// Empty stores inside srv* and cache* elements stand for DefaultStorePath
// and DefaultCachePath. HTTP stores without a cache before them get
// DefaultCachePath as their cache.
type Parser struct {
	DefaultCachePath string
	DefaultStorePath string
	// HostExcludeList lists hosts HTTP stores are never created for.
	HostExcludeList []string
	Client          *http.Client
	Limiter         *rate.Limiter
	Reader          BuildIDReader
}

// Parse parses symbolPaths, elements that can not be used are skipped.
func (p *Parser) Parse(symbolPaths string) *Sequence {
	log := logflags.SymbolsLogger()
	log.Debugf("Parsing symbol paths: '%s'", symbolPaths)

	seq := NewSequence(p.Reader)
	for _, element := range strings.Split(symbolPaths, ";") {
		if element == "" {
			continue
		}
		components := strings.Split(element, "*")
		keyword := strings.ToLower(components[0])
		switch {
		case len(components) > 2 && keyword == "symsrv":
			if strings.EqualFold(components[1], "symsrv.dll") {
				p.addServer(seq, components[2:], p.DefaultStorePath, false)
			} else {
				log.Warn(msgUnsupportedSymbolServer(components[1]))
			}
		case len(components) > 1 && keyword == "srv":
			p.addServer(seq, components[1:], p.DefaultStorePath, false)
		case len(components) > 1 && keyword == "cache":
			p.addServer(seq, components[1:], p.DefaultCachePath, true)
		case keyword == "debuginfod":
			seq.AddStore(NewDebuginfodStore(strings.Join(components[1:], " ")))
		case IsHTTPStore(element):
			srv := NewServer(false)
			if p.tryAddHTTPStore(srv, element, seq.HasCache()) {
				seq.AddStore(srv)
			}
		case IsStructuredStore(element):
			seq.AddStore(NewStructuredStore(element, false))
		default:
			seq.AddStore(NewFlatStore(element, p.Reader))
		}
	}

	log.Debugf("Symbol path parsing result: %s", seq)
	return seq
}

func (p *Parser) addServer(seq *Sequence, paths []string, defaultPath string, isCache bool) {
	log := logflags.SymbolsLogger()
	srv := NewServer(isCache)
	for i, path := range paths {
		switch {
		case IsHTTPStore(path):
			hasDownstreamCache := seq.HasCache() || !srv.IsEmpty()
			if !p.tryAddHTTPStore(srv, path, hasDownstreamCache) {
				continue
			}
			if isCache {
				log.Warnf("'%s' is being used as a symbol cache, but caching symbols in HTTP symbol stores is not supported.", path)
			} else if i != len(paths)-1 {
				log.Warnf("'%s' is being used as a downstream store, but copying symbols to HTTP symbol stores is not supported.", path)
			}
		case path != "":
			srv.AddStore(NewStructuredStore(path, false))
		case defaultPath != "":
			srv.AddStore(NewStructuredStore(defaultPath, false))
		}
	}
	seq.AddStore(srv)
}

func (p *Parser) excludedHost(host string) bool {
	for _, h := range p.HostExcludeList {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

func (p *Parser) tryAddHTTPStore(srv *Server, path string, hasDownstreamCache bool) bool {
	store := NewHTTPStore(path, p.Client, p.Limiter)
	if p.excludedHost(store.Host()) {
		logflags.SymbolsLogger().Infof("Skipped parsing http store '%s' due to host excludelist.", path)
		return false
	}
	if !hasDownstreamCache && !p.tryAddDefaultCache(srv, path) {
		return false
	}
	srv.AddStore(store)
	return true
}

func (p *Parser) tryAddDefaultCache(srv *Server, upstream string) bool {
	log := logflags.SymbolsLogger()
	if p.DefaultCachePath == "" {
		log.Warnf("'%s' must be cached, but no downstream cache exists and no default cache path has been provided.", upstream)
		return false
	}
	srv.AddStore(NewStructuredStore(p.DefaultCachePath, false))
	log.Debugf("Automatically added default cache as '%s' would not otherwise be cached.", upstream)
	return true
}
