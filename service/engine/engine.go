// Package engine ties the debug engine together: it establishes sessions
// through the launcher and owns the breakpoints, the module cache and the
// event manager of the session. Every IDE request and every backend event
// that touches session state runs on the engine Dispatcher.
package engine

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/breakpoint"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/config"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfutil"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/events"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/module"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symbols"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symstore"
	"github.com/googlestadia/vsi-lldb-sub002/service/launcher"
)

var (
	// ErrNoSession is returned by operations that need an attached
	// program.
	ErrNoSession = errors.New("no debug session")
	// ErrSessionActive is returned by Attach when a session is already
	// established.
	ErrSessionActive = errors.New("a debug session is already active")
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")
)

const msgSuggestSymbolStore = "Symbols of some important libraries could not be loaded. Enable use-symbol-stores in the configuration so they are looked up in the symbol stores."

// Sink receives what the IDE has to show. All of its methods are called on
// the dispatcher goroutine.
type Sink interface {
	breakpoint.Handler

	ModuleLoaded(info module.Info)
	ModuleUnloaded(info module.Info)
	Stopped(ev events.StopEvent)
	Exited(info events.ExitInfo)
	// Output shows a progress or diagnostic message.
	Output(msg string)
}

// Config provides the collaborators of an Engine.
type Config struct {
	// Settings defaults to an empty configuration.
	Settings *config.Config
	Backend  backend.Debugger
	// Sink defaults to a sink dropping everything.
	Sink Sink
	// Finder overrides the store search built from Settings.
	Finder symbols.Finder
}

// Engine is the IDE-facing side of the debugger. It can establish one
// session at a time.
type Engine struct {
	conf       Config
	log        logflags.Logger
	dispatcher *Dispatcher

	fileFinder *symbols.FileFinder
	finder     symbols.Finder
	searchLogs *symbols.SearchLogHolder
	recorder   *symbols.LogMetricsRecorder
	modules    *module.Cache

	terminationRequested atomic.Bool
	detachRequested      atomic.Bool

	// session and the fields after it are only accessed on the dispatcher.
	session     *launcher.AttachSession
	breakpoints *breakpoint.Manager
	events      *events.Manager
	loader      *symbols.ModuleFileLoader
	unsubscribe func()
	closed      bool
}

// New returns an engine for conf. The store search is configured from the
// search paths of conf.Settings.
func New(conf Config) *Engine {
	if conf.Settings == nil {
		conf.Settings = &config.Config{}
	}
	if conf.Sink == nil {
		conf.Sink = nopSink{}
	}
	e := &Engine{
		conf:       conf,
		log:        logflags.EngineLogger(),
		dispatcher: NewDispatcher(),
		searchLogs: symbols.NewSearchLogHolder(),
		modules:    module.NewCache(),
	}

	e.fileFinder = symbols.NewFileFinder(NewParser(conf.Settings))
	e.fileFinder.SetSearchPaths(conf.Settings.CombinedSearchPaths())
	e.finder = e.fileFinder
	if conf.Finder != nil {
		e.finder = conf.Finder
	}
	e.recorder = &symbols.LogMetricsRecorder{Finder: e.fileFinder}

	e.modules.Subscribe(e.onModuleEvent)
	return e
}

// NewParser returns the store parser configured by s.
func NewParser(s *config.Config) *symstore.Parser {
	p := &symstore.Parser{
		DefaultCachePath: s.SymbolCacheDir,
		DefaultStorePath: s.SymbolCacheDir,
		HostExcludeList:  s.HTTPHostExcludeList,
		Client:           &http.Client{Timeout: s.GetHTTPTimeout()},
		Reader:           elfutil.Reader{},
	}
	if s.HTTPRequestsPerSecond > 0 {
		p.Limiter = rate.NewLimiter(rate.Limit(s.HTTPRequestsPerSecond), 1)
	}
	return p
}

// SetSearchPaths replaces the symbol search paths of the configuration and
// rebuilds the store chain.
func (e *Engine) SetSearchPaths(paths string) {
	e.conf.Settings.SymbolSearchPaths = paths
	e.fileFinder.SetSearchPaths(e.conf.Settings.CombinedSearchPaths())
}

// MetricsRecorder returns the recorder of the last module file loads.
func (e *Engine) MetricsRecorder() *symbols.LogMetricsRecorder {
	return e.recorder
}

func (e *Engine) inclusion() *symbols.InclusionSettings {
	s := e.conf.Settings
	return &symbols.InclusionSettings{
		IsManualLoad: s.ManualSymbolLoading,
		ExcludeList:  s.SymbolExcludeList,
		IncludeList:  s.SymbolIncludeList,
	}
}

// call runs fn on the dispatcher and returns its error.
func (e *Engine) call(fn func() error) error {
	var err error
	if !e.dispatcher.Call(func() {
		if e.closed {
			err = ErrClosed
			return
		}
		err = fn()
	}) {
		return ErrClosed
	}
	return err
}

// output shows msg from any goroutine.
func (e *Engine) output(msg string) {
	e.dispatcher.Post(func() { e.conf.Sink.Output(msg) })
}

// Attach establishes the session described by conf and loads the files
// of the modules the program starts with. The store search, connect
// timeouts and progress reporting of conf default to the engine's own.
func (e *Engine) Attach(ctx context.Context, conf launcher.Config) error {
	if err := e.call(func() error {
		if e.session != nil {
			return ErrSessionActive
		}
		return nil
	}); err != nil {
		return err
	}

	if conf.Finder == nil {
		conf.Finder = e.finder
	}
	if conf.SearchLogs == nil {
		conf.SearchLogs = e.searchLogs
	}
	if conf.Recorder == nil {
		conf.Recorder = e.recorder
	}
	if conf.ConnectTimeout <= 0 {
		conf.ConnectTimeout = e.conf.Settings.GetConnectTimeout()
	}
	if conf.RetryDelay <= 0 {
		conf.RetryDelay = e.conf.Settings.GetConnectRetryDelay()
	}
	if conf.Progress == nil {
		conf.Progress = e.output
	}
	e.terminationRequested.Store(false)
	e.detachRequested.Store(false)

	s, err := launcher.Launch(ctx, e.conf.Backend, conf)
	if err != nil {
		return err
	}
	if err := e.call(func() error { return e.startSession(s) }); err != nil {
		s.Subscriber.Stop()
		return err
	}

	// A cancelled load leaves the program half symbolized, the session is
	// torn down so the attach can be retried.
	if _, err := e.loadModuleFiles(ctx, nil, e.inclusion(), e.conf.Settings.UseSymbolStores, false); err != nil {
		e.call(func() error {
			e.endSession()
			return nil
		})
		return err
	}
	return nil
}

func (e *Engine) startSession(s *launcher.AttachSession) error {
	if e.session != nil {
		return ErrSessionActive
	}
	log := e.log.WithField("session", s.ID.String())

	e.session = s
	e.breakpoints = breakpoint.NewManager(s.Target, e.conf.Sink)

	binaries := symbols.NewBinaryLoader(e.finder, s.Target)
	binaries.OnModuleReplaced(e.modules.Replace)
	symLoader := symbols.NewSymbolLoader(e.finder, elfutil.Reader{}, s.Debugger.CommandInterpreter())
	e.loader = symbols.NewModuleFileLoader(binaries, symLoader, e.searchLogs, s.IsCoreAttach, e.fileFinder.RemoteStoreUsed)
	e.loader.Progress = e.output

	e.events = events.NewManager(events.Config{
		Handler:     eventHandler{e},
		Breakpoints: e.breakpoints,
		Program:     e,
		Process:     s.Process,
		Subscriber:  s.Subscriber,
		Post:        e.dispatcher.Post,
	})
	e.unsubscribe = s.Subscriber.Subscribe(events.Handlers{
		BreakpointChanged: e.onBreakpointChanged,
	})
	e.events.StartListener()

	e.refreshModules()
	log.Info("session started")
	return nil
}

// endSession stops listening to the session and forgets it. The modules
// of the program are removed from the cache.
func (e *Engine) endSession() {
	if e.session == nil {
		return
	}
	e.events.StopListener()
	e.unsubscribe()
	e.log.WithField("session", e.session.ID.String()).Info("session ended")
	e.session = nil
	e.breakpoints = nil
	e.events = nil
	e.loader = nil
	e.unsubscribe = nil
	e.modules.RemoveAllExcept(nil)
}

// refreshModules syncs the module cache with the modules of the target.
func (e *Engine) refreshModules() {
	if e.session == nil {
		return
	}
	live := symbols.TargetModules(e.session.Target)
	e.modules.RemoveAllExcept(live)
	program := e.session.ID.String()
	for _, m := range live {
		e.modules.GetOrCreate(m, program)
	}
}

func (e *Engine) onModuleEvent(ev module.Event) {
	info := ev.Module.Info(e.inclusion())
	e.dispatcher.Post(func() {
		switch ev.Kind {
		case module.ModuleAdded:
			e.conf.Sink.ModuleLoaded(info)
		case module.ModuleRemoved:
			e.conf.Sink.ModuleUnloaded(info)
		}
	})
}

const locationChanges = backend.BreakpointLocationsAdded | backend.BreakpointLocationsRemoved | backend.BreakpointLocationsResolved

// onBreakpointChanged runs on the pump goroutine.
func (e *Engine) onBreakpointChanged(ev *backend.Event) {
	if ev.Breakpoint == nil || ev.Breakpoint.Type&locationChanges == 0 {
		return
	}
	id := ev.Breakpoint.BreakpointID
	e.dispatcher.Post(func() {
		if e.breakpoints == nil {
			return
		}
		if p, ok := e.breakpoints.PendingBreakpoint(id); ok {
			p.UpdateLocations()
		}
	})
}

// TerminationRequested reports whether Terminate was called for the
// current session.
func (e *Engine) TerminationRequested() bool { return e.terminationRequested.Load() }

// DetachRequested reports whether Detach was called for the current
// session.
func (e *Engine) DetachRequested() bool { return e.detachRequested.Load() }

// eventHandler receives the stops and exits of the session.
type eventHandler struct {
	e *Engine
}

// Stopped runs on the dispatcher.
func (h eventHandler) Stopped(ev events.StopEvent) {
	h.e.refreshModules()
	h.e.conf.Sink.Stopped(ev)
}

// Abort runs on the pump goroutine.
func (h eventHandler) Abort(info events.ExitInfo) {
	e := h.e
	if info.Err != nil {
		e.log.Errorf("session aborted: %v", info.Err)
	} else {
		e.log.Infof("session ended: %v", info.Reason)
	}
	e.dispatcher.Post(func() {
		e.endSession()
		e.conf.Sink.Exited(info)
	})
}

// Attached returns true while a session is established.
func (e *Engine) Attached() bool {
	return e.call(func() error {
		if e.session == nil {
			return ErrNoSession
		}
		return nil
	}) == nil
}

// withSession runs fn on the dispatcher if a session is established.
func (e *Engine) withSession(fn func(s *launcher.AttachSession) error) error {
	return e.call(func() error {
		if e.session == nil {
			return ErrNoSession
		}
		return fn(e.session)
	})
}

// Continue resumes the process.
func (e *Engine) Continue() error {
	return e.withSession(func(s *launcher.AttachSession) error {
		return s.Process.Continue()
	})
}

// Detach detaches from the process, the process keeps running. The end of
// the session is reported to the sink when the backend confirms it.
func (e *Engine) Detach() error {
	return e.withSession(func(s *launcher.AttachSession) error {
		e.detachRequested.Store(true)
		return s.Process.Detach()
	})
}

// Terminate kills the process. The end of the session is reported to the
// sink when the backend confirms it.
func (e *Engine) Terminate() error {
	return e.withSession(func(s *launcher.AttachSession) error {
		e.terminationRequested.Store(true)
		return s.Process.Kill()
	})
}

// ReadMemory reads size bytes at addr. It returns the bytes read before an
// error.
func (e *Engine) ReadMemory(addr uint64, size int) ([]byte, error) {
	var buf []byte
	err := e.withSession(func(s *launcher.AttachSession) error {
		buf = make([]byte, size)
		n, err := s.Process.ReadMemory(addr, buf)
		buf = buf[:n]
		return err
	})
	return buf, err
}

// Close ends the session without detaching or killing the process and
// releases the engine.
func (e *Engine) Close() {
	e.dispatcher.Call(func() {
		e.endSession()
		e.closed = true
	})
	e.dispatcher.Close()
	e.modules.Close()
}

type nopSink struct{}

func (nopSink) BreakpointBound(breakpoint.Pending) {}
func (nopSink) BoundBreakpointsAdded(*breakpoint.PendingBreakpoint, []*breakpoint.BoundBreakpoint) {}
func (nopSink) BreakpointError(breakpoint.Pending, *breakpoint.BindError) {}
func (nopSink) ModuleLoaded(module.Info) {}
func (nopSink) ModuleUnloaded(module.Info) {}
func (nopSink) Stopped(events.StopEvent) {}
func (nopSink) Exited(events.ExitInfo) {}
func (nopSink) Output(string) {}
