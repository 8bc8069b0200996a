// Package launcher establishes debug sessions: it connects the backend to
// the remote debug server, finds the process to debug and attaches to it,
// or loads a core file.
package launcher

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cosiner/argv"
	"github.com/google/uuid"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfutil"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/events"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symbols"
)

// Option selects how the session is established.
type Option int

const (
	// AttachToProcess attaches to Config.PID.
	AttachToProcess Option = iota
	// LaunchAndAttach waits for Config.ExecutableName to show up on the
	// remote machine and attaches to it.
	LaunchAndAttach
	// AttachToCore loads Config.CoreFile.
	AttachToCore
)

func (o Option) String() string {
	switch o {
	case AttachToProcess:
		return "attach"
	case LaunchAndAttach:
		return "launch"
	case AttachToCore:
		return "core"
	}
	return fmt.Sprintf("Option(%d)", int(o))
}

const (
	DefaultConnectTimeout = 60 * time.Second
	DefaultRetryDelay     = 500 * time.Millisecond
)

// Config describes a debug session to establish.
type Config struct {
	Option Option

	// ConnectURL is the address of the remote debug server.
	ConnectURL string
	// PID is the process to attach to with AttachToProcess.
	PID uint64
	// ExecutableName is the file name of the process to wait for with
	// LaunchAndAttach.
	ExecutableName string
	// CoreFile is the core file to load with AttachToCore. Full dumps
	// (".core" files) have their modules preloaded from the symbol stores.
	CoreFile string

	// ConnectTimeout bounds the time spent connecting and looking for the
	// process, counted from the start of Launch. RetryDelay is the wait
	// between attempts.
	ConnectTimeout time.Duration
	RetryDelay     time.Duration

	// Progress, if set, receives the messages to show while attaching.
	// It is called on the listener goroutine for file transfers.
	Progress func(msg string)

	// ShouldAttachToInconsistentCore is asked whether to go on when the
	// modules of a full dump could not all be read. Nil means go on.
	ShouldAttachToInconsistentCore func(w elfutil.CoreWarning) bool

	// Finder and SearchLogs are used to preload the modules of full
	// dumps. Finder must be set for AttachToCore.
	Finder     symbols.Finder
	SearchLogs *symbols.SearchLogHolder
	// Recorder, if set, records the modules loaded by the attach.
	Recorder symbols.MetricsRecorder

	// ReadCoreModules defaults to elfutil.ReadCoreModules.
	ReadCoreModules func(path string) elfutil.CoreModules
}

// AttachSession holds the backend objects of an established session.
type AttachSession struct {
	ID         uuid.UUID
	Debugger   backend.Debugger
	Platform   backend.Platform
	Target     backend.Target
	Listener   backend.Listener
	Subscriber *events.ListenerSubscriber
	Process    backend.Process
	// PID is 0 for core files.
	PID          uint64
	IsCoreAttach bool
}

// Launch establishes the session described by conf. It returns an
// *AttachError if the session could not be established, ctx.Err() if ctx
// was cancelled and ErrCoreAttachStopped if the user declined to debug an
// inconsistent core file.
//
// The listener of the session is running when Launch returns, on failure
// it is stopped.
func Launch(ctx context.Context, dbg backend.Debugger, conf Config) (*AttachSession, error) {
	l := &launch{
		ctx:   ctx,
		dbg:   dbg,
		conf:  conf,
		start: time.Now(),
		log:   logflags.LauncherLogger(),
	}
	if l.conf.ReadCoreModules == nil {
		l.conf.ReadCoreModules = elfutil.ReadCoreModules
	}
	if l.conf.ConnectTimeout <= 0 {
		l.conf.ConnectTimeout = DefaultConnectTimeout
	}
	if l.conf.RetryDelay <= 0 {
		l.conf.RetryDelay = DefaultRetryDelay
	}
	s, err := l.run()
	if err != nil {
		l.log.Errorf("attach failed: %v", err)
		return nil, err
	}
	l.log.WithField("session", s.ID.String()).Infof("attached, pid %d, core %v", s.PID, s.IsCoreAttach)
	return s, nil
}

type launch struct {
	ctx   context.Context
	dbg   backend.Debugger
	conf  Config
	start time.Time
	log   logflags.Logger
}

func (l *launch) progress(msg string) {
	if l.conf.Progress != nil {
		l.conf.Progress(msg)
	}
}

func (l *launch) run() (_ *AttachSession, err error) {
	s := &AttachSession{ID: uuid.New(), Debugger: l.dbg, IsCoreAttach: l.conf.Option == AttachToCore}

	s.Platform = l.dbg.CreatePlatform()
	if s.Platform == nil {
		return nil, fail(msgFailedToCreatePlatform)
	}
	switch l.conf.Option {
	case AttachToProcess, LaunchAndAttach:
		if err := l.ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.connect(s.Platform); err != nil {
			return nil, err
		}
	case AttachToCore:
		// Core files are loaded by the local platform.
	default:
		return nil, abort(fmt.Sprintf(msgInvalidLaunchOption, l.conf.Option), nil)
	}
	l.dbg.SetSelectedPlatform(s.Platform)

	if err := l.ctx.Err(); err != nil {
		return nil, err
	}
	l.progress(msgAttaching)

	s.Target = l.dbg.Target()
	if s.Target == nil {
		return nil, abort(msgFailedToCreateTarget, nil)
	}
	s.Listener = l.dbg.CreateListener("dbgcore listener")
	if s.Listener == nil {
		return nil, abort(msgFailedToCreateListener, nil)
	}

	s.Subscriber = events.NewListenerSubscriber(s.Listener)
	unsubscribe := s.Subscriber.Subscribe(events.Handlers{
		FileUpdate: func(u events.FileUpdate) {
			if msg := u.ProgressMessage(); msg != "" {
				l.progress(msg)
			}
		},
	})
	s.Subscriber.Start()
	defer func() {
		unsubscribe()
		if err != nil {
			s.Subscriber.Stop()
		}
	}()

	if s.IsCoreAttach {
		s.Process, err = l.loadCore(s.Target)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	switch l.conf.Option {
	case AttachToProcess:
		if l.conf.PID == 0 {
			return nil, abort(msgFailedToRetrieveProcessID, nil)
		}
		s.PID = l.conf.PID
	case LaunchAndAttach:
		s.PID, err = l.waitForProcess(s.Platform)
		if err != nil {
			return nil, err
		}
	}

	l.log.Debugf("attaching to pid %d", s.PID)
	l.recordBefore()
	s.Process, err = s.Target.AttachToProcessWithID(s.Listener, s.PID)
	if err != nil {
		return nil, abort(attachErrorDetails(err, s.Platform, s.PID), err)
	}
	l.recordAfter(s.Target)
	return s, nil
}

func (l *launch) connect(p backend.Platform) error {
	l.log.Debugf("connecting to %s", l.conf.ConnectURL)
	l.progress(msgConnecting)
	err := retryWithTimeout(l.ctx, func() bool {
		err := p.ConnectRemote(l.conf.ConnectURL)
		if err != nil {
			l.log.Debugf("connect failed: %v", err)
		}
		return err == nil
	}, l.conf.RetryDelay, l.conf.ConnectTimeout, l.start)
	switch err.(type) {
	case nil:
		l.log.Debug("debugger connected")
		return nil
	case *timeoutError:
		return abort(fmt.Sprintf(msgFailedToConnectDebugger, l.conf.ConnectURL), err)
	}
	return err
}

// waitForProcess polls the remote machine until exactly one process runs
// the executable. The process may not have started yet when the session is
// established.
func (l *launch) waitForProcess(p backend.Platform) (uint64, error) {
	cmd, err := pidofCommand(l.conf.ExecutableName)
	if err != nil {
		return 0, abort(fmt.Sprintf(msgInvalidExecutableName, l.conf.ExecutableName), err)
	}
	var pid uint64
	err = retryWithTimeout(l.ctx, func() bool {
		var ok bool
		pid, ok = remoteProcessID(p, cmd, l.conf.ExecutableName)
		return ok
	}, l.conf.RetryDelay, l.conf.ConnectTimeout, l.start)
	switch err.(type) {
	case nil:
		return pid, nil
	case *timeoutError:
		return 0, abort(msgFailedToRetrieveProcessID, err)
	}
	return 0, err
}

// pidofCommand returns the command listing the pids of the processes
// running executable. The name has to survive the platform shell as a
// single argument.
func pidofCommand(executable string) (string, error) {
	if strings.TrimSpace(executable) == "" {
		return "", fmt.Errorf("empty executable name")
	}
	cmd := "pidof " + backend.QuoteArgument(executable)
	sections, err := argv.Argv(cmd, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not allowed in %q", s)
	}, nil)
	if err != nil {
		return "", err
	}
	if len(sections) != 1 || len(sections[0]) != 2 || sections[0][1] != executable {
		return "", fmt.Errorf("%q is not a single shell argument", executable)
	}
	return cmd, nil
}

// ProcessID returns the pid of the only process running executable on p.
func ProcessID(p backend.Platform, executable string) (uint64, error) {
	cmd, err := pidofCommand(executable)
	if err != nil {
		return 0, err
	}
	pid, ok := remoteProcessID(p, cmd, executable)
	if !ok {
		return 0, fmt.Errorf("no single process is running %s", executable)
	}
	return pid, nil
}

func remoteProcessID(p backend.Platform, cmd, executable string) (uint64, bool) {
	log := logflags.LauncherLogger()
	out, err := p.Run(cmd)
	if err != nil {
		log.Debugf("Unable to find process: %v", err)
		return 0, false
	}
	pids := strings.Fields(out)
	switch {
	case len(pids) == 0:
		log.Debugf("Unable to find process '%s'", executable)
		return 0, false
	case len(pids) > 1:
		log.Debugf("Unable to select process, multiple instances of '%s' are running", executable)
		return 0, false
	}
	pid, err := strconv.ParseUint(pids[0], 10, 32)
	if err != nil {
		log.Debugf("Unable to convert pid '%s' to int", pids[0])
		return 0, false
	}
	return pid, true
}

func (l *launch) recordBefore() {
	if l.conf.Recorder != nil {
		l.conf.Recorder.RecordBeforeLoad(&symbols.LoadSymbolData{})
	}
}

func (l *launch) recordAfter(t backend.Target) {
	if l.conf.Recorder == nil {
		return
	}
	modules := symbols.TargetModules(t)
	withSymbols, withBinary := symbols.CountLoaded(modules)
	l.conf.Recorder.RecordAfterLoad(&symbols.LoadSymbolData{
		ModulesCount:                       len(modules),
		ModulesAfterCount:                  len(modules),
		ModulesWithSymbolsLoadedAfterCount: withSymbols,
		BinariesLoadedAfterCount:           withBinary,
	})
}

func (l *launch) loadCore(t backend.Target) (backend.Process, error) {
	l.recordBefore()
	if strings.HasSuffix(l.conf.CoreFile, ".core") {
		if err := l.preloadCoreModules(t); err != nil {
			return nil, err
		}
	}
	p := t.LoadCore(l.conf.CoreFile)
	if p == nil {
		return nil, abort(fmt.Sprintf(msgFailedToLoadCore, l.conf.CoreFile), nil)
	}
	l.recordAfter(t)
	return p, nil
}

// preloadCoreModules adds the modules of a full dump to the target before
// the core is loaded, so the backend doesn't look for them on its own.
// Libraries are only preloaded if every executable was: otherwise the
// backend would not upgrade its image list and would look for the
// executable on the local machine.
func (l *launch) preloadCoreModules(t backend.Target) error {
	dump := l.conf.ReadCoreModules(l.conf.CoreFile)
	var executables, libraries []elfutil.CoreModule
	for _, m := range dump.Modules {
		if m.IsExecutable {
			executables = append(executables, m)
		} else {
			libraries = append(libraries, m)
		}
	}

	if l.conf.Finder != nil && len(executables) > 0 {
		all := true
		for _, m := range executables {
			if !l.preloadModule(t, m) {
				all = false
				break
			}
		}
		if all {
			for _, m := range libraries {
				l.preloadModule(t, m)
			}
		}
	}

	warning := dump.Warning
	if warning == elfutil.CoreOK && len(executables) == 0 {
		warning = elfutil.CoreExecutableBuildIDMissing
	}
	if warning != elfutil.CoreOK {
		l.log.Warnf("core file %s: %v", l.conf.CoreFile, warning)
		if f := l.conf.ShouldAttachToInconsistentCore; f != nil && !f(warning) {
			return ErrCoreAttachStopped
		}
	}
	return nil
}

func (l *launch) preloadModule(t backend.Target, m elfutil.CoreModule) bool {
	dir, name := path.Split(m.Path)
	dir = strings.TrimSuffix(dir, "/")
	var searchLog strings.Builder
	local, ok := l.conf.Finder.FindFile(l.ctx, name, m.BuildID, false, &searchLog, false)
	if !ok {
		return false
	}
	mod := t.AddModule(local, "", m.BuildID.String())
	l.log.Debugf("full dump load: found module %s with id %s at %s, preloaded: %v", name, m.BuildID, local, mod != nil)
	if mod == nil || !mod.SetPlatformFileSpec(backend.FileSpec{Directory: dir, Filename: name}) {
		return false
	}
	if l.conf.SearchLogs != nil {
		l.conf.SearchLogs.Append(mod, searchLog.String())
	}
	return true
}

var (
	tracerPidRegex = regexp.MustCompile(`[\r\n]TracerPid:\W*([0-9]+)[\r\n]`)
	parentPidRegex = regexp.MustCompile(`[\r\n]PPid:\W*([0-9]+)[\r\n]`)
)

// attachErrorDetails explains a failed attach. When the process is
// already traced the tracer is looked up through /proc on the remote
// machine.
func attachErrorDetails(err error, p backend.Platform, pid uint64) string {
	msg := fmt.Sprintf(msgFailedToAttach, err.Error())
	if p == nil || err.Error() != backendMsgAlreadyTraced {
		return msg
	}

	status, runErr := p.Run(fmt.Sprintf("cat /proc/%d/status", pid))
	if runErr != nil || status == "" {
		return msg
	}
	tracer := tracerPidRegex.FindStringSubmatch(status)
	parent := parentPidRegex.FindStringSubmatch(status)
	if tracer == nil || parent == nil {
		return msg
	}
	switch tracer[1] {
	case "0":
		return msg
	case parent[1]:
		return msgFailedToAttachSelfTrace
	}

	comm, runErr := p.Run(fmt.Sprintf("cat /proc/%s/comm", tracer[1]))
	if runErr != nil || comm == "" {
		return msg
	}
	name := strings.SplitN(comm, "\n", 2)[0]
	name = strings.TrimRight(name, "\r")
	if name == "" {
		name = unknownTracerName
	}
	return fmt.Sprintf(msgFailedToAttachOtherTracer, name, tracer[1])
}
