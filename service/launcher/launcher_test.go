package launcher

import (
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend/backendtest"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfutil"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfwriter"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symbols"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symstore"
)

const testURL = "connect://localhost:44444"

func remoteConfig(opt Option) Config {
	return Config{
		Option:         opt,
		ConnectURL:     testURL,
		ConnectTimeout: 200 * time.Millisecond,
		RetryDelay:     time.Millisecond,
	}
}

func stop(s *AttachSession) {
	if s != nil && s.Subscriber != nil {
		s.Subscriber.Stop()
	}
}

func assertAttachError(t *testing.T, err error, code ErrorCode, msg string) {
	t.Helper()
	var attachErr *AttachError
	if !errors.As(err, &attachErr) {
		t.Fatalf("expected *AttachError, got %#v", err)
	}
	if attachErr.Code != code || !strings.Contains(attachErr.Message, msg) {
		t.Fatalf("expected %v %q, got %v %q", code, msg, attachErr.Code, attachErr.Message)
	}
}

func TestLaunchAttachToProcess(t *testing.T) {
	dbg := backendtest.NewDebugger()
	dbg.PlatformV.ConnectFailures = 2
	recorder := &symbols.LogMetricsRecorder{}

	conf := remoteConfig(AttachToProcess)
	conf.PID = 42
	conf.Recorder = recorder
	var progress []string
	conf.Progress = func(msg string) { progress = append(progress, msg) }

	s, err := Launch(context.Background(), dbg, conf)
	if err != nil {
		t.Fatal(err)
	}
	defer stop(s)

	if dbg.PlatformV.ConnectCalls != 3 || dbg.PlatformV.ConnectedURL != testURL {
		t.Fatalf("expected 3 connect calls to %s, got %d to %q", testURL, dbg.PlatformV.ConnectCalls, dbg.PlatformV.ConnectedURL)
	}
	if dbg.SelectedPlat != backend.Platform(dbg.PlatformV) {
		t.Fatal("platform not selected")
	}
	if dbg.TargetV.AttachedTo != 42 || s.PID != 42 || s.Process == nil {
		t.Fatalf("expected attach to 42, got %d", dbg.TargetV.AttachedTo)
	}
	if s.IsCoreAttach {
		t.Fatal("unexpected core attach")
	}
	if !s.Subscriber.IsRunning() {
		t.Fatal("listener not running")
	}
	if len(progress) != 2 || progress[0] != msgConnecting || progress[1] != msgAttaching {
		t.Fatalf("unexpected progress %q", progress)
	}
	if recorder.After.ModulesCount != 0 {
		t.Fatalf("unexpected module count %d", recorder.After.ModulesCount)
	}
}

func TestLaunchAttachWithoutPID(t *testing.T) {
	_, err := Launch(context.Background(), backendtest.NewDebugger(), remoteConfig(AttachToProcess))
	assertAttachError(t, err, CodeAbort, msgFailedToRetrieveProcessID)
}

func TestLaunchConnectTimeout(t *testing.T) {
	dbg := backendtest.NewDebugger()
	dbg.PlatformV.ConnectFailures = -1
	conf := remoteConfig(AttachToProcess)
	conf.PID = 42
	conf.ConnectTimeout = 20 * time.Millisecond

	_, err := Launch(context.Background(), dbg, conf)
	assertAttachError(t, err, CodeAbort, testURL)
	var timeout *timeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected a timeout cause, got %v", errors.Unwrap(err))
	}
	if dbg.PlatformV.ConnectCalls < 2 {
		t.Fatalf("expected retries, got %d calls", dbg.PlatformV.ConnectCalls)
	}
	if dbg.TargetV.AttachedTo != 0 {
		t.Fatal("attached without a connection")
	}
}

func TestLaunchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conf := remoteConfig(AttachToProcess)
	conf.PID = 42
	_, err := Launch(ctx, backendtest.NewDebugger(), conf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var attachErr *AttachError
	if errors.As(err, &attachErr) {
		t.Fatal("cancellation reported as an attach error")
	}
}

func TestLaunchCancelledWhileRetrying(t *testing.T) {
	dbg := backendtest.NewDebugger()
	dbg.PlatformV.ConnectFailures = -1
	ctx, cancel := context.WithCancel(context.Background())
	conf := remoteConfig(AttachToProcess)
	conf.PID = 42
	conf.ConnectTimeout = time.Minute
	conf.RetryDelay = 10 * time.Millisecond
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := Launch(ctx, dbg, conf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLaunchWaitsForProcess(t *testing.T) {
	dbg := backendtest.NewDebugger()
	var mu sync.Mutex
	calls := 0
	dbg.PlatformV.RunFunc = func(command string) (string, error) {
		if command != `pidof "game"` {
			return "", fmt.Errorf("unexpected command %s", command)
		}
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			return "", errors.New("pidof failed")
		case 2:
			return "\n", nil
		}
		return "1234\n", nil
	}
	conf := remoteConfig(LaunchAndAttach)
	conf.ExecutableName = "game"

	s, err := Launch(context.Background(), dbg, conf)
	if err != nil {
		t.Fatal(err)
	}
	defer stop(s)
	if s.PID != 1234 || dbg.TargetV.AttachedTo != 1234 {
		t.Fatalf("expected pid 1234, got %d", s.PID)
	}
	if calls != 3 {
		t.Fatalf("expected 3 pidof calls, got %d", calls)
	}
}

func TestLaunchMultipleProcesses(t *testing.T) {
	dbg := backendtest.NewDebugger()
	dbg.PlatformV.Outputs[`pidof "game"`] = "1234 1235\n"
	conf := remoteConfig(LaunchAndAttach)
	conf.ExecutableName = "game"
	conf.ConnectTimeout = 20 * time.Millisecond

	_, err := Launch(context.Background(), dbg, conf)
	assertAttachError(t, err, CodeAbort, msgFailedToRetrieveProcessID)
}

func TestLaunchMissingBackendObjects(t *testing.T) {
	dbg := backendtest.NewDebugger()
	dbg.NoPlatform = true
	conf := remoteConfig(AttachToProcess)
	conf.PID = 1
	_, err := Launch(context.Background(), dbg, conf)
	assertAttachError(t, err, CodeFail, msgFailedToCreatePlatform)

	dbg = backendtest.NewDebugger()
	dbg.NoListener = true
	_, err = Launch(context.Background(), dbg, conf)
	assertAttachError(t, err, CodeAbort, msgFailedToCreateListener)
}

func TestLaunchAttachFailure(t *testing.T) {
	tests := []struct {
		name    string
		attach  string
		outputs map[string]string
		msg     string
	}{
		{
			name:   "generic",
			attach: "lost connection",
			msg:    "Failed to attach to the process: lost connection",
		},
		{
			name:    "not traced",
			attach:  "Operation not permitted",
			outputs: map[string]string{"cat /proc/42/status": "Name:\tgame\nPPid:\t1\nTracerPid:\t0\nUid:\t0\n"},
			msg:     "Failed to attach to the process: Operation not permitted",
		},
		{
			name:    "self trace",
			attach:  "Operation not permitted",
			outputs: map[string]string{"cat /proc/42/status": "Name:\tgame\nPPid:\t7\nTracerPid:\t7\nUid:\t0\n"},
			msg:     msgFailedToAttachSelfTrace,
		},
		{
			name:   "other tracer",
			attach: "Operation not permitted",
			outputs: map[string]string{
				"cat /proc/42/status": "Name:\tgame\nPPid:\t1\nTracerPid:\t99\nUid:\t0\n",
				"cat /proc/99/comm":   "gdb\n",
			},
			msg: "already traced by gdb (pid 99)",
		},
		{
			name:    "status unavailable",
			attach:  "Operation not permitted",
			outputs: map[string]string{},
			msg:     "Failed to attach to the process: Operation not permitted",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbg := backendtest.NewDebugger()
			dbg.TargetV.AttachErr = errors.New(tt.attach)
			if tt.outputs != nil {
				dbg.PlatformV.Outputs = tt.outputs
			}
			conf := remoteConfig(AttachToProcess)
			conf.PID = 42
			_, err := Launch(context.Background(), dbg, conf)
			assertAttachError(t, err, CodeAbort, tt.msg)
		})
	}
}

func TestPidofCommand(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		ok       bool
	}{
		{"game", `pidof "game"`, true},
		{"my game", `pidof "my game"`, true},
		{"", "", false},
		{"  ", "", false},
	}
	for _, tt := range tests {
		cmd, err := pidofCommand(tt.name)
		if (err == nil) != tt.ok || cmd != tt.expected {
			t.Fatalf("%q: expected %q (ok %v), got %q (%v)", tt.name, tt.expected, tt.ok, cmd, err)
		}
	}
}

var testBuildID = buildid.FromBytes([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c})

func coreConfig(t *testing.T, dir, core string, dump elfutil.CoreModules) Config {
	t.Helper()
	finder := symbols.NewFileFinder(&symstore.Parser{Reader: elfutil.Reader{}})
	finder.SetSearchPaths(dir)
	return Config{
		Option:          AttachToCore,
		CoreFile:        core,
		Finder:          finder,
		SearchLogs:      symbols.NewSearchLogHolder(),
		ReadCoreModules: func(string) elfutil.CoreModules { return dump },
	}
}

func TestLaunchFullCoreDump(t *testing.T) {
	dir := t.TempDir()
	if err := elfwriter.WriteModule(filepath.Join(dir, "game"), elfwriter.Module{Type: elf.ET_EXEC, BuildID: testBuildID.Bytes(), TextAddr: 0x401000}); err != nil {
		t.Fatal(err)
	}
	const core = "/tmp/crash.core"
	dbg := backendtest.NewDebugger()
	dbg.TargetV.Cores[core] = backendtest.NewProcess(0)

	conf := coreConfig(t, dir, core, elfutil.CoreModules{
		Modules: []elfutil.CoreModule{{Path: "/srv/game/game", BuildID: testBuildID, IsExecutable: true}},
	})
	s, err := Launch(context.Background(), dbg, conf)
	if err != nil {
		t.Fatal(err)
	}
	defer stop(s)

	if !s.IsCoreAttach || s.PID != 0 || dbg.TargetV.LoadedCore != core {
		t.Fatalf("core not loaded: %#v", s)
	}
	if dbg.PlatformV.ConnectCalls != 0 {
		t.Fatal("core attach connected to a remote platform")
	}
	m := dbg.TargetV.FindModule("/srv/game/game")
	if m == nil {
		t.Fatalf("executable not preloaded, modules: %v", dbg.TargetV.ModuleIDs())
	}
	if m.BuildID != testBuildID.String() {
		t.Fatalf("expected uuid %s, got %s", testBuildID, m.BuildID)
	}
	if log := conf.SearchLogs.Get(m); !strings.Contains(log, "Searching for 'game'") {
		t.Fatalf("unexpected search log %q", log)
	}
}

func TestLaunchCoreDumpWithoutExecutable(t *testing.T) {
	const core = "/tmp/crash.core"
	var warnings []elfutil.CoreWarning
	attach := false
	newConf := func() Config {
		conf := coreConfig(t, t.TempDir(), core, elfutil.CoreModules{
			Modules: []elfutil.CoreModule{{Path: "/lib/libc.so.6", BuildID: testBuildID}},
		})
		conf.ShouldAttachToInconsistentCore = func(w elfutil.CoreWarning) bool {
			warnings = append(warnings, w)
			return attach
		}
		return conf
	}

	dbg := backendtest.NewDebugger()
	dbg.TargetV.Cores[core] = backendtest.NewProcess(0)
	_, err := Launch(context.Background(), dbg, newConf())
	if err != ErrCoreAttachStopped {
		t.Fatalf("expected ErrCoreAttachStopped, got %v", err)
	}
	if len(warnings) != 1 || warnings[0] != elfutil.CoreExecutableBuildIDMissing {
		t.Fatalf("unexpected warnings %v", warnings)
	}
	if dbg.TargetV.LoadedCore != "" {
		t.Fatal("core loaded after the user declined")
	}
	if len(dbg.TargetV.Modules) != 0 {
		t.Fatal("libraries preloaded without executable")
	}

	attach = true
	s, err := Launch(context.Background(), dbg, newConf())
	if err != nil {
		t.Fatal(err)
	}
	stop(s)
}

func TestLaunchCoreLoadFailure(t *testing.T) {
	dbg := backendtest.NewDebugger()
	conf := coreConfig(t, t.TempDir(), "/tmp/minidump.dmp", elfutil.CoreModules{})
	conf.ReadCoreModules = func(string) elfutil.CoreModules {
		t.Fatal("modules of a minidump read")
		return elfutil.CoreModules{}
	}
	_, err := Launch(context.Background(), dbg, conf)
	assertAttachError(t, err, CodeAbort, "Failed to load the core file /tmp/minidump.dmp.")
}

func TestRetryWithTimeout(t *testing.T) {
	calls := 0
	err := retryWithTimeout(context.Background(), func() bool {
		calls++
		return calls == 3
	}, time.Millisecond, time.Second, time.Now())
	if err != nil || calls != 3 {
		t.Fatalf("expected 3 calls and no error, got %d, %v", calls, err)
	}

	calls = 0
	err = retryWithTimeout(context.Background(), func() bool {
		calls++
		return false
	}, time.Millisecond, time.Second, time.Now().Add(-time.Hour))
	if _, ok := err.(*timeoutError); !ok || calls != 1 {
		t.Fatalf("expected a timeout after one call, got %d, %v", calls, err)
	}
}
