package symbols

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend/backendtest"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfutil"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfwriter"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symstore"
)

var testBuildID = []byte{0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}

func newFinder(t *testing.T, searchPaths string) *FileFinder {
	t.Helper()
	f := NewFileFinder(&symstore.Parser{Reader: elfutil.Reader{}})
	f.SetSearchPaths(searchPaths)
	return f
}

func writeModule(t *testing.T, path string, m elfwriter.Module) {
	t.Helper()
	if err := elfwriter.WriteModule(path, m); err != nil {
		t.Fatalf("could not write %s: %v", path, err)
	}
}

func TestLoadBinaryReplacesPlaceholder(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "libfoo.so")
	writeModule(t, binary, elfwriter.Module{BuildID: testBuildID, TextAddr: 0x401040})
	base, err := elfutil.FirstCodeSectionBase(binary)
	if err != nil {
		t.Fatal(err)
	}

	const loadAddress = 0x7f0000200000
	target := backendtest.NewTarget()
	uuid := buildid.FromBytes(testBuildID).String()
	placeholder := target.AppendModule(backendtest.NewPlaceholder(0, "/usr/lib/libfoo.so", uuid, loadAddress))

	loader := NewBinaryLoader(newFinder(t, dir), target)
	var events [][2]backend.Module
	loader.OnModuleReplaced(func(added, removed backend.Module) {
		events = append(events, [2]backend.Module{added, removed})
	})

	var log strings.Builder
	added, ok := loader.LoadBinary(context.Background(), placeholder, &log, false)
	if !ok {
		t.Fatalf("expected binary to be loaded, log:\n%s", log.String())
	}
	if added == backend.Module(placeholder) {
		t.Fatal("expected a new module")
	}
	if IsPlaceholderModule(added) || !HasBinaryLoaded(added) {
		t.Fatal("replacement is still a placeholder")
	}
	if added.UUID() != uuid || added.Triple() != placeholder.Triple() {
		t.Fatalf("expected uuid %s and triple %s, got %s and %s", uuid, placeholder.Triple(), added.UUID(), added.Triple())
	}
	if added.PlatformFileSpec() != placeholder.PlatformFileSpec() {
		t.Fatalf("expected %#v, got %#v", placeholder.PlatformFileSpec(), added.PlatformFileSpec())
	}
	if slide, expected := target.Slides[added.ID()], int64(loadAddress-base); slide != expected {
		t.Fatalf("expected slide %#x, got %#x", expected, slide)
	}
	if len(events) != 1 || events[0][0] != added || events[0][1] != backend.Module(placeholder) {
		t.Fatalf("expected one replacement event, got %d", len(events))
	}
	if ids := target.ModuleIDs(); len(ids) != 1 || ids[0] != added.ID() {
		t.Fatalf("expected only the new module in the target, got %v", ids)
	}
	if !strings.Contains(log.String(), "Binary loaded successfully.") {
		t.Fatalf("unexpected log:\n%s", log.String())
	}
}

func TestLoadBinaryNotFound(t *testing.T) {
	target := backendtest.NewTarget()
	placeholder := target.AppendModule(backendtest.NewPlaceholder(0, "/usr/lib/libfoo.so", buildid.FromBytes(testBuildID).String(), 0x7f0000200000))

	loader := NewBinaryLoader(newFinder(t, t.TempDir()), target)
	fired := false
	loader.OnModuleReplaced(func(added, removed backend.Module) { fired = true })

	var log strings.Builder
	m, ok := loader.LoadBinary(context.Background(), placeholder, &log, false)
	if ok || m != backend.Module(placeholder) {
		t.Fatal("expected the placeholder back")
	}
	if fired {
		t.Fatal("unexpected replacement event")
	}
	if len(target.RemovedModules) != 0 {
		t.Fatalf("placeholder removed: %v", target.RemovedModules)
	}
	if !strings.Contains(log.String(), "Failed to find file libfoo.so") {
		t.Fatalf("unexpected log:\n%s", log.String())
	}
}

func TestLoadBinarySwapFails(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, filepath.Join(dir, "libfoo.so"), elfwriter.Module{BuildID: testBuildID, TextAddr: 0x401040})
	uuid := buildid.FromBytes(testBuildID).String()

	tests := []struct {
		name  string
		setup func(target *backendtest.Target)
		log   string
	}{
		{"add module rejected", func(target *backendtest.Target) { target.RejectAddModule = true }, "Failed to load binary"},
		{"load address not set", func(target *backendtest.Target) { target.LoadAddressErr = errors.New("bad section") }, "Failed to set load address on destination module: bad section."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := backendtest.NewTarget()
			placeholder := target.AppendModule(backendtest.NewPlaceholder(0, "/usr/lib/libfoo.so", uuid, 0x7f0000200000))
			tt.setup(target)

			loader := NewBinaryLoader(newFinder(t, dir), target)
			fired := false
			loader.OnModuleReplaced(func(added, removed backend.Module) { fired = true })

			var log strings.Builder
			m, ok := loader.LoadBinary(context.Background(), placeholder, &log, false)
			if ok || m != backend.Module(placeholder) {
				t.Fatal("expected the placeholder back")
			}
			if fired {
				t.Fatal("unexpected replacement event")
			}
			if len(target.RemovedModules) != 1 || target.RemovedModules[0] != placeholder.ID() {
				t.Fatalf("expected the placeholder to be removed, got %v", target.RemovedModules)
			}
			if !strings.Contains(log.String(), tt.log) {
				t.Fatalf("expected %q in log:\n%s", tt.log, log.String())
			}
		})
	}
}

func TestLoadBinaryIgnoresLoadedModules(t *testing.T) {
	target := backendtest.NewTarget()
	m := target.AppendModule(&backendtest.Module{
		Platform: platformSpec("/usr/lib/libfoo.so"),
		Sections: []backend.Section{{Name: ".text"}, {Name: ".data"}},
	})
	loader := NewBinaryLoader(newFinder(t, t.TempDir()), target)
	out, ok := loader.LoadBinary(context.Background(), m, io.Discard, false)
	if ok || out != backend.Module(m) {
		t.Fatal("expected the module back unchanged")
	}

	unnamed := target.AppendModule(backendtest.NewPlaceholder(0, "/lib/x.so", "", 0x1000))
	unnamed.Platform = backend.FileSpec{}
	var log strings.Builder
	if _, ok := loader.LoadBinary(context.Background(), unnamed, &log, false); ok {
		t.Fatal("expected failure for unnamed module")
	}
	if !strings.Contains(log.String(), "Binary file name is unknown.") {
		t.Fatalf("unexpected log:\n%s", log.String())
	}
}

// loadedModule adds a module backed by the ELF file at p to target.
func loadedModule(target *backendtest.Target, p string, id []byte) *backendtest.Module {
	fs := platformSpec(p)
	return target.AppendModule(&backendtest.Module{
		File:         fs,
		Platform:     platformSpec("/usr/lib/" + fs.Filename),
		Symbols:      fs,
		BuildID:      buildid.FromBytes(id).String(),
		TripleString: "x86_64-unknown-linux-gnu",
		Sections:     []backend.Section{{Name: ".text"}, {Name: ".data"}},
	})
}

func TestLoadSymbolsFromDebugInfoDir(t *testing.T) {
	dir, debugDir := t.TempDir(), t.TempDir()
	binary := filepath.Join(dir, "libfoo.so")
	writeModule(t, binary, elfwriter.Module{BuildID: testBuildID, DebugLink: "libfoo.so.debug", DebugInfoDir: debugDir})
	debug := filepath.Join(debugDir, "libfoo.so.debug")
	writeModule(t, debug, elfwriter.Module{BuildID: testBuildID, DebugInfo: true})

	target := backendtest.NewTarget()
	m := loadedModule(target, binary, testBuildID)
	interp := &backendtest.Interpreter{Target: target}
	loader := NewSymbolLoader(newFinder(t, ""), elfutil.Reader{}, interp)

	var log strings.Builder
	if !loader.LoadSymbols(context.Background(), m, &log, false, false) {
		t.Fatalf("expected symbols to be loaded, log:\n%s", log.String())
	}
	expected := `target symbols add -s "/usr/lib/libfoo.so" "` + debug + `"`
	if len(interp.Commands) != 1 || interp.Commands[0] != expected {
		t.Fatalf("expected command %q, got %q", expected, interp.Commands)
	}
	if !HasSymbolsLoaded(m) || m.Symbols.Path() != debug {
		t.Fatalf("symbol file not attached: %#v", m.Symbols)
	}
	if !strings.Contains(log.String(), "Successfully loaded symbol file '"+debug+"'.") {
		t.Fatalf("unexpected log:\n%s", log.String())
	}

	// Already loaded.
	if !loader.LoadSymbols(context.Background(), m, io.Discard, false, false) || len(interp.Commands) != 1 {
		t.Fatal("expected no command for a module with symbols")
	}
}

func TestLoadSymbolsFromStore(t *testing.T) {
	dir, storeDir, wrongDir := t.TempDir(), t.TempDir(), t.TempDir()
	binary := filepath.Join(dir, "libfoo.so")
	writeModule(t, binary, elfwriter.Module{BuildID: testBuildID, DebugLink: "libfoo.so.debug", DebugInfoDir: wrongDir})
	// The debug info dir holds a file of another build.
	writeModule(t, filepath.Join(wrongDir, "libfoo.so.debug"), elfwriter.Module{BuildID: []byte{1, 2, 3, 4}, DebugInfo: true})
	debug := filepath.Join(storeDir, "libfoo.so.debug")
	writeModule(t, debug, elfwriter.Module{BuildID: testBuildID, DebugInfo: true})

	target := backendtest.NewTarget()
	m := loadedModule(target, binary, testBuildID)
	interp := &backendtest.Interpreter{Target: target}
	loader := NewSymbolLoader(newFinder(t, storeDir), elfutil.Reader{}, interp)

	if loader.LoadSymbols(context.Background(), m, io.Discard, false, false) {
		t.Fatal("expected failure with symbol stores disabled")
	}
	var log strings.Builder
	if !loader.LoadSymbols(context.Background(), m, &log, true, false) {
		t.Fatalf("expected symbols to be loaded, log:\n%s", log.String())
	}
	if m.Symbols.Path() != debug {
		t.Fatalf("expected %s, got %s", debug, m.Symbols.Path())
	}
}

func TestLoadSymbolsFailures(t *testing.T) {
	dir := t.TempDir()
	binary := filepath.Join(dir, "libfoo.so")
	writeModule(t, binary, elfwriter.Module{BuildID: testBuildID})

	target := backendtest.NewTarget()
	interp := &backendtest.Interpreter{Target: target}
	loader := NewSymbolLoader(newFinder(t, dir), elfutil.Reader{}, interp)

	m := loadedModule(target, binary, testBuildID)
	var log strings.Builder
	if loader.LoadSymbols(context.Background(), m, &log, true, false) {
		t.Fatal("expected failure without debug link")
	}
	if !strings.Contains(log.String(), "Symbol file name is unknown.") {
		t.Fatalf("unexpected log:\n%s", log.String())
	}

	windows := loadedModule(target, binary, testBuildID)
	windows.TripleString = "x86_64-pc-windows-msvc"
	windows.Symbols = platformSpec(filepath.Join(dir, "libfoo.pdb"))
	if loader.LoadSymbols(context.Background(), windows, io.Discard, true, false) {
		t.Fatal("expected windows modules to be skipped")
	}

	debugDir := t.TempDir()
	linked := filepath.Join(dir, "libbar.so")
	writeModule(t, linked, elfwriter.Module{BuildID: testBuildID, DebugLink: "libbar.so.debug", DebugInfoDir: debugDir})
	writeModule(t, filepath.Join(debugDir, "libbar.so.debug"), elfwriter.Module{BuildID: testBuildID, DebugInfo: true})
	bar := loadedModule(target, linked, testBuildID)
	interp.Fail = "error: no such module"
	log.Reset()
	if loader.LoadSymbols(context.Background(), bar, &log, false, false) {
		t.Fatal("expected failure from the interpreter")
	}
	if !strings.Contains(log.String(), "Debugger error: error: no such module") {
		t.Fatalf("unexpected log:\n%s", log.String())
	}
}

type fakeBinaries struct {
	missing map[string]bool
	calls   []string
	cancel  context.CancelFunc
}

func (f *fakeBinaries) LoadBinary(ctx context.Context, m backend.Module, log io.Writer, forceLoad bool) (backend.Module, bool) {
	name := m.PlatformFileSpec().Filename
	f.calls = append(f.calls, name)
	io.WriteString(log, "binary search for "+name+"\n")
	if f.cancel != nil {
		f.cancel()
	}
	if f.missing[name] {
		return m, false
	}
	return &backendtest.Module{
		Id:       m.ID() + 100,
		File:     m.PlatformFileSpec(),
		Platform: m.PlatformFileSpec(),
		Symbols:  m.PlatformFileSpec(),
		Sections: []backend.Section{{Name: ".text"}, {Name: ".data"}},
	}, true
}

type fakeSymbols struct {
	missing   map[string]bool
	calls     []string
	forceLoad []bool
}

func (f *fakeSymbols) LoadSymbols(ctx context.Context, m backend.Module, log io.Writer, useSymbolStores, forceLoad bool) bool {
	name := m.PlatformFileSpec().Filename
	f.calls = append(f.calls, name)
	f.forceLoad = append(f.forceLoad, forceLoad)
	io.WriteString(log, "symbol search for "+name+"\n")
	return !f.missing[name]
}

func TestLoadModuleFiles(t *testing.T) {
	modules := []backend.Module{
		backendtest.NewPlaceholder(1, "/lib/libc.so.6", "", 0x1000),
		backendtest.NewPlaceholder(2, "/lib/libgame.so", "", 0x2000),
		backendtest.NewPlaceholder(3, "/lib/libskipped.so", "", 0x3000),
		backendtest.NewPlaceholder(4, "/lib/libgone.so (deleted)", "", 0x4000),
		&backendtest.Module{
			Id:           5,
			Platform:     platformSpec("/lib/libready.so"),
			Sections:     []backend.Section{{Name: ".text"}, {Name: ".data"}},
			CompileUnits: 1,
		},
	}
	binaries := &fakeBinaries{missing: map[string]bool{"libc.so.6": true}}
	symbols := &fakeSymbols{missing: map[string]bool{"libgame.so": true}}
	logs := NewSearchLogHolder()
	loader := NewModuleFileLoader(binaries, symbols, logs, true, nil)
	var progress []string
	loader.Progress = func(msg string) { progress = append(progress, msg) }
	recorder := &LogMetricsRecorder{}

	inclusion := &InclusionSettings{ExcludeList: []string{"libskipped.so"}}
	result, err := loader.LoadModuleFiles(context.Background(), modules, inclusion, true, false, recorder)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Failed || !result.SuggestToEnableSymbolStore {
		t.Fatalf("unexpected result %#v", result)
	}
	if got := strings.Join(binaries.calls, ","); got != "libc.so.6,libgame.so" {
		t.Fatalf("unexpected binary searches %s", got)
	}
	if got := strings.Join(symbols.calls, ","); got != "libgame.so" {
		t.Fatalf("unexpected symbol searches %s", got)
	}
	if len(progress) != 3 {
		t.Fatalf("expected 3 progress messages, got %q", progress)
	}

	if got := logs.Get(modules[0]); got != "binary search for libc.so.6" {
		t.Fatalf("unexpected search log %q", got)
	}
	// The replacement of libgame.so shares the log of its placeholder.
	if got := logs.Get(modules[1]); got != "binary search for libgame.so\nsymbol search for libgame.so" {
		t.Fatalf("unexpected search log %q", got)
	}
	if got := logs.Get(modules[2]); got != ModuleExcludedMessage("libskipped.so") {
		t.Fatalf("unexpected search log %q", got)
	}
	if got := logs.Get(modules[3]); !strings.Contains(got, "marked as deleted") {
		t.Fatalf("unexpected search log %q", got)
	}

	if recorder.Before.ModulesCount != 5 || recorder.Before.ModulesWithSymbolsLoadedBeforeCount != 1 || recorder.Before.BinariesLoadedBeforeCount != 1 {
		t.Fatalf("unexpected before metrics %#v", recorder.Before)
	}
	if recorder.After.BinariesLoadedAfterCount != 2 || recorder.After.ModulesWithSymbolsLoadedAfterCount != 1 || recorder.After.ModulesAfterCount != 5 {
		t.Fatalf("unexpected after metrics %#v", recorder.After)
	}
	for _, force := range symbols.forceLoad {
		if force {
			t.Fatal("expected automatic loads not to force")
		}
	}
}

func TestLoadModuleFilesManual(t *testing.T) {
	modules := []backend.Module{&backendtest.Module{
		Id:       1,
		Platform: platformSpec("/lib/libskipped.so"),
		Sections: []backend.Section{{Name: ".text"}, {Name: ".data"}},
	}}
	symbols := &fakeSymbols{}
	loader := NewModuleFileLoader(&fakeBinaries{}, symbols, NewSearchLogHolder(), false, nil)
	result, err := loader.LoadModuleFiles(context.Background(), modules, nil, false, true, nil)
	if err != nil || result.Failed {
		t.Fatalf("unexpected result %#v, %v", result, err)
	}
	if len(symbols.forceLoad) != 1 || !symbols.forceLoad[0] {
		t.Fatalf("expected a forced load, got %v", symbols.forceLoad)
	}
}

func TestLoadModuleFilesIncludeListDoesNotForce(t *testing.T) {
	modules := []backend.Module{
		backendtest.NewPlaceholder(1, "/lib/libgame.so", "", 0x1000),
		backendtest.NewPlaceholder(2, "/lib/libc.so.6", "", 0x2000),
	}
	binaries := &fakeBinaries{}
	symbols := &fakeSymbols{}
	loader := NewModuleFileLoader(binaries, symbols, NewSearchLogHolder(), false, nil)

	inclusion := &InclusionSettings{IsManualLoad: true, IncludeList: []string{"libgame.so"}}
	if _, err := loader.LoadModuleFiles(context.Background(), modules, inclusion, true, false, nil); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(binaries.calls, ","); got != "libgame.so" {
		t.Fatalf("unexpected binary searches %s", got)
	}
	if len(symbols.forceLoad) != 1 || symbols.forceLoad[0] {
		t.Fatalf("expected one load that is not forced, got %v", symbols.forceLoad)
	}
}

func TestLoadModuleFilesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	modules := []backend.Module{
		backendtest.NewPlaceholder(1, "/lib/liba.so", "", 0x1000),
		backendtest.NewPlaceholder(2, "/lib/libb.so", "", 0x2000),
	}
	binaries := &fakeBinaries{cancel: cancel}
	symbols := &fakeSymbols{}
	recorder := &LogMetricsRecorder{}
	loader := NewModuleFileLoader(binaries, symbols, NewSearchLogHolder(), false, nil)

	_, err := loader.LoadModuleFiles(ctx, modules, &InclusionSettings{}, true, false, recorder)
	if err != context.Canceled {
		t.Fatalf("expected %v, got %v", context.Canceled, err)
	}
	if len(binaries.calls) != 1 || len(symbols.calls) != 0 {
		t.Fatalf("expected the batch to stop, got %v and %v", binaries.calls, symbols.calls)
	}
	if recorder.After.BinariesLoadedAfterCount != 1 {
		t.Fatalf("expected after metrics to be recorded, got %#v", recorder.After)
	}
}
