// Package backendtest provides an in-memory implementation of the backend
// interfaces for tests. Every fake exposes its state as exported fields so
// tests can set up a scenario and inspect what the engine did to it.
package backendtest

import (
	"debug/elf"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cosiner/argv"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
)

// PlaceholderSection is the only section of a placeholder module, its load
// address is the base address of the module in the original process.
const PlaceholderSection = ".module_image"

// Module is a fake backend.Module.
type Module struct {
	Id           int64
	File         backend.FileSpec
	Platform     backend.FileSpec
	Symbols      backend.FileSpec
	BuildID      string
	TripleString string
	Sections     []backend.Section
	CompileUnits int
	// RejectPlatformFileSpec makes SetPlatformFileSpec fail.
	RejectPlatformFileSpec bool
}

// NewPlaceholder returns a placeholder module for a binary that was mapped
// at base in the original process.
func NewPlaceholder(id int64, platformPath, uuid string, base uint64) *Module {
	fs := backend.FileSpec{Directory: path.Dir(platformPath), Filename: path.Base(platformPath)}
	return &Module{
		Id:           id,
		File:         fs,
		Platform:     fs,
		Symbols:      fs,
		BuildID:      uuid,
		TripleString: "x86_64-unknown-linux-gnu",
		Sections:     []backend.Section{{Name: PlaceholderSection, LoadAddress: base}},
	}
}

func (m *Module) ID() int64                          { return m.Id }
func (m *Module) FileSpec() backend.FileSpec         { return m.File }
func (m *Module) PlatformFileSpec() backend.FileSpec { return m.Platform }
func (m *Module) SymbolFileSpec() backend.FileSpec   { return m.Symbols }
func (m *Module) UUID() string                       { return m.BuildID }
func (m *Module) Triple() string                     { return m.TripleString }
func (m *Module) NumSections() int                   { return len(m.Sections) }
func (m *Module) NumCompileUnits() int               { return m.CompileUnits }

func (m *Module) SetPlatformFileSpec(fs backend.FileSpec) bool {
	if m.RejectPlatformFileSpec {
		return false
	}
	m.Platform = fs
	return true
}

func (m *Module) FindSection(name string) (backend.Section, bool) {
	for _, s := range m.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return backend.Section{}, false
}

func (m *Module) FirstCodeSection() (backend.Section, bool) {
	return m.FindSection(".text")
}

// Location is a fake backend.BreakpointLocation.
type Location struct {
	Id          int
	Address     uint64
	Line        backend.LineEntry
	Enabled     bool
	Condition   string
	IgnoreCount uint32
	Hits        uint32
}

func (l *Location) ID() int                      { return l.Id }
func (l *Location) LoadAddress() uint64          { return l.Address }
func (l *Location) SetEnabled(enabled bool)      { l.Enabled = enabled }
func (l *Location) SetCondition(cond string)     { l.Condition = cond }
func (l *Location) SetIgnoreCount(n uint32)      { l.IgnoreCount = n }
func (l *Location) HitCount() uint32             { return l.Hits }
func (l *Location) LineEntry() (backend.LineEntry, bool) {
	return l.Line, l.Line.File != ""
}

// Hit simulates the process reaching the location and reports whether the
// process would stop.
func (l *Location) Hit() bool {
	if !l.Enabled {
		return false
	}
	l.Hits++
	if l.IgnoreCount > 0 {
		l.IgnoreCount--
		return false
	}
	return true
}

// Breakpoint is a fake backend.Breakpoint.
type Breakpoint struct {
	Id        int
	Spec      string
	Locations []*Location
	Enabled   bool
	// NilLocations lists indexes for which LocationAtIndex returns nil.
	NilLocations map[int]bool
	nextLocID    int
}

func (b *Breakpoint) ID() int                 { return b.Id }
func (b *Breakpoint) NumLocations() int       { return len(b.Locations) }
func (b *Breakpoint) SetEnabled(enabled bool) { b.Enabled = enabled }

func (b *Breakpoint) LocationAtIndex(i int) backend.BreakpointLocation {
	if i < 0 || i >= len(b.Locations) || b.NilLocations[i] {
		return nil
	}
	return b.Locations[i]
}

func (b *Breakpoint) FindLocationByID(id int) backend.BreakpointLocation {
	if l := b.Location(id); l != nil {
		return l
	}
	return nil
}

// Location returns the location with the given id or nil.
func (b *Breakpoint) Location(id int) *Location {
	for _, l := range b.Locations {
		if l.Id == id {
			return l
		}
	}
	return nil
}

// AddLocation adds a location at addr, location ids start at 1.
func (b *Breakpoint) AddLocation(addr uint64) *Location {
	b.nextLocID++
	l := &Location{Id: b.nextLocID, Address: addr, Enabled: true}
	b.Locations = append(b.Locations, l)
	return l
}

// RemoveLocation removes the location with the given id.
func (b *Breakpoint) RemoveLocation(id int) {
	for i, l := range b.Locations {
		if l.Id == id {
			b.Locations = append(b.Locations[:i], b.Locations[i+1:]...)
			return
		}
	}
}

// Watchpoint is a fake backend.Watchpoint.
type Watchpoint struct {
	Id          int
	Address     uint64
	Size        uint32
	Read, Write bool
	Enabled     bool
	Condition   string
	IgnoreCount uint32
	Hits        uint32
}

func (w *Watchpoint) ID() int                  { return w.Id }
func (w *Watchpoint) SetEnabled(enabled bool)  { w.Enabled = enabled }
func (w *Watchpoint) SetCondition(cond string) { w.Condition = cond }
func (w *Watchpoint) SetIgnoreCount(n uint32)  { w.IgnoreCount = n }
func (w *Watchpoint) HitCount() uint32         { return w.Hits }

// Hit simulates an access to the watched memory.
func (w *Watchpoint) Hit() bool {
	if !w.Enabled {
		return false
	}
	w.Hits++
	if w.IgnoreCount > 0 {
		w.IgnoreCount--
		return false
	}
	return true
}

// Target is a fake backend.Target.
type Target struct {
	mu sync.Mutex

	// Resolve maps a breakpoint spec ("file:line", a function name or an
	// address formatted with %#x) to the addresses of its locations.
	Resolve map[string][]uint64
	// FunctionOffsetErrors makes CreateFunctionOffsetBreakpoint fail for
	// the named functions.
	FunctionOffsetErrors map[string]backend.FunctionOffsetErrorKind
	// RejectBreakpoints makes every BreakpointCreate function fail.
	RejectBreakpoints bool

	Breakpoints    map[int]*Breakpoint
	nextBreakpoint int
	// DeletedBreakpoints records BreakpointDelete calls in order.
	DeletedBreakpoints []int

	Watchpoints    map[int]*Watchpoint
	nextWatchpoint int
	// DeletedWatchpoints records DeleteWatchpoint calls in order.
	DeletedWatchpoints []int
	WatchError         error

	Modules      []*Module
	nextModuleID int64
	// Slides records the slide passed to SetModuleLoadAddress per module.
	Slides          map[int64]int64
	LoadAddressErr  error
	RejectAddModule bool
	// RemovedModules records RemoveModule calls in order.
	RemovedModules []int64

	Listeners  map[backend.Listener]backend.TargetEventMask
	Process    *Process
	AttachErr  error
	AttachedTo uint64
	// Cores maps core file paths to their process, LoadCore fails for
	// paths not in the map.
	Cores      map[string]*Process
	LoadedCore string
}

// NewTarget returns an empty target.
func NewTarget() *Target {
	return &Target{
		Resolve:     map[string][]uint64{},
		Breakpoints: map[int]*Breakpoint{},
		Watchpoints: map[int]*Watchpoint{},
		Slides:      map[int64]int64{},
		Listeners:   map[backend.Listener]backend.TargetEventMask{},
		Cores:       map[string]*Process{},
	}
}

func (t *Target) createBreakpoint(spec string) backend.Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.RejectBreakpoints {
		return nil
	}
	t.nextBreakpoint++
	bp := &Breakpoint{Id: t.nextBreakpoint, Spec: spec, Enabled: true}
	for _, addr := range t.Resolve[spec] {
		bp.AddLocation(addr)
	}
	t.Breakpoints[bp.Id] = bp
	return bp
}

func (t *Target) BreakpointCreateByLocation(file string, line uint32) backend.Breakpoint {
	return t.createBreakpoint(fmt.Sprintf("%s:%d", file, line))
}

func (t *Target) BreakpointCreateByName(name string) backend.Breakpoint {
	return t.createBreakpoint(name)
}

func (t *Target) BreakpointCreateByAddress(addr uint64) backend.Breakpoint {
	spec := fmt.Sprintf("%#x", addr)
	t.mu.Lock()
	if _, ok := t.Resolve[spec]; !ok {
		t.Resolve[spec] = []uint64{addr}
	}
	t.mu.Unlock()
	return t.createBreakpoint(spec)
}

func (t *Target) CreateFunctionOffsetBreakpoint(name string, offset uint32) (backend.Breakpoint, error) {
	if kind, ok := t.FunctionOffsetErrors[name]; ok {
		return nil, &backend.FunctionOffsetError{Kind: kind, Name: name, Offset: offset}
	}
	bp := t.createBreakpoint(fmt.Sprintf("%s+%d", name, offset))
	if bp == nil {
		return nil, &backend.FunctionOffsetError{Kind: backend.PositionNotAvailable, Name: name, Offset: offset}
	}
	return bp, nil
}

func (t *Target) BreakpointDelete(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DeletedBreakpoints = append(t.DeletedBreakpoints, id)
	if _, ok := t.Breakpoints[id]; !ok {
		return false
	}
	delete(t.Breakpoints, id)
	return true
}

// Breakpoint returns the breakpoint with the given id or nil.
func (t *Target) Breakpoint(id int) *Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Breakpoints[id]
}

// WatchAddress returns the existing watchpoint if addr is already watched,
// like the real backend does.
func (t *Target) WatchAddress(addr uint64, size uint32, read, write bool) (backend.Watchpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.WatchError != nil {
		return nil, t.WatchError
	}
	for _, w := range t.Watchpoints {
		if w.Address == addr {
			return w, nil
		}
	}
	t.nextWatchpoint++
	w := &Watchpoint{Id: t.nextWatchpoint, Address: addr, Size: size, Read: read, Write: write, Enabled: true}
	t.Watchpoints[w.Id] = w
	return w, nil
}

func (t *Target) DeleteWatchpoint(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.DeletedWatchpoints = append(t.DeletedWatchpoints, id)
	if _, ok := t.Watchpoints[id]; !ok {
		return false
	}
	delete(t.Watchpoints, id)
	return true
}

func (t *Target) NumModules() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Modules)
}

func (t *Target) ModuleAtIndex(i int) backend.Module {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.Modules) {
		return nil
	}
	return t.Modules[i]
}

// AppendModule adds m to the module list, assigning an id if it has none.
func (t *Target) AppendModule(m *Module) *Module {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.Id == 0 {
		t.nextModuleID++
		m.Id = t.nextModuleID + 1000
	}
	t.Modules = append(t.Modules, m)
	return m
}

// AddModule loads the ELF file at path. The sections of the module are
// read from the file, so slide computations see real addresses.
func (t *Target) AddModule(p, triple, uuid string) backend.Module {
	if t.RejectAddModule {
		return nil
	}
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	fs := backend.FileSpec{Directory: path.Dir(p), Filename: path.Base(p)}
	m := &Module{File: fs, Platform: fs, Symbols: fs, BuildID: uuid, TripleString: triple}
	if f, err := elf.Open(p); err == nil {
		for _, s := range f.Sections {
			if s.Type == elf.SHT_NULL {
				continue
			}
			m.Sections = append(m.Sections, backend.Section{
				Name:        s.Name,
				FileAddress: s.Addr,
				FileOffset:  s.Offset,
				Size:        s.Size,
				LoadAddress: backend.InvalidAddress,
			})
		}
		if f.Section(".debug_info") != nil {
			m.CompileUnits = 1
		}
		f.Close()
	}
	return t.AppendModule(m)
}

func (t *Target) RemoveModule(m backend.Module) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.RemovedModules = append(t.RemovedModules, m.ID())
	for i, mod := range t.Modules {
		if mod.Id == m.ID() {
			t.Modules = append(t.Modules[:i], t.Modules[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Target) SetModuleLoadAddress(m backend.Module, slide int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.LoadAddressErr != nil {
		return t.LoadAddressErr
	}
	t.Slides[m.ID()] = slide
	return nil
}

// FindModule returns the module loaded from the given platform path.
func (t *Target) FindModule(platformPath string) *Module {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.Modules {
		if m.Platform.Path() == platformPath {
			return m
		}
	}
	return nil
}

func (t *Target) AddListener(l backend.Listener, mask backend.TargetEventMask) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Listeners[l] |= mask
}

func (t *Target) AttachToProcessWithID(l backend.Listener, pid uint64) (backend.Process, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AttachedTo = pid
	if t.AttachErr != nil {
		return nil, t.AttachErr
	}
	if t.Process == nil {
		t.Process = NewProcess(pid)
	}
	return t.Process, nil
}

func (t *Target) LoadCore(p string) backend.Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LoadedCore = p
	proc, ok := t.Cores[p]
	if !ok {
		return nil
	}
	t.Process = proc
	return proc
}

// Thread is a fake backend.Thread.
type Thread struct {
	Id     uint64
	Reason backend.StopReason
	Data   []uint64
}

func (th *Thread) ID() uint64                     { return th.Id }
func (th *Thread) StopReason() backend.StopReason { return th.Reason }
func (th *Thread) StopReasonDataCount() int       { return len(th.Data) }

func (th *Thread) StopReasonDataAtIndex(i int) uint64 {
	if i < 0 || i >= len(th.Data) {
		return 0
	}
	return th.Data[i]
}

// Process is a fake backend.Process.
type Process struct {
	mu       sync.Mutex
	Pid      uint64
	StateV   backend.StateType
	Threads  []*Thread
	Selected uint64
	// Signals that do not stop the process.
	IgnoredSignals map[int]bool
	Continues      int
	Detached       bool
	Killed         bool
	Memory         map[uint64]byte
}

// NewProcess returns a stopped process without threads.
func NewProcess(pid uint64) *Process {
	return &Process{Pid: pid, StateV: backend.StateStopped, Memory: map[uint64]byte{}}
}

func (p *Process) PID() uint64              { return p.Pid }
func (p *Process) State() backend.StateType { return p.StateV }
func (p *Process) NumThreads() int          { return len(p.Threads) }

func (p *Process) ThreadAtIndex(i int) backend.Thread {
	if i < 0 || i >= len(p.Threads) {
		return nil
	}
	return p.Threads[i]
}

func (p *Process) SelectedThread() backend.Thread {
	for _, th := range p.Threads {
		if th.Id == p.Selected {
			return th
		}
	}
	return nil
}

func (p *Process) SetSelectedThreadByID(id uint64) bool {
	for _, th := range p.Threads {
		if th.Id == id {
			p.Selected = id
			return true
		}
	}
	return false
}

func (p *Process) SignalShouldStop(signo int) bool {
	return !p.IgnoredSignals[signo]
}

func (p *Process) Continue() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Continues++
	p.StateV = backend.StateRunning
	return nil
}

// ContinueCount returns how many times Continue was called.
func (p *Process) ContinueCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Continues
}

func (p *Process) Stop() error {
	p.StateV = backend.StateStopped
	return nil
}

func (p *Process) Detach() error {
	p.Detached = true
	p.StateV = backend.StateDetached
	return nil
}

func (p *Process) Kill() error {
	p.Killed = true
	p.StateV = backend.StateExited
	return nil
}

func (p *Process) ReadMemory(addr uint64, buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range buf {
		b, ok := p.Memory[addr+uint64(i)]
		if !ok {
			return i, fmt.Errorf("memory read failed for %#x", addr+uint64(i))
		}
		buf[i] = b
	}
	return len(buf), nil
}

func (p *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, b := range data {
		p.Memory[addr+uint64(i)] = b
	}
	return len(data), nil
}

// Listener is a fake backend.Listener fed through Send.
type Listener struct {
	events chan *backend.Event
	once   sync.Once
}

// NewListener returns a listener that buffers up to 64 events.
func NewListener() *Listener {
	return &Listener{events: make(chan *backend.Event, 64)}
}

// Send queues ev for WaitForEvent.
func (l *Listener) Send(ev *backend.Event) {
	l.events <- ev
}

// Close makes WaitForEvent report a nil event once the queue is drained.
func (l *Listener) Close() {
	l.once.Do(func() { close(l.events) })
}

func (l *Listener) WaitForEvent(timeout time.Duration) (*backend.Event, bool) {
	select {
	case ev, ok := <-l.events:
		if !ok {
			return nil, true
		}
		return ev, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Platform is a fake backend.Platform.
type Platform struct {
	mu sync.Mutex
	// Outputs maps shell commands to their output, commands not in the
	// map fail.
	Outputs map[string]string
	// RunFunc, if set, replaces the Outputs lookup.
	RunFunc func(command string) (string, error)
	// ConnectFailures is the number of ConnectRemote calls that fail
	// before one succeeds, a negative value means all of them fail.
	ConnectFailures int
	ConnectCalls    int
	ConnectedURL    string
	Commands        []string
}

func (p *Platform) ConnectRemote(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls++
	if p.ConnectFailures < 0 || p.ConnectCalls <= p.ConnectFailures {
		return fmt.Errorf("connection refused")
	}
	p.ConnectedURL = url
	return nil
}

func (p *Platform) Run(command string) (string, error) {
	p.mu.Lock()
	p.Commands = append(p.Commands, command)
	run := p.RunFunc
	p.mu.Unlock()
	if run != nil {
		return run(command)
	}
	out, ok := p.Outputs[command]
	if !ok {
		return "", fmt.Errorf("command failed: %s", command)
	}
	return out, nil
}

// Interpreter is a fake backend.CommandInterpreter. It understands
// "target symbols add [-s <module>] <file>" and attaches the file to the
// module of Target, anything else fails.
type Interpreter struct {
	Target   *Target
	Commands []string
	// Fail makes every command fail with this message.
	Fail string
}

func (ci *Interpreter) HandleCommand(command string) backend.CommandResult {
	ci.Commands = append(ci.Commands, command)
	if ci.Fail != "" {
		return backend.CommandResult{Error: ci.Fail}
	}
	sections, err := argv.Argv(command, func(s string) (string, error) { return s, nil }, nil)
	if err != nil || len(sections) != 1 {
		return backend.CommandResult{Error: fmt.Sprintf("error: invalid command %q", command)}
	}
	args := sections[0]
	if len(args) < 4 || strings.Join(args[:3], " ") != "target symbols add" {
		return backend.CommandResult{Error: fmt.Sprintf("error: '%s' is not a valid command.", strings.Join(args, " "))}
	}
	args = args[3:]
	var modulePath string
	if args[0] == "-s" && len(args) == 3 {
		modulePath, args = args[1], args[2:]
	}
	if len(args) != 1 {
		return backend.CommandResult{Error: "error: invalid arguments"}
	}
	symbolFile := args[0]
	if _, err := os.Stat(symbolFile); err != nil {
		return backend.CommandResult{Error: fmt.Sprintf("error: invalid symbol file path '%s'", symbolFile)}
	}
	m := ci.Target.FindModule(modulePath)
	if m == nil {
		return backend.CommandResult{Error: fmt.Sprintf("error: no module matches '%s'", modulePath)}
	}
	m.Symbols = backend.FileSpec{Directory: path.Dir(symbolFile), Filename: path.Base(symbolFile)}
	m.CompileUnits = 1
	return backend.CommandResult{
		Succeeded: true,
		Output:    fmt.Sprintf("symbol file '%s' has been added to '%s'", symbolFile, m.File.Path()),
	}
}

// Debugger is a fake backend.Debugger.
type Debugger struct {
	PlatformV    *Platform
	ListenerV    *Listener
	TargetV      *Target
	Interp       *Interpreter
	NoPlatform   bool
	NoListener   bool
	SelectedPlat backend.Platform
}

// NewDebugger returns a debugger with a fresh target, platform, listener
// and interpreter.
func NewDebugger() *Debugger {
	t := NewTarget()
	return &Debugger{
		PlatformV: &Platform{Outputs: map[string]string{}},
		ListenerV: NewListener(),
		TargetV:   t,
		Interp:    &Interpreter{Target: t},
	}
}

func (d *Debugger) CreatePlatform() backend.Platform {
	if d.NoPlatform {
		return nil
	}
	return d.PlatformV
}

func (d *Debugger) SetSelectedPlatform(p backend.Platform) { d.SelectedPlat = p }

func (d *Debugger) CreateListener(name string) backend.Listener {
	if d.NoListener {
		return nil
	}
	return d.ListenerV
}

func (d *Debugger) Target() backend.Target                         { return d.TargetV }
func (d *Debugger) CommandInterpreter() backend.CommandInterpreter { return d.Interp }

// ModuleIDs returns the ids of the modules of t in ascending order.
func (t *Target) ModuleIDs() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int64, 0, len(t.Modules))
	for _, m := range t.Modules {
		ids = append(ids, m.Id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
