// Package backend describes the native debugger the engine drives.
//
// The engine never talks to a debugger directly: everything it needs from a
// live process or core file (breakpoint primitives, module list, threads,
// events, remote shell commands) goes through the interfaces in this
// package. Implementations wrap a remote debug server connection;
// backendtest provides an in-memory one for tests.
package backend

import (
	"fmt"
	"path"
	"time"
)

// InvalidAddress is returned for addresses the backend cannot resolve.
const InvalidAddress = ^uint64(0)

// FileSpec is a file location as the backend reports it. Paths are always
// in the target's (Linux) format.
type FileSpec struct {
	Directory string
	Filename  string
}

// Path returns the full path of the file.
func (fs FileSpec) Path() string {
	if fs.Directory == "" {
		return fs.Filename
	}
	return path.Join(fs.Directory, fs.Filename)
}

// IsEmpty returns true if fs has no file name.
func (fs FileSpec) IsEmpty() bool {
	return fs.Filename == ""
}

// Section is a section of a module.
type Section struct {
	Name        string
	FileAddress uint64
	FileOffset  uint64
	Size        uint64
	// LoadAddress is InvalidAddress if the section is not loaded.
	LoadAddress uint64
}

// Module is a module (executable or shared library) loaded in the target.
type Module interface {
	// ID is the backend-assigned identity of the module, two Module values
	// with the same ID refer to the same module.
	ID() int64
	// FileSpec is the local file the backend loaded the module from.
	FileSpec() FileSpec
	// PlatformFileSpec is the path of the module on the target machine.
	PlatformFileSpec() FileSpec
	SetPlatformFileSpec(fs FileSpec) bool
	// SymbolFileSpec is the file symbols were loaded from. When no separate
	// symbol file was found it equals FileSpec.
	SymbolFileSpec() FileSpec
	// UUID is the build ID in the backend's string format, "" if unknown.
	UUID() string
	Triple() string
	NumSections() int
	FindSection(name string) (Section, bool)
	FirstCodeSection() (Section, bool)
	NumCompileUnits() int
}

// LineEntry is the source position of an address.
type LineEntry struct {
	File   string
	Line   uint32
	Column uint32
}

// BreakpointLocation is one resolved address of a breakpoint.
type BreakpointLocation interface {
	// ID is unique within the owning breakpoint.
	ID() int
	LoadAddress() uint64
	LineEntry() (LineEntry, bool)
	SetEnabled(enabled bool)
	SetCondition(cond string)
	SetIgnoreCount(n uint32)
	// HitCount is monotonically increasing, the backend cannot reset it.
	HitCount() uint32
}

// Breakpoint is a backend code breakpoint, it may resolve to any number of
// locations and the location set may change as modules are loaded.
type Breakpoint interface {
	ID() int
	NumLocations() int
	// LocationAtIndex returns nil if the location cannot be retrieved.
	LocationAtIndex(i int) BreakpointLocation
	FindLocationByID(id int) BreakpointLocation
	SetEnabled(enabled bool)
}

// Watchpoint is a backend data breakpoint.
type Watchpoint interface {
	ID() int
	SetEnabled(enabled bool)
	SetCondition(cond string)
	SetIgnoreCount(n uint32)
	HitCount() uint32
}

// FunctionOffsetErrorKind says why a function+offset breakpoint could not
// be created.
type FunctionOffsetErrorKind int

const (
	NoFunctionFound FunctionOffsetErrorKind = iota + 1
	NoFunctionLocation
	PositionNotAvailable
)

// FunctionOffsetError is returned by CreateFunctionOffsetBreakpoint.
type FunctionOffsetError struct {
	Kind   FunctionOffsetErrorKind
	Name   string
	Offset uint32
}

func (err *FunctionOffsetError) Error() string {
	var reason string
	switch err.Kind {
	case NoFunctionFound:
		reason = "no function found"
	case NoFunctionLocation:
		reason = "function has no location"
	default:
		reason = "position not available"
	}
	return fmt.Sprintf("can not set breakpoint at %s+%d: %s", err.Name, err.Offset, reason)
}

// TargetEventMask selects the target events a listener receives.
type TargetEventMask uint32

const (
	TargetBreakpointChanged TargetEventMask = 1 << iota
	TargetModulesLoaded
	TargetModulesUnloaded
)

// Target is a debug target: an executable with its breakpoints and modules,
// and the process or core file attached to it.
type Target interface {
	// The BreakpointCreate functions return nil if the backend could not
	// create the breakpoint.
	BreakpointCreateByLocation(file string, line uint32) Breakpoint
	BreakpointCreateByName(name string) Breakpoint
	BreakpointCreateByAddress(addr uint64) Breakpoint
	// CreateFunctionOffsetBreakpoint returns a *FunctionOffsetError on
	// failure.
	CreateFunctionOffsetBreakpoint(name string, offset uint32) (Breakpoint, error)
	BreakpointDelete(id int) bool

	WatchAddress(addr uint64, size uint32, read, write bool) (Watchpoint, error)
	DeleteWatchpoint(id int) bool

	NumModules() int
	// ModuleAtIndex returns nil if the module cannot be retrieved.
	ModuleAtIndex(i int) Module
	// AddModule returns nil if the file could not be loaded.
	AddModule(path, triple, uuid string) Module
	RemoveModule(m Module) bool
	SetModuleLoadAddress(m Module, slide int64) error

	AddListener(l Listener, mask TargetEventMask)
	AttachToProcessWithID(l Listener, pid uint64) (Process, error)
	// LoadCore returns nil if the core file could not be loaded.
	LoadCore(path string) Process
}

// StateType is the state of a process.
type StateType int

const (
	StateInvalid StateType = iota
	StateUnloaded
	StateConnected
	StateAttaching
	StateLaunching
	StateStopped
	StateRunning
	StateStepping
	StateCrashed
	StateDetached
	StateExited
	StateSuspended
)

var stateNames = [...]string{"INVALID", "UNLOADED", "CONNECTED", "ATTACHING", "LAUNCHING", "STOPPED", "RUNNING", "STEPPING", "CRASHED", "DETACHED", "EXITED", "SUSPENDED"}

func (s StateType) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("StateType(%d)", int(s))
	}
	return stateNames[s]
}

// StopReason is why a thread stopped.
type StopReason int

const (
	StopReasonInvalid StopReason = iota
	StopReasonNone
	StopReasonTrace
	StopReasonBreakpoint
	StopReasonWatchpoint
	StopReasonSignal
	StopReasonException
	StopReasonExec
	StopReasonPlanComplete
	StopReasonThreadExiting
	StopReasonInstrumentation
)

var stopReasonNames = [...]string{"INVALID", "NONE", "TRACE", "BREAKPOINT", "WATCHPOINT", "SIGNAL", "EXCEPTION", "EXEC", "PLAN_COMPLETE", "EXITING", "INSTRUMENTATION"}

func (r StopReason) String() string {
	if r < 0 || int(r) >= len(stopReasonNames) {
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
	return stopReasonNames[r]
}

// Thread is a thread of the debugged process.
type Thread interface {
	ID() uint64
	StopReason() StopReason
	// StopReasonData depends on the stop reason: (breakpoint id, location
	// id) pairs for breakpoints, the watchpoint id for watchpoints and the
	// signal number for signals.
	StopReasonDataCount() int
	StopReasonDataAtIndex(i int) uint64
}

// Process is the debugged process, or the process image of a core file.
type Process interface {
	PID() uint64
	State() StateType
	NumThreads() int
	ThreadAtIndex(i int) Thread
	// SelectedThread returns nil if no thread is selected.
	SelectedThread() Thread
	SetSelectedThreadByID(id uint64) bool
	// SignalShouldStop reports whether the process is configured to stop
	// when it receives signo.
	SignalShouldStop(signo int) bool
	Continue() error
	Stop() error
	Detach() error
	Kill() error
	ReadMemory(addr uint64, buf []byte) (int, error)
	WriteMemory(addr uint64, data []byte) (int, error)
}

// EventType is the broadcast bit of a process event.
type EventType uint32

const (
	EventStateChanged EventType = 1 << iota
	EventInterrupt
	EventSTDOUT
	EventSTDERR
	EventProfileData
	EventStructuredData
)

// BreakpointEventType is a bit mask describing a breakpoint change.
type BreakpointEventType uint32

const (
	BreakpointAdded BreakpointEventType = 1 << (iota + 1)
	BreakpointRemoved
	BreakpointLocationsAdded
	BreakpointLocationsRemoved
	BreakpointLocationsResolved
	BreakpointEnabled
	BreakpointDisabled
	BreakpointCommandChanged
	BreakpointConditionChanged
	BreakpointIgnoreChanged
)

// BreakpointEventData is carried by breakpoint events.
type BreakpointEventData struct {
	Type         BreakpointEventType
	BreakpointID int
}

// Event is an event received from a Listener.
type Event struct {
	Type EventType
	// State and Restarted are set for EventStateChanged.
	State     StateType
	Restarted bool
	// Description is the backend's text rendering of the event, structured
	// data events carry their payload in it.
	Description string
	// Breakpoint is set for breakpoint events only.
	Breakpoint *BreakpointEventData
}

// IsBreakpointEvent returns true if e describes a breakpoint change.
func (e *Event) IsBreakpointEvent() bool {
	return e.Breakpoint != nil
}

// Listener receives backend events.
type Listener interface {
	// WaitForEvent waits up to timeout for an event. It returns false if
	// no event arrived before the timeout. A nil event with a true result
	// means the listener was shut down.
	WaitForEvent(timeout time.Duration) (*Event, bool)
}

// Platform is the machine the target runs on.
type Platform interface {
	ConnectRemote(url string) error
	// Run runs a shell command on the platform and returns its output.
	Run(command string) (string, error)
}

// CommandResult is the result of a debugger command.
type CommandResult struct {
	Succeeded bool
	Output    string
	Error     string
}

// CommandInterpreter runs debugger commands.
type CommandInterpreter interface {
	HandleCommand(command string) CommandResult
}

// Debugger is a debugger instance, the root object of a debug session.
type Debugger interface {
	// CreatePlatform and CreateListener return nil on failure.
	CreatePlatform() Platform
	SetSelectedPlatform(p Platform)
	CreateListener(name string) Listener
	Target() Target
	CommandInterpreter() CommandInterpreter
}
