// Package dap reports the events of the debug engine to the IDE using
// the Debug Adapter Protocol (DAP).
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/go-dap"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/breakpoint"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/events"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/module"
	"github.com/googlestadia/vsi-lldb-sub002/service/engine"
)

var _ engine.Sink = (*EventSink)(nil)

// EventSink writes the events of an engine to a DAP client connection.
type EventSink struct {
	log logflags.Logger

	// mu serializes writes to conn and protects seq.
	mu   sync.Mutex
	conn io.Writer
	seq  int
}

// NewEventSink returns a sink writing to conn.
func NewEventSink(conn io.Writer) *EventSink {
	return &EventSink{log: logflags.DAPLogger(), conn: conn}
}

func (s *EventSink) send(message dap.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	setSeq(message, s.seq)
	jsonmsg, _ := json.Marshal(message)
	s.log.Debug("[-> to client]", string(jsonmsg))
	if err := dap.WriteProtocolMessage(s.conn, message); err != nil {
		s.log.Errorf("failed to send %T: %v", message, err)
	}
}

func setSeq(message dap.Message, seq int) {
	switch m := message.(type) {
	case *dap.BreakpointEvent:
		m.Seq = seq
	case *dap.ModuleEvent:
		m.Seq = seq
	case *dap.StoppedEvent:
		m.Seq = seq
	case *dap.OutputEvent:
		m.Seq = seq
	case *dap.TerminatedEvent:
		m.Seq = seq
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func (s *EventSink) sendBreakpoint(bp dap.Breakpoint) {
	s.send(&dap.BreakpointEvent{
		Event: *newEvent("breakpoint"),
		Body:  dap.BreakpointEventBody{Reason: "changed", Breakpoint: bp},
	})
}

// BreakpointBound reports p as verified if it has a location.
func (s *EventSink) BreakpointBound(p breakpoint.Pending) {
	bp := dap.Breakpoint{Id: p.ID(), Verified: p.BindError() == nil}
	if err := p.BindError(); err != nil {
		bp.Message = err.Message
	}
	if pb, ok := p.(*breakpoint.PendingBreakpoint); ok {
		if bound, err := pb.BoundBreakpoints(); err == nil && len(bound) > 0 {
			setLocation(&bp, bound[0])
		}
	}
	s.sendBreakpoint(bp)
}

// BoundBreakpointsAdded reports the first new location of p.
func (s *EventSink) BoundBreakpointsAdded(p *breakpoint.PendingBreakpoint, added []*breakpoint.BoundBreakpoint) {
	if len(added) == 0 {
		return
	}
	bp := dap.Breakpoint{Id: p.ID(), Verified: true}
	setLocation(&bp, added[0])
	s.sendBreakpoint(bp)
}

func setLocation(bp *dap.Breakpoint, b *breakpoint.BoundBreakpoint) {
	bp.InstructionReference = fmt.Sprintf("%#x", b.Address())
	if le, ok := b.LineEntry(); ok {
		bp.Line = int(le.Line)
		bp.Column = int(le.Column)
	}
}

// BreakpointError reports p as unverified with the reason.
func (s *EventSink) BreakpointError(p breakpoint.Pending, err *breakpoint.BindError) {
	s.sendBreakpoint(dap.Breakpoint{Id: p.ID(), Verified: false, Message: err.Message})
}

func moduleID(info module.Info) int {
	return int(info.LoadOrder)
}

// ModuleLoaded sends a "new" module event.
func (s *EventSink) ModuleLoaded(info module.Info) {
	m := dap.Module{
		Id:           moduleID(info),
		Name:         info.Name,
		Path:         info.Path,
		SymbolStatus: "Symbols not loaded.",
	}
	if info.HasSymbols {
		m.SymbolStatus = "Symbols loaded."
		m.SymbolFilePath = info.SymbolLocation
	} else if info.DebugMessage != "" {
		m.SymbolStatus = info.DebugMessage
	}
	if info.Size > 0 {
		m.AddressRange = fmt.Sprintf("%#x-%#x", info.LoadAddress, info.LoadAddress+info.Size)
	}
	s.send(&dap.ModuleEvent{
		Event: *newEvent("module"),
		Body:  dap.ModuleEventBody{Reason: "new", Module: m},
	})
}

// ModuleUnloaded sends a "removed" module event.
func (s *EventSink) ModuleUnloaded(info module.Info) {
	s.send(&dap.ModuleEvent{
		Event: *newEvent("module"),
		Body:  dap.ModuleEventBody{Reason: "removed", Module: dap.Module{Id: moduleID(info), Name: info.Name}},
	})
}

// Stopped sends a stopped event for the thread of ev.
func (s *EventSink) Stopped(ev events.StopEvent) {
	body := dap.StoppedEventBody{AllThreadsStopped: true}
	if ev.Thread != nil {
		body.ThreadId = int(ev.Thread.ID())
	}
	switch ev.Kind {
	case events.StopBreakpoint:
		body.Reason = "breakpoint"
		if len(ev.Breakpoints) == 0 && len(ev.Watchpoints) > 0 {
			body.Reason = "data breakpoint"
		}
		for _, b := range ev.Breakpoints {
			body.HitBreakpointIds = append(body.HitBreakpointIds, b.PendingBreakpoint().ID())
		}
		for _, w := range ev.Watchpoints {
			body.HitBreakpointIds = append(body.HitBreakpointIds, w.ID())
		}
	case events.StopException:
		body.Reason = "exception"
		body.Text = ev.Signal.Name
		body.Description = fmt.Sprintf("Signal %s (%d): %s", ev.Signal.Name, ev.Signal.Number, ev.Signal.Description)
	case events.StopStepComplete:
		body.Reason = "step"
	default:
		body.Reason = "pause"
	}
	s.send(&dap.StoppedEvent{Event: *newEvent("stopped"), Body: body})
}

// Exited reports the end of the session. Errors are shown on the console
// before the session is terminated.
func (s *EventSink) Exited(info events.ExitInfo) {
	switch info.Reason {
	case events.ExitError:
		s.Output(fmt.Sprintf("Debug session ended unexpectedly: %v", info.Err))
	case events.ExitProcessExited:
		s.Output("The process exited.")
	default:
		s.log.Debugf("session ended: %v", info.Reason)
	}
	s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

// Output shows msg on the debug console.
func (s *EventSink) Output(msg string) {
	s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body:  dap.OutputEventBody{Category: "console", Output: msg + "\n"},
	})
}
