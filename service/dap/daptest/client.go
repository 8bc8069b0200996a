// Package daptest provides a sample client with utilities
// for testing the DAP events sent by the debug engine.
package daptest

import (
	"bufio"
	"io"
	"testing"

	"github.com/google/go-dap"
)

// Client reads the messages sent to a DAP client.
// All client methods are synchronous.
type Client struct {
	reader *bufio.Reader
	// seq is the sequence number expected on the next message.
	seq int
}

// NewClient creates a new Client reading from r.
func NewClient(r io.Reader) *Client {
	return &Client{reader: bufio.NewReader(r), seq: 1}
}

// ReadMessage reads the next message and checks its sequence number.
func (c *Client) ReadMessage(t *testing.T) dap.Message {
	t.Helper()
	m, err := dap.ReadProtocolMessage(c.reader)
	if err != nil {
		t.Fatal(err)
	}
	c.seq++
	return m
}

func (c *Client) ExpectBreakpointEvent(t *testing.T) *dap.BreakpointEvent {
	t.Helper()
	m := c.ReadMessage(t)
	ev, ok := m.(*dap.BreakpointEvent)
	if !ok {
		t.Fatalf("got %#v, want *dap.BreakpointEvent", m)
	}
	c.checkSeq(t, ev.Seq)
	return ev
}

func (c *Client) ExpectModuleEvent(t *testing.T) *dap.ModuleEvent {
	t.Helper()
	m := c.ReadMessage(t)
	ev, ok := m.(*dap.ModuleEvent)
	if !ok {
		t.Fatalf("got %#v, want *dap.ModuleEvent", m)
	}
	c.checkSeq(t, ev.Seq)
	return ev
}

func (c *Client) ExpectStoppedEvent(t *testing.T) *dap.StoppedEvent {
	t.Helper()
	m := c.ReadMessage(t)
	ev, ok := m.(*dap.StoppedEvent)
	if !ok {
		t.Fatalf("got %#v, want *dap.StoppedEvent", m)
	}
	c.checkSeq(t, ev.Seq)
	return ev
}

func (c *Client) ExpectOutputEvent(t *testing.T) *dap.OutputEvent {
	t.Helper()
	m := c.ReadMessage(t)
	ev, ok := m.(*dap.OutputEvent)
	if !ok {
		t.Fatalf("got %#v, want *dap.OutputEvent", m)
	}
	c.checkSeq(t, ev.Seq)
	return ev
}

func (c *Client) ExpectTerminatedEvent(t *testing.T) *dap.TerminatedEvent {
	t.Helper()
	m := c.ReadMessage(t)
	ev, ok := m.(*dap.TerminatedEvent)
	if !ok {
		t.Fatalf("got %#v, want *dap.TerminatedEvent", m)
	}
	c.checkSeq(t, ev.Seq)
	return ev
}

// checkSeq checks seq against the number of messages read so far.
func (c *Client) checkSeq(t *testing.T, seq int) {
	t.Helper()
	if want := c.seq - 1; seq != want {
		t.Errorf("got seq %d, want %d", seq, want)
	}
}
