package module

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/derekparker/trie"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// EventKind is the kind of a cache event.
type EventKind int

const (
	ModuleAdded EventKind = iota
	ModuleRemoved
)

func (k EventKind) String() string {
	switch k {
	case ModuleAdded:
		return "ModuleAdded"
	case ModuleRemoved:
		return "ModuleRemoved"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is delivered to the handlers of a Cache.
type Event struct {
	Kind   EventKind
	Module *Module
}

// Handler receives cache events on the dispatcher goroutine.
type Handler func(Event)

// Cache maps backend modules to Module wrappers. Modules are identified by
// their backend id, GetOrCreate returns the same wrapper for as long as the
// module stays cached.
//
// Events are delivered in the order of the mutations that caused them, on
// a single goroutine owned by the cache.
type Cache struct {
	mu            sync.Mutex
	modules       map[int64]*Module
	names         *trie.Trie
	nextLoadOrder uint32

	handlersMu sync.Mutex
	handlers   []Handler

	queueMu sync.Mutex
	queue   []Event
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	stopped chan struct{}
}

// NewCache returns an empty cache and starts its dispatcher.
func NewCache() *Cache {
	c := &Cache{
		modules: make(map[int64]*Module),
		names:   trie.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// Subscribe registers h for all events posted after the call.
func (c *Cache) Subscribe(h Handler) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, h)
	c.handlersMu.Unlock()
}

// Close stops the dispatcher once every posted event was delivered.
func (c *Cache) Close() {
	c.queueMu.Lock()
	if c.closed {
		c.queueMu.Unlock()
		return
	}
	c.closed = true
	c.queueMu.Unlock()
	close(c.done)
	<-c.stopped
}

// GetOrCreate returns the wrapper of m, creating it if m is not cached.
func (c *Cache) GetOrCreate(m backend.Module, program string) *Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mod, ok := c.modules[m.ID()]; ok {
		return mod
	}
	mod := &Module{m: m, loadOrder: c.nextLoadOrder, program: program}
	c.nextLoadOrder++
	c.add(mod)
	return mod
}

// Get returns the cached wrapper of m.
func (c *Cache) Get(m backend.Module) (*Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mod, ok := c.modules[m.ID()]
	return mod, ok
}

// Remove removes the wrapper of m and returns true if there was one.
func (c *Cache) Remove(m backend.Module) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	mod, ok := c.modules[m.ID()]
	if !ok {
		return false
	}
	c.remove(mod)
	return true
}

// RemoveAllExcept removes every module that is not in live.
func (c *Cache) RemoveAllExcept(live []backend.Module) {
	keep := make(map[int64]bool, len(live))
	for _, m := range live {
		keep[m.ID()] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var dead []*Module
	for id, mod := range c.modules {
		if !keep[id] {
			dead = append(dead, mod)
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].loadOrder < dead[j].loadOrder })
	for _, mod := range dead {
		c.remove(mod)
	}
}

// Replace moves the wrapper state of removed to added: removed leaves the
// cache and added takes its load order. It does nothing if removed is not
// cached.
func (c *Cache) Replace(added, removed backend.Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.modules[removed.ID()]
	if !ok {
		return
	}
	c.remove(old)
	if _, ok := c.modules[added.ID()]; ok {
		return
	}
	c.add(&Module{m: added, loadOrder: old.loadOrder, program: old.program})
}

// Modules returns the cached modules in load order.
func (c *Cache) Modules() []*Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := make([]*Module, 0, len(c.modules))
	for _, mod := range c.modules {
		r = append(r, mod)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].loadOrder < r[j].loadOrder })
	return r
}

// FindByPrefix returns the cached modules whose name starts with prefix, in
// load order.
func (c *Cache) FindByPrefix(prefix string) []*Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	var r []*Module
	for _, key := range c.names.PrefixSearch(prefix) {
		node, ok := c.names.Find(key)
		if !ok {
			continue
		}
		// The trie does not always drop the last key of a branch.
		if mod := node.Meta().(*Module); c.modules[mod.m.ID()] == mod {
			r = append(r, mod)
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].loadOrder < r[j].loadOrder })
	return r
}

func nameKey(mod *Module) string {
	return mod.Name() + "\x00" + strconv.FormatInt(mod.m.ID(), 10) + "\x00"
}

func (c *Cache) add(mod *Module) {
	c.modules[mod.m.ID()] = mod
	c.names.Add(nameKey(mod), mod)
	logflags.ModulesLogger().Debugf("module added: %s (id %d, load order %d)", mod.Name(), mod.m.ID(), mod.loadOrder)
	c.post(Event{Kind: ModuleAdded, Module: mod})
}

func (c *Cache) remove(mod *Module) {
	delete(c.modules, mod.m.ID())
	c.names.Remove(nameKey(mod))
	logflags.ModulesLogger().Debugf("module removed: %s (id %d)", mod.Name(), mod.m.ID())
	c.post(Event{Kind: ModuleRemoved, Module: mod})
}

// post queues ev for the dispatcher. It is called with c.mu held so events
// are queued in mutation order.
func (c *Cache) post(ev Event) {
	c.queueMu.Lock()
	c.queue = append(c.queue, ev)
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Cache) dispatch() {
	defer close(c.stopped)
	for {
		c.queueMu.Lock()
		events := c.queue
		c.queue = nil
		c.queueMu.Unlock()

		for _, ev := range events {
			c.deliver(ev)
		}
		if len(events) > 0 {
			continue
		}
		select {
		case <-c.wake:
		case <-c.done:
			c.queueMu.Lock()
			events := c.queue
			c.queue = nil
			c.queueMu.Unlock()
			for _, ev := range events {
				c.deliver(ev)
			}
			return
		}
	}
}

func (c *Cache) deliver(ev Event) {
	c.handlersMu.Lock()
	handlers := append([]Handler(nil), c.handlers...)
	c.handlersMu.Unlock()
	for _, h := range handlers {
		c.call(h, ev)
	}
}

func (c *Cache) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logflags.ModulesLogger().Warnf("Warning: %s handler failed: %v", ev.Kind, r)
		}
	}()
	h(ev)
}
