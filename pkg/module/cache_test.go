package module

import (
	"fmt"
	"sync"
	"testing"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend/backendtest"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symbols"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("%s %s %d", ev.Kind, ev.Module.Name(), ev.Module.Backend().ID()))
}

func newModule(id int64, name string) *backendtest.Module {
	fs := backend.FileSpec{Directory: "/lib", Filename: name}
	return &backendtest.Module{
		Id:           id,
		File:         fs,
		Platform:     fs,
		Symbols:      fs,
		TripleString: "x86_64-unknown-linux-gnu",
		Sections:     []backend.Section{{Name: ".text", LoadAddress: 0x1000, Size: 0x200}, {Name: ".data"}},
	}
}

func TestCacheIdentity(t *testing.T) {
	c := NewCache()
	rec := &recorder{}
	c.Subscribe(rec.handle)

	a := c.GetOrCreate(newModule(1, "liba.so"), "prog")
	// A different handle to the same backend module.
	again := c.GetOrCreate(newModule(1, "liba.so"), "prog")
	if a != again {
		t.Fatal("expected the same wrapper for the same module id")
	}
	b := c.GetOrCreate(newModule(2, "libb.so"), "prog")
	if a == b {
		t.Fatal("expected different wrappers for different modules")
	}
	if a.LoadOrder() != 0 || b.LoadOrder() != 1 || a.Program() != "prog" {
		t.Fatalf("unexpected load orders %d %d", a.LoadOrder(), b.LoadOrder())
	}

	if !c.Remove(newModule(1, "liba.so")) {
		t.Fatal("expected liba.so to be removed")
	}
	if c.Remove(newModule(1, "liba.so")) {
		t.Fatal("expected second remove to fail")
	}
	if _, ok := c.Get(newModule(1, "liba.so")); ok {
		t.Fatal("removed module still cached")
	}
	if fresh := c.GetOrCreate(newModule(1, "liba.so"), "prog"); fresh == a || fresh.LoadOrder() != 2 {
		t.Fatal("expected a new wrapper after removal")
	}
	c.Close()

	expected := []string{
		"ModuleAdded liba.so 1",
		"ModuleAdded libb.so 2",
		"ModuleRemoved liba.so 1",
		"ModuleAdded liba.so 1",
	}
	if fmt.Sprint(rec.events) != fmt.Sprint(expected) {
		t.Fatalf("expected %v, got %v", expected, rec.events)
	}
}

func TestCacheRemoveAllExcept(t *testing.T) {
	c := NewCache()
	rec := &recorder{}
	c.Subscribe(rec.handle)
	for i, name := range []string{"liba.so", "libb.so", "libc.so", "libd.so"} {
		c.GetOrCreate(newModule(int64(i+1), name), "prog")
	}
	c.RemoveAllExcept([]backend.Module{newModule(2, "libb.so"), newModule(4, "libd.so"), newModule(9, "libz.so")})

	var names []string
	for _, m := range c.Modules() {
		names = append(names, m.Name())
	}
	if fmt.Sprint(names) != "[libb.so libd.so]" {
		t.Fatalf("unexpected modules %v", names)
	}
	c.Close()
	if len(rec.events) != 6 || rec.events[4] != "ModuleRemoved liba.so 1" || rec.events[5] != "ModuleRemoved libc.so 3" {
		t.Fatalf("unexpected events %v", rec.events)
	}
}

func TestCacheHandlerPanic(t *testing.T) {
	c := NewCache()
	rec := &recorder{}
	c.Subscribe(func(ev Event) { panic("handler bug") })
	c.Subscribe(rec.handle)
	c.GetOrCreate(newModule(1, "liba.so"), "prog")
	c.GetOrCreate(newModule(2, "libb.so"), "prog")
	c.Close()
	if len(rec.events) != 2 {
		t.Fatalf("expected delivery to continue after a panic, got %v", rec.events)
	}
}

func TestCacheReplace(t *testing.T) {
	c := NewCache()
	rec := &recorder{}
	c.Subscribe(rec.handle)
	c.GetOrCreate(newModule(1, "liba.so"), "prog")
	placeholder := backendtest.NewPlaceholder(2, "/lib/libb.so", "", 0x7f0000000000)
	c.GetOrCreate(placeholder, "prog")

	added := newModule(1002, "libb.so")
	c.Replace(added, placeholder)
	m, ok := c.Get(added)
	if !ok || m.LoadOrder() != 1 || m.Backend() != backend.Module(added) {
		t.Fatal("expected the replacement to take the place of the placeholder")
	}
	if _, ok := c.Get(placeholder); ok {
		t.Fatal("placeholder still cached")
	}
	// Unknown modules are ignored.
	c.Replace(newModule(2000, "libx.so"), newModule(999, "liby.so"))
	if len(c.Modules()) != 2 {
		t.Fatalf("unexpected modules %v", c.Modules())
	}
	c.Close()
	if rec.events[2] != "ModuleRemoved libb.so 2" || rec.events[3] != "ModuleAdded libb.so 1002" {
		t.Fatalf("unexpected events %v", rec.events)
	}
}

func TestCacheFindByPrefix(t *testing.T) {
	c := NewCache()
	defer c.Close()
	c.GetOrCreate(newModule(1, "libvulkan.so.1"), "prog")
	c.GetOrCreate(newModule(2, "libc.so.6"), "prog")
	c.GetOrCreate(newModule(3, "libvk.so"), "prog")
	c.GetOrCreate(newModule(4, "libc.so.6"), "prog")

	tests := []struct {
		prefix string
		ids    []int64
	}{
		{"libc", []int64{2, 4}},
		{"libv", []int64{1, 3}},
		{"libvu", []int64{1}},
		{"game", nil},
	}
	for _, tt := range tests {
		var ids []int64
		for _, m := range c.FindByPrefix(tt.prefix) {
			ids = append(ids, m.Backend().ID())
		}
		if fmt.Sprint(ids) != fmt.Sprint(tt.ids) {
			t.Errorf("%s: expected %v, got %v", tt.prefix, tt.ids, ids)
		}
	}

	c.Remove(newModule(2, "libc.so.6"))
	if got := c.FindByPrefix("libc"); len(got) != 1 || got[0].Backend().ID() != 4 {
		t.Fatalf("unexpected result after remove: %v", got)
	}
}

func TestModuleInfo(t *testing.T) {
	m := &Module{m: newModule(1, "libfoo.so"), loadOrder: 3}
	info := m.Info(&symbols.InclusionSettings{ExcludeList: []string{"libfoo.so"}})
	expected := Info{
		Name:         "libfoo.so",
		Path:         "/lib/libfoo.so",
		LoadAddress:  0x1000,
		Size:         0x200,
		LoadOrder:    3,
		Is64Bit:      true,
		DebugMessage: symbols.ModuleExcludedMessage("libfoo.so"),
	}
	if info != expected {
		t.Fatalf("expected %#v, got %#v", expected, info)
	}

	withSymbols := newModule(2, "libbar.so")
	withSymbols.CompileUnits = 1
	withSymbols.Symbols = backend.FileSpec{Directory: "/tmp/symbols", Filename: "libbar.so.debug"}
	info = (&Module{m: withSymbols}).Info(nil)
	if !info.HasSymbols || info.SymbolLocation != "/tmp/symbols/libbar.so.debug" || info.DebugMessage != "" {
		t.Fatalf("unexpected info %#v", info)
	}

	logs := symbols.NewSearchLogHolder()
	if got := m.SymbolSearchInfo(logs, true); got != "" {
		t.Fatalf("unexpected search info %q", got)
	}
	if got := (&Module{m: withSymbols}).SymbolSearchInfo(logs, false); got != "Symbols for this module were automatically located by the debugger." {
		t.Fatalf("unexpected search info %q", got)
	}
	logs.Append(m.Backend(), "Searching for 'libfoo.so'")
	if got := m.SymbolSearchInfo(logs, false); got != "Searching for 'libfoo.so'" {
		t.Fatalf("unexpected search info %q", got)
	}
}
