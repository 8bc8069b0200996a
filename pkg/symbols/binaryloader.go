package symbols

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// ModuleReplacedFunc is called after a placeholder was replaced.
type ModuleReplacedFunc func(added, removed backend.Module)

// BinaryLoader replaces placeholder modules with the real binaries.
type BinaryLoader struct {
	finder Finder
	target backend.Target

	// swapMu serializes swaps, the target has neither module between the
	// removal of the placeholder and the addition of its replacement.
	swapMu sync.Mutex

	mu       sync.Mutex
	handlers []ModuleReplacedFunc
}

// NewBinaryLoader returns a loader adding modules to target.
func NewBinaryLoader(finder Finder, target backend.Target) *BinaryLoader {
	return &BinaryLoader{finder: finder, target: target}
}

// OnModuleReplaced registers fn to be called, synchronously, after every
// successful swap.
func (l *BinaryLoader) OnModuleReplaced(fn ModuleReplacedFunc) {
	l.mu.Lock()
	l.handlers = append(l.handlers, fn)
	l.mu.Unlock()
}

// LoadBinary finds the binary of the placeholder m and loads it in its
// place. It returns the replacement and true on success, m and false if m
// is not a placeholder or the swap failed.
//
// If the binary can't be added once the placeholder is removed the target
// is left without the module.
func (l *BinaryLoader) LoadBinary(ctx context.Context, m backend.Module, log io.Writer, forceLoad bool) (backend.Module, bool) {
	if !IsPlaceholderModule(m) {
		return m, false
	}
	name := m.PlatformFileSpec().Filename
	if name == "" {
		logLine(log, "Unable to search for binary. Binary file name is unknown.")
		return m, false
	}
	id, err := buildid.Parse(m.UUID())
	if err != nil {
		logflags.SymbolsLogger().Warnf("module %s: %v", name, err)
	}
	path, ok := l.finder.FindFile(ctx, name, id, false, log, forceLoad)
	if !ok {
		return m, false
	}

	added, ok := l.swap(m, path, log)
	if !ok {
		return m, false
	}

	l.mu.Lock()
	handlers := append([]ModuleReplacedFunc(nil), l.handlers...)
	l.mu.Unlock()
	for _, fn := range handlers {
		fn(added, m)
	}
	return added, true
}

func (l *BinaryLoader) swap(placeholder backend.Module, path string, log io.Writer) (backend.Module, bool) {
	l.swapMu.Lock()
	defer l.swapMu.Unlock()

	props, err := GetPlaceholderProperties(placeholder)
	if err != nil {
		logLine(log, err.Error())
		return nil, false
	}
	triple, uuid := placeholder.Triple(), placeholder.UUID()
	l.target.RemoveModule(placeholder)

	added := l.target.AddModule(path, triple, uuid)
	if added == nil {
		logLine(log, fmt.Sprintf("Failed to load binary '%s'", path))
		return nil, false
	}
	logLine(log, "Binary loaded successfully.")
	logflags.SymbolsLogger().Infof("Successfully loaded binary '%s'.", path)

	if err := ApplyPlaceholderProperties(added, props, l.target); err != nil {
		logLine(log, err.Error())
		return nil, false
	}
	return added, true
}
