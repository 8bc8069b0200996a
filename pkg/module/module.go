// Package module keeps one Module wrapper per backend module of a debugged
// program and notifies listeners as modules come and go.
package module

import (
	"strings"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symbols"
)

const unknownName = "<unknown>"

// Module is the IDE-facing view of a backend module.
type Module struct {
	m         backend.Module
	loadOrder uint32
	program   string
}

// Backend returns the backend module m wraps.
func (m *Module) Backend() backend.Module { return m.m }

// LoadOrder is the position of the module in the order modules were first
// seen by the cache.
func (m *Module) LoadOrder() uint32 { return m.loadOrder }

// Program is the id of the program the module belongs to.
func (m *Module) Program() string { return m.program }

// Name returns the file name of the module on the target.
func (m *Module) Name() string {
	if name := m.m.PlatformFileSpec().Filename; name != "" {
		return name
	}
	return unknownName
}

// Info describes a module.
type Info struct {
	Name string
	// Path is the path of the module on the target.
	Path string
	// SymbolLocation is the local symbol file, empty when symbols are not
	// loaded.
	SymbolLocation string
	LoadAddress    uint64
	Size           uint64
	LoadOrder      uint32
	HasSymbols     bool
	Is64Bit        bool
	// DebugMessage explains why symbols are missing, if known.
	DebugMessage string
}

// Info returns the description of m. inclusion is consulted to explain
// missing symbols and may be nil.
func (m *Module) Info(inclusion *symbols.InclusionSettings) Info {
	platform := m.m.PlatformFileSpec()
	info := Info{
		Name:       platform.Filename,
		Path:       platform.Path(),
		LoadOrder:  m.loadOrder,
		HasSymbols: symbols.HasSymbolsLoaded(m.m),
		Is64Bit:    strings.HasPrefix(m.m.Triple(), "x86_64") || strings.HasPrefix(m.m.Triple(), "aarch64"),
	}
	if code, ok := m.m.FirstCodeSection(); ok {
		info.LoadAddress = code.LoadAddress
		info.Size = code.Size
	} else if s, ok := m.m.FindSection(symbols.PlaceholderSectionName); ok {
		info.LoadAddress = s.LoadAddress
		info.Size = s.Size
	}
	if info.HasSymbols {
		info.SymbolLocation = m.m.SymbolFileSpec().Path()
	} else if !inclusion.IsModuleIncluded(m.Name()) {
		info.DebugMessage = symbols.ModuleExcludedMessage(m.Name())
	}
	return info
}

// SymbolSearchInfo returns the log of the last search for the files of m.
func (m *Module) SymbolSearchInfo(logs *symbols.SearchLogHolder, symbolStoresEnabled bool) string {
	if log := logs.Get(m.m); log != "" {
		return log
	}
	switch {
	case symbols.HasSymbolsLoaded(m.m):
		return "Symbols for this module were automatically located by the debugger."
	case !symbolStoresEnabled:
		return "Symbols are not loaded automatically because symbol store support is disabled.\n" +
			"Enable use-symbol-stores in the configuration to load symbols automatically when the debug session is started.\n" +
			"Note that this may slow down your debug session startup."
	}
	return ""
}
