// Package symbols finds and loads the binary and symbol files of the
// modules of a debug target.
//
// Modules of core files and of processes whose binaries are not available
// to the backend start out as placeholders: a single section that records
// where the module was mapped. BinaryLoader swaps placeholders for the real
// binaries, SymbolLoader attaches separate symbol files, and
// ModuleFileLoader drives both over a batch of modules.
package symbols

import (
	"errors"
	"fmt"
	"io"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// PlaceholderSectionName is the only section of a placeholder module.
const PlaceholderSectionName = ".module_image"

// IsPlaceholderModule returns true if m has no binary loaded, only the
// section recording its load address.
func IsPlaceholderModule(m backend.Module) bool {
	if m.NumSections() != 1 {
		return false
	}
	_, ok := m.FindSection(PlaceholderSectionName)
	return ok
}

// HasSymbolsLoaded returns true if debug information is available for m.
func HasSymbolsLoaded(m backend.Module) bool {
	return m.NumCompileUnits() > 0
}

// HasBinaryLoaded returns true if m is not a placeholder.
func HasBinaryLoaded(m backend.Module) bool {
	return !IsPlaceholderModule(m)
}

// PlaceholderProperties is what a replacement module inherits from the
// placeholder it replaces.
type PlaceholderProperties struct {
	// Slide is the load address of the placeholder section, which is the
	// address the module's first byte was mapped at.
	Slide            int64
	PlatformFileSpec backend.FileSpec
}

// GetPlaceholderProperties snapshots the properties of a placeholder. It
// must be called before the placeholder is removed from the target.
func GetPlaceholderProperties(m backend.Module) (PlaceholderProperties, error) {
	section, ok := m.FindSection(PlaceholderSectionName)
	if !ok {
		return PlaceholderProperties{}, errors.New("Placeholder properties can only be copied from placeholder modules.")
	}
	if section.LoadAddress == backend.InvalidAddress {
		return PlaceholderProperties{}, errors.New("Failed to get load address from the placeholder section.")
	}
	fs := m.PlatformFileSpec()
	if fs.IsEmpty() {
		return PlaceholderProperties{}, errors.New("Failed to get file spec from placeholder module.")
	}
	return PlaceholderProperties{Slide: int64(section.LoadAddress), PlatformFileSpec: fs}, nil
}

// ApplyPlaceholderProperties loads m where the placeholder was and gives it
// the placeholder's platform file spec. The slide is corrected by the
// preferred base of m, which differs between executables and libraries.
func ApplyPlaceholderProperties(m backend.Module, props PlaceholderProperties, target backend.Target) error {
	slide := props.Slide
	if code, ok := m.FirstCodeSection(); ok {
		slide -= int64(code.FileAddress - code.FileOffset)
	}
	if err := target.SetModuleLoadAddress(m, slide); err != nil {
		return fmt.Errorf("Failed to set load address on destination module: %v.", err)
	}
	if !m.SetPlatformFileSpec(props.PlatformFileSpec) {
		return errors.New("Failed to set file spec on the destination module.")
	}
	return nil
}

// TargetModules returns the modules of t, skipping the ones the backend
// could not return.
func TargetModules(t backend.Target) []backend.Module {
	n := t.NumModules()
	r := make([]backend.Module, 0, n)
	for i := 0; i < n; i++ {
		if m := t.ModuleAtIndex(i); m != nil {
			r = append(r, m)
		}
	}
	return r
}

// CountLoaded returns how many of modules have symbols and how many have
// their binary loaded.
func CountLoaded(modules []backend.Module) (withSymbols, withBinary int) {
	for _, m := range modules {
		if HasSymbolsLoaded(m) {
			withSymbols++
		}
		if HasBinaryLoaded(m) {
			withBinary++
		}
	}
	return withSymbols, withBinary
}

// logLine writes msg to the search log and to the symbols trace.
func logLine(log io.Writer, msg string) {
	logflags.SymbolsLogger().Debug(msg)
	if log != nil {
		fmt.Fprintln(log, msg)
	}
}
