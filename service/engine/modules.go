package engine

import (
	"context"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/module"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symbols"
	"github.com/googlestadia/vsi-lldb-sub002/service/launcher"
)

// Modules returns the description of the modules of the program, in load
// order.
func (e *Engine) Modules() []module.Info {
	inclusion := e.inclusion()
	mods := e.modules.Modules()
	r := make([]module.Info, 0, len(mods))
	for _, m := range mods {
		r = append(r, m.Info(inclusion))
	}
	return r
}

// FindModules returns the modules whose name starts with prefix.
func (e *Engine) FindModules(prefix string) []*module.Module {
	return e.modules.FindByPrefix(prefix)
}

// SymbolSearchInfo returns the log of the last search for the files of m.
func (e *Engine) SymbolSearchInfo(m *module.Module) string {
	return m.SymbolSearchInfo(e.searchLogs, e.conf.Settings.UseSymbolStores)
}

// LoadSymbols loads the binaries and symbols of mods, or of every module of
// the program if mods is empty. The inclusion settings are ignored and the
// stores are always searched. It returns true if every file was loaded.
//
// The search runs on the calling goroutine, it is stopped by cancelling
// ctx.
func (e *Engine) LoadSymbols(ctx context.Context, mods []*module.Module) (bool, error) {
	var targets []backend.Module
	for _, m := range mods {
		targets = append(targets, m.Backend())
	}
	result, err := e.loadModuleFiles(ctx, targets, nil, true, true)
	if err != nil {
		return false, err
	}
	return !result.Failed, nil
}

// loadModuleFiles loads the files of modules, all modules of the target if
// modules is nil. forceLoad is set for loads the user asked for.
func (e *Engine) loadModuleFiles(ctx context.Context, modules []backend.Module, inclusion *symbols.InclusionSettings, useSymbolStores, forceLoad bool) (symbols.LoadModuleFilesResult, error) {
	var loader *symbols.ModuleFileLoader
	err := e.withSession(func(s *launcher.AttachSession) error {
		loader = e.loader
		if modules == nil {
			modules = symbols.TargetModules(s.Target)
		}
		return nil
	})
	if err != nil {
		return symbols.LoadModuleFilesResult{}, err
	}

	result, err := loader.LoadModuleFiles(ctx, modules, inclusion, useSymbolStores, forceLoad, e.recorder)
	if err != nil {
		e.log.Debugf("module file load stopped: %v", err)
		return result, err
	}
	if result.SuggestToEnableSymbolStore {
		e.output(msgSuggestSymbolStore)
	}
	e.dispatcher.Post(e.refreshModules)
	return result, nil
}
