package symbols

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// importantCoreModules are libraries whose symbols matter most when
// looking at a crash dump. Failing to load one of them suggests enabling
// symbol stores.
var importantCoreModules = compileAll(
	`amdvlk64\.so`,
	`ggpvlk\.so`,
	`libanl-?.*\.so.*`,
	`libasound\.so.*`,
	`libatomic\.so.*`,
	`libBrokenLocale-?.*\.so`,
	`libc-?([0-9].[0-9]{2})?\.so.*`,
	`libc\+\+abi\.so.*`,
	`libcap\.so.*`,
	`libcidn-?.*\.so.*`,
	`libcrypto\.so.*`,
	`libcrypt-?.*\.so.*`,
	`libc\+\+\.so.*`,
	`libdbus-1\.so.*`,
	`libdl-?.*\.so.*`,
	`libdrm_amdgpu\.so.*`,
	`libdrm\.so.*`,
	`libgcc_s\.so.*`,
	`libgcrypt\.so.*`,
	`libggp_g3\.so.*`,
	`libggp\.so`,
	`libggp_with_heap_isolation\.so.*`,
	`libgomp\.so.*`,
	`libgpg-error\.so.*`,
	`libGPUPerfAPIVK\.so`,
	`libidn\.so.*`,
	`liblz4\.so.*`,
	`liblzma\.so.*`,
	`libmemusage\.so`,
	`libm-?.*\.so.*`,
	`libmvec-?.*\.so.*`,
	`libnettle\.so.*`,
	`libnsl-?.*\.so.*`,
	`libnss_compat-?.*\.so.*`,
	`libnss_dns-?.*\.so.*`,
	`libnss_files-?.*\.so.*`,
	`libnss_hesiod-?.*\.so.*`,
	`libnss_nisplus-?.*\.so.*`,
	`libnss_nis-?.*\.so.*`,
	`libpcprofile.so`,
	`libpcre\.so.*`,
	`libpthread-?.*\.so.*`,
	`libpulsecommon-12\.0\.so`,
	`libpulse-simple\.so.*`,
	`libpulse\.so.*`,
	`librenderdoc\.so`,
	`libresolv-?.*\.so.*`,
	`librgpserver\.so`,
	`librt-?.*\.so.*`,
	`libSegFault\.so`,
	`libselinux\.so.*`,
	`libsndfile\.so.*`,
	`libssl\.so.*`,
	`libsystemd\.so.*`,
	`libthread_db-1\.0\.so.*`,
	`libthread_db\.so.*`,
	`libutil-?.*\.so.*`,
	`libVkLayer.*\.so`,
	`libvulkan\.so.*`,
	`libz\.so.*`,
	`oskhost\.so`,
)

func compileAll(exprs ...string) []*regexp.Regexp {
	r := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		r[i] = regexp.MustCompile(expr)
	}
	return r
}

// BinaryResolver is implemented by BinaryLoader.
type BinaryResolver interface {
	LoadBinary(ctx context.Context, m backend.Module, log io.Writer, forceLoad bool) (backend.Module, bool)
}

// SymbolResolver is implemented by SymbolLoader.
type SymbolResolver interface {
	LoadSymbols(ctx context.Context, m backend.Module, log io.Writer, useSymbolStores, forceLoad bool) bool
}

// LoadModuleFilesResult is the outcome of a batch.
type LoadModuleFilesResult struct {
	// Failed is set if the binary or the symbols of any module could not
	// be loaded.
	Failed bool
	// SuggestToEnableSymbolStore is set when a core file is debugged
	// without a remote store and an important library could not be loaded.
	SuggestToEnableSymbolStore bool
}

// ModuleFileLoader loads missing binaries, then missing symbols, for a
// batch of modules. Failures are per module, the batch always runs to the
// end unless cancelled.
type ModuleFileLoader struct {
	binaries   BinaryResolver
	symbols    SymbolResolver
	searchLogs *SearchLogHolder
	// isCoreAttach is set when the target is a core file.
	isCoreAttach bool
	// remoteStoreUsed reports whether the search path reaches a remote
	// symbol server.
	remoteStoreUsed func() bool

	// Progress, if set, is called before each module is processed.
	Progress func(msg string)
}

// NewModuleFileLoader returns a loader for a session. remoteStoreUsed may
// be nil.
func NewModuleFileLoader(binaries BinaryResolver, symbols SymbolResolver, searchLogs *SearchLogHolder, isCoreAttach bool, remoteStoreUsed func() bool) *ModuleFileLoader {
	if remoteStoreUsed == nil {
		remoteStoreUsed = func() bool { return false }
	}
	return &ModuleFileLoader{
		binaries:        binaries,
		symbols:         symbols,
		searchLogs:      searchLogs,
		isCoreAttach:    isCoreAttach,
		remoteStoreUsed: remoteStoreUsed,
	}
}

// LoadModuleFiles loads the files of modules. A nil inclusion filters
// nothing out. forceLoad is set for loads the user asked for: stores then
// ignore what they remember about missing files.
//
// The returned error is non-nil only if ctx was cancelled, the result then
// covers the modules processed so far.
func (l *ModuleFileLoader) LoadModuleFiles(ctx context.Context, modules []backend.Module, inclusion *InclusionSettings, useSymbolStores, forceLoad bool, recorder MetricsRecorder) (result LoadModuleFilesResult, err error) {
	withSymbols, withBinary := CountLoaded(modules)
	data := &LoadSymbolData{
		ModulesCount:                        len(modules),
		ModulesBeforeCount:                  len(modules),
		ModulesAfterCount:                   len(modules),
		ModulesWithSymbolsLoadedBeforeCount: withSymbols,
		ModulesWithSymbolsLoadedAfterCount:  withSymbols,
		BinariesLoadedBeforeCount:           withBinary,
		BinariesLoadedAfterCount:            withBinary,
	}
	if recorder != nil {
		recorder.RecordBeforeLoad(data)
		defer recorder.RecordAfterLoad(data)
	}

	filtered := l.prefilter(modules, inclusion)
	withBinaries, err := l.loadBinaries(ctx, filtered, data, &result, forceLoad)
	if err != nil {
		return result, err
	}
	err = l.loadSymbols(ctx, withBinaries, data, &result, useSymbolStores, forceLoad)
	return result, err
}

func (l *ModuleFileLoader) prefilter(modules []backend.Module, inclusion *InclusionSettings) []backend.Module {
	var filtered []backend.Module
	for _, m := range modules {
		l.searchLogs.Reset(m)
		reason := reasonToSkip(m.PlatformFileSpec().Filename, inclusion)
		if reason == "" {
			filtered = append(filtered, m)
			continue
		}
		logflags.SymbolsLogger().Debug(reason)
		l.searchLogs.Append(m, reason)
	}
	return filtered
}

func reasonToSkip(name string, inclusion *InclusionSettings) string {
	switch {
	case strings.TrimSpace(name) == "":
		return "Module name not set."
	case strings.HasSuffix(name, "(deleted)"):
		return fmt.Sprintf("Module '%s' marked as deleted by the debugger.", name)
	case !inclusion.IsModuleIncluded(name):
		return ModuleExcludedMessage(name)
	}
	return ""
}

func (l *ModuleFileLoader) progress(format string, args ...interface{}) {
	if l.Progress != nil {
		l.Progress(fmt.Sprintf(format, args...))
	}
}

func (l *ModuleFileLoader) loadBinaries(ctx context.Context, modules []backend.Module, data *LoadSymbolData, result *LoadModuleFilesResult, forceLoad bool) ([]backend.Module, error) {
	var withBinary []backend.Module
	for i, m := range modules {
		if HasBinaryLoaded(m) {
			withBinary = append(withBinary, m)
			continue
		}
		if err := ctx.Err(); err != nil {
			return withBinary, err
		}
		name := m.PlatformFileSpec().Filename
		l.progress("Loading binary for %s (%d/%d)", name, i, len(modules))

		var log strings.Builder
		out, ok := l.binaries.LoadBinary(ctx, m, &log, forceLoad)
		if ok {
			withBinary = append(withBinary, out)
			data.BinariesLoadedAfterCount++
		} else {
			result.Failed = true
			result.SuggestToEnableSymbolStore = result.SuggestToEnableSymbolStore || l.shouldSuggestSymbolStore(name)
		}
		l.searchLogs.Append(out, log.String())
	}
	return withBinary, nil
}

func (l *ModuleFileLoader) loadSymbols(ctx context.Context, modules []backend.Module, data *LoadSymbolData, result *LoadModuleFilesResult, useSymbolStores, forceLoad bool) error {
	for i, m := range modules {
		if HasSymbolsLoaded(m) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := m.PlatformFileSpec().Filename
		l.progress("Loading symbols for %s (%d/%d)", name, i, len(modules))

		var log strings.Builder
		if l.symbols.LoadSymbols(ctx, m, &log, useSymbolStores, forceLoad) {
			data.ModulesWithSymbolsLoadedAfterCount++
		} else {
			result.Failed = true
		}
		l.searchLogs.Append(m, log.String())
	}
	return nil
}

func (l *ModuleFileLoader) shouldSuggestSymbolStore(name string) bool {
	if !l.isCoreAttach || l.remoteStoreUsed() {
		return false
	}
	for _, r := range importantCoreModules {
		if r.MatchString(name) {
			return true
		}
	}
	return false
}
