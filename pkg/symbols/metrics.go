package symbols

import (
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// LoadSymbolData describes one run of ModuleFileLoader.
type LoadSymbolData struct {
	FlatStoresCount       int
	StructuredStoresCount int
	HTTPStoresCount       int
	DebuginfodStoresCount int

	ModulesCount int

	ModulesBeforeCount                  int
	ModulesWithSymbolsLoadedBeforeCount int
	BinariesLoadedBeforeCount           int

	ModulesAfterCount                  int
	ModulesWithSymbolsLoadedAfterCount int
	BinariesLoadedAfterCount           int
}

// MetricsRecorder receives the load statistics before and after a batch.
type MetricsRecorder interface {
	RecordBeforeLoad(data *LoadSymbolData)
	RecordAfterLoad(data *LoadSymbolData)
}

// LogMetricsRecorder adds store counts to the statistics of a batch and
// logs them on the symbols layer. The last recorded values are kept.
type LogMetricsRecorder struct {
	Finder *FileFinder

	Before LoadSymbolData
	After  LoadSymbolData
}

func (r *LogMetricsRecorder) RecordBeforeLoad(data *LoadSymbolData) {
	if r.Finder != nil {
		r.Finder.RecordMetrics(data)
	}
	r.Before = *data
	logflags.SymbolsLogger().WithFields(logflags.Fields{
		"flat":        data.FlatStoresCount,
		"structured":  data.StructuredStoresCount,
		"http":        data.HTTPStoresCount,
		"debuginfod":  data.DebuginfodStoresCount,
		"modules":     data.ModulesBeforeCount,
		"withSymbols": data.ModulesWithSymbolsLoadedBeforeCount,
		"withBinary":  data.BinariesLoadedBeforeCount,
	}).Info("loading module files")
}

func (r *LogMetricsRecorder) RecordAfterLoad(data *LoadSymbolData) {
	if data.ModulesAfterCount < data.ModulesCount {
		data.ModulesAfterCount = data.ModulesCount
	}
	r.After = *data
	logflags.SymbolsLogger().WithFields(logflags.Fields{
		"modules":     data.ModulesAfterCount,
		"withSymbols": data.ModulesWithSymbolsLoadedAfterCount,
		"withBinary":  data.BinariesLoadedAfterCount,
	}).Info("module files loaded")
}
