package recommend

import "time"

// MetricsRecorder はおすすめ処理のメトリクス記録インターフェース。
// metrics.Collector が実装する。
type MetricsRecorder interface {
	RecordRecomputeRun(status string, updated, skipped, agedOut int, duration time.Duration)
	RecordCacheLookup(hit bool)
	RecordCacheError(op string)
	RecordSettingsLoad(fallback bool)
	RecordSelectionLatency(duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordRecomputeRun(string, int, int, int, time.Duration) {}
func (noopMetrics) RecordCacheLookup(bool)                                  {}
func (noopMetrics) RecordCacheError(string)                                 {}
func (noopMetrics) RecordSettingsLoad(bool)                                 {}
func (noopMetrics) RecordSelectionLatency(time.Duration)                    {}

func metricsOrNoop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
