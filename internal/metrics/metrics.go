// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"
)

// Collector はPrometheusメトリクスを収集する実装。
// recommend.MetricsRecorder を満たし、再計算・キャッシュ・設定読み込み・選出のメトリクスを記録する。
type Collector struct {
	recomputeRuns     *prometheus.CounterVec
	recomputePosts    *prometheus.CounterVec
	recomputeDuration prometheus.Histogram
	lastRecompute     prometheus.Gauge
	cacheLookups      *prometheus.CounterVec
	cacheErrors       *prometheus.CounterVec
	cacheGCRewrites   prometheus.Counter
	settingsLoads     *prometheus.CounterVec
	selectionLatency  prometheus.Histogram
	breakerState      *prometheus.GaugeVec
	eventsHandled     *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		recomputeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallrank_recompute_runs_total",
			Help: "一括再計算の実行回数（結果別）",
		}, []string{"status"}),
		recomputePosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallrank_recompute_posts_total",
			Help: "一括再計算で処理した投稿数（更新・スキップ・期限切れ別）",
		}, []string{"outcome"}),
		recomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallrank_recompute_duration_seconds",
			Help:    "一括再計算の所要時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastRecompute: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallrank_recompute_last_success_timestamp_seconds",
			Help: "最後に一括再計算が完了した時刻（UNIX秒）",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallrank_list_cache_lookups_total",
			Help: "おすすめ一覧キャッシュの参照回数（ヒット・ミス別）",
		}, []string{"result"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallrank_list_cache_errors_total",
			Help: "おすすめ一覧キャッシュの操作失敗数（操作別）",
		}, []string{"op"}),
		cacheGCRewrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallrank_cache_gc_rewrites_total",
			Help: "キャッシュの値ログGCで書き直したファイル数",
		}),
		settingsLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallrank_settings_loads_total",
			Help: "おすすめ設定の読み込み回数（取得元別）",
		}, []string{"source"}),
		selectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallrank_selection_latency_seconds",
			Help:    "おすすめ一覧の選出レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallrank_circuit_breaker_state",
			Help: "サーキットブレーカーの状態（0=closed, 1=half-open, 2=open）",
		}, []string{"breaker"}),
		eventsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallrank_post_events_handled_total",
			Help: "処理した投稿変更イベント数（種別・結果別）",
		}, []string{"kind", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallrank_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.recomputeRuns,
		c.recomputePosts,
		c.recomputeDuration,
		c.lastRecompute,
		c.cacheLookups,
		c.cacheErrors,
		c.cacheGCRewrites,
		c.settingsLoads,
		c.selectionLatency,
		c.breakerState,
		c.eventsHandled,
		c.httpStatus,
	)

	return c
}

// RecordRecomputeRun は一括再計算1回分の結果を記録する。
func (c *Collector) RecordRecomputeRun(status string, updated, skipped, agedOut int, duration time.Duration) {
	c.recomputeRuns.WithLabelValues(status).Inc()
	c.recomputePosts.WithLabelValues("updated").Add(float64(updated))
	c.recomputePosts.WithLabelValues("skipped").Add(float64(skipped))
	c.recomputePosts.WithLabelValues("aged_out").Add(float64(agedOut))
	c.recomputeDuration.Observe(duration.Seconds())
	if status == "completed" {
		c.lastRecompute.SetToCurrentTime()
	}
}

// RecordCacheLookup はキャッシュ参照のヒット・ミスを記録する。
func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheError はキャッシュ操作の失敗を記録する。
func (c *Collector) RecordCacheError(op string) {
	c.cacheErrors.WithLabelValues(op).Inc()
}

// RecordCacheGC は値ログGCで書き直したファイル数を記録する。
func (c *Collector) RecordCacheGC(rewrites int) {
	c.cacheGCRewrites.Add(float64(rewrites))
}

// RecordSettingsLoad は設定の読み込み結果を記録する。
func (c *Collector) RecordSettingsLoad(fallback bool) {
	source := "repository"
	if fallback {
		source = "fallback"
	}
	c.settingsLoads.WithLabelValues(source).Inc()
}

// RecordSelectionLatency はおすすめ一覧の選出レイテンシを記録する。
func (c *Collector) RecordSelectionLatency(duration time.Duration) {
	c.selectionLatency.Observe(duration.Seconds())
}

// ObserveBreakerState はサーキットブレーカーの状態遷移を記録する。
// resilience.StateObserver として渡す。
func (c *Collector) ObserveBreakerState(name string, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	c.breakerState.WithLabelValues(name).Set(v)
}

// RecordEventHandled は投稿変更イベントの処理結果を記録する。
func (c *Collector) RecordEventHandled(kind, result string) {
	c.eventsHandled.WithLabelValues(kind, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
