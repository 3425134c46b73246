package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/wallrank/internal/cache"
	"github.com/hitoshi/wallrank/internal/config"
	"github.com/hitoshi/wallrank/internal/metrics"
	"github.com/hitoshi/wallrank/internal/recommend"
	"github.com/hitoshi/wallrank/internal/repository"
	"github.com/hitoshi/wallrank/internal/worker/recompute"
)

// core はどの起動モードでも共通のスコアリング部品をまとめたもの。
type core struct {
	registry     *prometheus.Registry
	collector    *metrics.Collector
	posts        *repository.PostgresPostRepo
	badger       *cache.BadgerBackend
	listCache    *recommend.ListCache
	settings     *recommend.SettingsStore
	recalculator *recommend.Recalculator
	selector     *recommend.Selector
	scheduler    *recompute.Scheduler
}

// newCore はリポジトリ・キャッシュ・設定ストア・再計算・選出を組み立てる。
// 設定変更時は一覧キャッシュを全て無効化し、定期再計算の待機を張り直す。
func newCore(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*core, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	badger, err := cache.OpenBadger(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	posts := repository.NewPostgresPostRepo(db)
	settingRepo := repository.NewBreakerSettingRepo(
		repository.NewPostgresSettingRepo(db), logger, collector.ObserveBreakerState,
	)

	listCache := recommend.NewListCache(
		cache.NewBreakerBackend(badger, logger, collector.ObserveBreakerState),
		logger, collector,
	)
	listCache.TrackScoreWatermark(posts, cfg.CacheWatermarkInterval)
	settings := recommend.NewSettingsStore(settingRepo, cfg.SettingsCacheTTL, logger, collector)
	recalculator := recommend.NewRecalculator(posts, settings, listCache, logger, collector)
	selector := recommend.NewSelector(posts, settings, listCache, logger, collector)
	scheduler := recompute.NewScheduler(
		recalculator, settings, logger, cfg.RecomputeTimeout, cfg.RecomputeOnStartup,
	)

	settings.OnChange(listCache.InvalidateAll)
	settings.OnChange(func(context.Context) { scheduler.Reschedule() })

	return &core{
		registry:     registry,
		collector:    collector,
		posts:        posts,
		badger:       badger,
		listCache:    listCache,
		settings:     settings,
		recalculator: recalculator,
		selector:     selector,
		scheduler:    scheduler,
	}, nil
}

// Close はキャッシュを閉じる。
func (c *core) Close() error {
	return c.badger.Close()
}
