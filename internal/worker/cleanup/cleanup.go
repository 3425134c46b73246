// Package cleanup はおすすめ一覧キャッシュの定期メンテナンスジョブを提供する。
// Badgerの値ログには期限切れ・削除済みエントリが残り続けるため、
// 一定間隔で値ログGCを実行してディスク使用量を回収する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// GarbageCollector は値ログGCの実行インターフェース。cache.BadgerBackend が実装する。
type GarbageCollector interface {
	RunGC(discardRatio float64) (int, error)
}

// GCRecorder はGC結果のメトリクス記録インターフェース。
type GCRecorder interface {
	RecordCacheGC(rewrites int)
}

// CacheGCJob はキャッシュの値ログGCを定期実行するジョブ。
type CacheGCJob struct {
	gc       GarbageCollector
	logger   *slog.Logger
	metrics  GCRecorder
	interval time.Duration
	// DiscardRatio は書き直し対象とする値ログファイルの無効データ割合（デフォルト: 0.5）
	DiscardRatio float64
}

// NewCacheGCJob は新しいCacheGCJobを生成する。
// interval が0以下の場合は10分間隔。metrics は nil でもよい。
func NewCacheGCJob(gc GarbageCollector, logger *slog.Logger, metrics GCRecorder, interval time.Duration) *CacheGCJob {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &CacheGCJob{
		gc:           gc,
		logger:       logger,
		metrics:      metrics,
		interval:     interval,
		DiscardRatio: 0.5,
	}
}

// Run は値ログGCを1回実行する。
// 冪等: 回収対象がない場合でもエラーにならない。
func (j *CacheGCJob) Run(ctx context.Context) error {
	start := time.Now()

	rewrites, err := j.gc.RunGC(j.DiscardRatio)
	if err != nil {
		j.logger.ErrorContext(ctx, "キャッシュGCジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Float64("discard_ratio", j.DiscardRatio),
		)
		return fmt.Errorf("キャッシュGCの実行に失敗: %w", err)
	}
	if j.metrics != nil {
		j.metrics.RecordCacheGC(rewrites)
	}

	duration := time.Since(start)
	j.logger.InfoContext(ctx, "キャッシュGCジョブが完了しました",
		slog.Int("rewrites", rewrites),
		slog.Float64("discard_ratio", j.DiscardRatio),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Serve は suture.Service を実装する。interval ごとに Run を実行する。
// 個々の実行失敗ではサービスを終了させない。
func (j *CacheGCJob) Serve(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

func (j *CacheGCJob) String() string {
	return "cache-gc"
}
