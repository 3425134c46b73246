// Package recompute はおすすめスコアの定期一括再計算を提供する。
package recompute

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/wallrank/internal/recommend"
)

// BatchRunner は一括再計算の実行インターフェース。recommend.Recalculator が実装する。
type BatchRunner interface {
	RecomputeAll(ctx context.Context) (recommend.RecomputeResult, error)
}

// Scheduler は updateIntervalHours 間隔で一括再計算を実行する。
// 次回実行時刻は前回実行の終了時刻に現在の間隔を足して求める。
// Reschedule を呼ぶと待機中のタイマーを新しい間隔で張り直すが、経過済みの待ち時間は失わない。
type Scheduler struct {
	runner       BatchRunner
	settings     recommend.SettingsSource
	logger       *slog.Logger
	timeout      time.Duration
	runOnStartup bool
	reschedule   chan struct{}
	now          func() time.Time
}

// NewScheduler はSchedulerを生成する。
// timeout は1回の一括再計算の上限時間で、0以下の場合は無制限。
func NewScheduler(
	runner BatchRunner,
	settings recommend.SettingsSource,
	logger *slog.Logger,
	timeout time.Duration,
	runOnStartup bool,
) *Scheduler {
	return &Scheduler{
		runner:       runner,
		settings:     settings,
		logger:       logger,
		timeout:      timeout,
		runOnStartup: runOnStartup,
		reschedule:   make(chan struct{}, 1),
		now:          time.Now,
	}
}

// Reschedule は次回実行までの待機を設定値から計算し直させる。
// SettingsStore.OnChange に登録して使う。
func (s *Scheduler) Reschedule() {
	select {
	case s.reschedule <- struct{}{}:
	default:
	}
}

// Serve は suture.Service を実装する。コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Serve(ctx context.Context) error {
	s.logger.Info("再計算スケジューラを開始しました",
		slog.Bool("run_on_startup", s.runOnStartup),
		slog.Duration("timeout", s.timeout),
	)

	if s.runOnStartup {
		s.runLogged(ctx)
	}
	last := s.now()

	for {
		interval := s.settings.Get(ctx).UpdateInterval()
		wait := max(last.Add(interval).Sub(s.now()), 0)
		timer := time.NewTimer(wait)
		s.logger.Debug("次回の一括再計算を予約しました",
			slog.Duration("interval", interval),
			slog.Duration("wait", wait),
		)

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("再計算スケジューラを停止しました")
			return ctx.Err()
		case <-s.reschedule:
			timer.Stop()
		case <-timer.C:
			s.runLogged(ctx)
			last = s.now()
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("一括再計算サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は一括再計算を1回実行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, err := s.runner.RecomputeAll(ctx)
	if err != nil {
		return err
	}
	if result.Status == recommend.RecomputeAlreadyRunning {
		s.logger.Info("前回の一括再計算が実行中のため今回のサイクルをスキップしました")
	}
	return nil
}

func (s *Scheduler) String() string {
	return "recompute-scheduler"
}
