package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/wallrank/internal/model"
	"github.com/hitoshi/wallrank/internal/repository"
)

var (
	// ErrPostNotFound は指定IDの投稿が存在しない場合に返される。
	ErrPostNotFound = errors.New("post not found")
	// ErrPostNotEligible は投稿が非公開・作成日時不明・公開期間外でスコア計算の対象外の場合に返される。
	ErrPostNotEligible = errors.New("post not eligible for scoring")
)

// RecomputeStatus は一括再計算の実行結果の種別。
type RecomputeStatus string

const (
	// RecomputeCompleted は一括再計算が最後まで実行されたことを表す。
	RecomputeCompleted RecomputeStatus = "completed"
	// RecomputeAlreadyRunning は実行中の一括再計算があったため何もしなかったことを表す。
	RecomputeAlreadyRunning RecomputeStatus = "already_running"
)

// RecomputeResult は一括再計算の結果サマリー。
type RecomputeResult struct {
	RunID      string          `json:"runId,omitempty"`
	Status     RecomputeStatus `json:"status"`
	Updated    int             `json:"updated"`
	Skipped    int             `json:"skipped"`
	AgedOut    int             `json:"agedOut"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Explanation はスコアを永続化せずに計算した結果。管理画面での確認用。
type Explanation struct {
	PostID          string        `json:"postId"`
	Eligible        bool          `json:"eligible"`
	Snapshot        ScoreSnapshot `json:"snapshot"`
	DisplayScore    float64       `json:"displayScore"`
	Threshold       float64       `json:"threshold"`
	AutoRecommended bool          `json:"autoRecommended"`
}

// Recalculator は投稿のおすすめスコアを計算してリポジトリに書き戻す。
// 一括再計算は同時に1つしか実行せず、実行中の起動要求は破棄する。
type Recalculator struct {
	posts    repository.PostRepository
	settings SettingsSource
	cache    *ListCache
	logger   *slog.Logger
	metrics  MetricsRecorder
	now      func() time.Time

	running atomic.Bool
}

// NewRecalculator はRecalculatorを生成する。
func NewRecalculator(posts repository.PostRepository, settings SettingsSource, cache *ListCache, logger *slog.Logger, metrics MetricsRecorder) *Recalculator {
	return &Recalculator{
		posts:    posts,
		settings: settings,
		cache:    cache,
		logger:   logger,
		metrics:  metricsOrNoop(metrics),
		now:      time.Now,
	}
}

// Running は一括再計算が実行中かを返す。
func (r *Recalculator) Running() bool {
	return r.running.Load()
}

// RecomputeAll は対象期間内の公開投稿のスコアを全て再計算する。
// 設定は実行開始時に1回だけ取得し、全投稿に同じ設定を適用する。
// 個々の投稿の計算・書き込み失敗はスキップして続行し、件数として報告する。
// 対象投稿の取得自体に失敗した場合のみエラーを返す。
func (r *Recalculator) RecomputeAll(ctx context.Context) (RecomputeResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Info("一括再計算は実行中のためスキップしました")
		return RecomputeResult{Status: RecomputeAlreadyRunning}, nil
	}
	defer r.running.Store(false)

	start := r.now()
	result := RecomputeResult{
		RunID:     uuid.NewString(),
		Status:    RecomputeCompleted,
		StartedAt: start,
	}
	logger := r.logger.With(slog.String("run_id", result.RunID))

	settings := r.settings.Get(ctx)

	posts, err := r.posts.FindEligiblePosts(ctx, settings.MaxAgeDays, start)
	if err != nil {
		r.metrics.RecordRecomputeRun("failed", 0, 0, 0, time.Since(start))
		logger.Error("スコア計算対象の投稿取得に失敗しました", slog.String("error", err.Error()))
		return result, fmt.Errorf("スコア計算対象の投稿取得に失敗しました: %w", err)
	}

	for _, p := range posts {
		if err := r.scoreAndStore(ctx, p, settings, start); err != nil {
			result.Skipped++
			logger.Warn("投稿のスコア計算をスキップしました",
				slog.String("post_id", p.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Updated++
	}

	agedOut, err := r.posts.ClearStaleAutoRecommended(ctx, settings.MaxAgeDays, start)
	if err != nil {
		logger.Warn("期限切れ投稿の自動おすすめ解除に失敗しました", slog.String("error", err.Error()))
	}
	result.AgedOut = int(agedOut)

	r.cache.InvalidateAll(ctx)

	result.FinishedAt = r.now()
	duration := result.FinishedAt.Sub(start)
	r.metrics.RecordRecomputeRun(string(result.Status), result.Updated, result.Skipped, result.AgedOut, duration)

	logger.Info("一括再計算が完了しました",
		slog.Int("total", len(posts)),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
		slog.Int("aged_out", result.AgedOut),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)
	return result, nil
}

// errMissingCreatedAt は作成日時が欠損している投稿を表す。
var errMissingCreatedAt = errors.New("created_at is missing")

// scoreAndStore は1投稿のスコアを計算して書き戻す。
func (r *Recalculator) scoreAndStore(ctx context.Context, p model.PostFacts, settings Settings, now time.Time) error {
	facts, ok := FactsFromPost(p)
	if !ok {
		return errMissingCreatedAt
	}
	snap := ComputeScore(facts, settings, now)
	if math.IsNaN(snap.Score) || math.IsInf(snap.Score, 0) {
		return fmt.Errorf("score is not finite: %v", snap.Score)
	}
	return r.posts.UpdateScoreFields(ctx, p.ID, model.ScoreFields{
		RecommendScore:  snap.Score,
		AutoRecommended: snap.Score >= settings.ScoreThreshold,
		ScoreUpdatedAt:  now,
	})
}

// RecomputeOne は1投稿のスコアを再計算して書き戻し、一覧キャッシュを無効化する。
// 対象外の投稿は自動おすすめを解除したうえで ErrPostNotEligible を返す。
func (r *Recalculator) RecomputeOne(ctx context.Context, postID string) (ScoreSnapshot, error) {
	now := r.now()
	settings := r.settings.Get(ctx)

	p, err := r.posts.FindFactsByID(ctx, postID)
	if err != nil {
		return ScoreSnapshot{}, err
	}
	if p == nil {
		return ScoreSnapshot{}, ErrPostNotFound
	}

	facts, ok := FactsFromPost(*p)
	if !ok || !isEligible(*p, facts, settings, now) {
		if err := r.posts.ClearAutoRecommended(ctx, postID); err != nil {
			return ScoreSnapshot{}, err
		}
		r.cache.InvalidateAll(ctx)
		return ScoreSnapshot{}, ErrPostNotEligible
	}

	snap := ComputeScore(facts, settings, now)
	if err := r.posts.UpdateScoreFields(ctx, postID, model.ScoreFields{
		RecommendScore:  snap.Score,
		AutoRecommended: snap.Score >= settings.ScoreThreshold,
		ScoreUpdatedAt:  now,
	}); err != nil {
		return ScoreSnapshot{}, err
	}
	r.cache.InvalidateAll(ctx)

	r.logger.Debug("投稿のスコアを再計算しました",
		slog.String("post_id", postID),
		slog.Float64("score", snap.DisplayScore()),
	)
	return snap, nil
}

// Explain は現在の設定で投稿のスコアを計算し、永続化せずに内訳を返す。
func (r *Recalculator) Explain(ctx context.Context, postID string) (*Explanation, error) {
	now := r.now()
	settings := r.settings.Get(ctx)

	p, err := r.posts.FindFactsByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPostNotFound
	}

	exp := &Explanation{PostID: postID, Threshold: settings.ScoreThreshold}
	facts, ok := FactsFromPost(*p)
	if !ok {
		return exp, nil
	}
	exp.Eligible = isEligible(*p, facts, settings, now)
	exp.Snapshot = ComputeScore(facts, settings, now)
	exp.DisplayScore = exp.Snapshot.DisplayScore()
	exp.AutoRecommended = exp.Eligible && exp.Snapshot.Score >= settings.ScoreThreshold
	return exp, nil
}

func isEligible(p model.PostFacts, f EngagementFacts, s Settings, now time.Time) bool {
	return p.Status == model.PostStatusPublished && IsWithinAgeWindow(f.CreatedAt, s.MaxAgeDays, now)
}
