package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hitoshi/wallrank/internal/middleware"
	"github.com/hitoshi/wallrank/internal/model"
	"github.com/hitoshi/wallrank/internal/recommend"
)

// SettingsServiceInterface はおすすめ設定の参照・更新インターフェース。
// recommend.SettingsStore が実装する。
type SettingsServiceInterface interface {
	Get(ctx context.Context) recommend.Settings
	Update(ctx context.Context, patch map[string]float64) (recommend.Settings, error)
}

// RecalculatorInterface はスコア再計算のインターフェース。
// recommend.Recalculator が実装する。
type RecalculatorInterface interface {
	RecomputeAll(ctx context.Context) (recommend.RecomputeResult, error)
	RecomputeOne(ctx context.Context, postID string) (recommend.ScoreSnapshot, error)
	Explain(ctx context.Context, postID string) (*recommend.Explanation, error)
	Running() bool
}

// ScoreStatsSource はスコアの鮮度表示用の集計値を返す。
type ScoreStatsSource interface {
	ScoreStats(ctx context.Context) (*model.ScoreStats, error)
}

// AdminHandler はおすすめ設定と再計算の管理用HTTPハンドラー。
type AdminHandler struct {
	settings     SettingsServiceInterface
	recalculator RecalculatorInterface
	stats        ScoreStatsSource
	logger       *slog.Logger
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(settings SettingsServiceInterface, recalculator RecalculatorInterface, stats ScoreStatsSource, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		settings:     settings,
		recalculator: recalculator,
		stats:        stats,
		logger:       logger,
	}
}

// scoreStatsResponse はスコア集計のレスポンス。
type scoreStatsResponse struct {
	PublishedCount        int        `json:"publishedCount"`
	AutoRecommendedCount  int        `json:"autoRecommendedCount"`
	AdminRecommendedCount int        `json:"adminRecommendedCount"`
	LastScoreUpdatedAt    *time.Time `json:"lastScoreUpdatedAt"`
	RecomputeRunning      bool       `json:"recomputeRunning"`
	UpdateIntervalHours   float64    `json:"updateIntervalHours"`
}

// postScoreResponse は1投稿の再計算結果のレスポンス。
type postScoreResponse struct {
	PostID       string                  `json:"postId"`
	Snapshot     recommend.ScoreSnapshot `json:"snapshot"`
	DisplayScore float64                 `json:"displayScore"`
}

// GetSettings は現在のおすすめ設定を返す。
// GET /api/admin/recommendations/settings
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Get(r.Context()))
}

// UpdateSettings はおすすめ設定を部分更新する。
// PUT /api/admin/recommendations/settings
//
// ボディは {"likeWeight": 3, "maxSameAuthorRatio": 0.5} のようにキーと数値の組で指定する。
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]float64
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	updated, err := h.settings.Update(r.Context(), patch)
	if err != nil {
		handleServiceError(w, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// RecomputeAll は一括再計算を同期実行し、結果サマリーを返す。
// POST /api/admin/recommendations/recompute
//
// 実行中の一括再計算がある場合はエラーにせず status=already_running を返す。
// クライアントが切断しても実行中の再計算は最後まで続ける。
func (h *AdminHandler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.recalculator.RecomputeAll(context.WithoutCancel(r.Context()))
	if err != nil {
		handleServiceError(w, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Stats はスコアの集計値と再計算の実行状況を返す。
// GET /api/admin/recommendations/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.ScoreStats(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err, "")
		return
	}
	writeJSON(w, http.StatusOK, scoreStatsResponse{
		PublishedCount:        stats.PublishedCount,
		AutoRecommendedCount:  stats.AutoRecommendedCount,
		AdminRecommendedCount: stats.AdminRecommendedCount,
		LastScoreUpdatedAt:    stats.LastScoreUpdatedAt,
		RecomputeRunning:      h.recalculator.Running(),
		UpdateIntervalHours:   h.settings.Get(r.Context()).UpdateIntervalHours,
	})
}

// RecomputePost は1投稿のスコアを再計算する。
// POST /api/admin/posts/{id}/recompute
func (h *AdminHandler) RecomputePost(w http.ResponseWriter, r *http.Request) {
	postID, ok := postIDParam(w, r)
	if !ok {
		return
	}

	snap, err := h.recalculator.RecomputeOne(r.Context(), postID)
	if err != nil {
		handleServiceError(w, h.logger, err, postID)
		return
	}
	writeJSON(w, http.StatusOK, postScoreResponse{
		PostID:       postID,
		Snapshot:     snap,
		DisplayScore: snap.DisplayScore(),
	})
}

// ExplainPost は現在の設定で計算したスコアの内訳を、永続化せずに返す。
// GET /api/admin/posts/{id}/score
func (h *AdminHandler) ExplainPost(w http.ResponseWriter, r *http.Request) {
	postID, ok := postIDParam(w, r)
	if !ok {
		return
	}

	exp, err := h.recalculator.Explain(r.Context(), postID)
	if err != nil {
		handleServiceError(w, h.logger, err, postID)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// postIDParam はURLパスの投稿IDを取り出す。UUID形式でない場合は404を書き込む。
func postIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	postID := chi.URLParam(r, "id")
	if err := uuid.Validate(postID); err != nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewPostNotFoundError(postID))
		return "", false
	}
	return postID, true
}
