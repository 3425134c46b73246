package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/hitoshi/wallrank/internal/events"
	"github.com/hitoshi/wallrank/internal/model"
	"github.com/hitoshi/wallrank/internal/recommend"
)

// --- モック定義 ---

// mockRecommendationService はRecommendationServiceInterfaceのモック実装。
type mockRecommendationService struct {
	getRecommendationsFn func(ctx context.Context, page, pageSize int) (*recommend.Page, error)
}

func (m *mockRecommendationService) GetRecommendations(ctx context.Context, page, pageSize int) (*recommend.Page, error) {
	if m.getRecommendationsFn != nil {
		return m.getRecommendationsFn(ctx, page, pageSize)
	}
	return &recommend.Page{Items: []*model.Post{}}, nil
}

// mockSettingsService はSettingsServiceInterfaceのモック実装。
type mockSettingsService struct {
	getFn    func(ctx context.Context) recommend.Settings
	updateFn func(ctx context.Context, patch map[string]float64) (recommend.Settings, error)
}

func (m *mockSettingsService) Get(ctx context.Context) recommend.Settings {
	if m.getFn != nil {
		return m.getFn(ctx)
	}
	return recommend.DefaultSettings()
}

func (m *mockSettingsService) Update(ctx context.Context, patch map[string]float64) (recommend.Settings, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, patch)
	}
	return recommend.DefaultSettings(), nil
}

// mockRecalculator はRecalculatorInterfaceのモック実装。
type mockRecalculator struct {
	recomputeAllFn func(ctx context.Context) (recommend.RecomputeResult, error)
	recomputeOneFn func(ctx context.Context, postID string) (recommend.ScoreSnapshot, error)
	explainFn      func(ctx context.Context, postID string) (*recommend.Explanation, error)
	running        bool
}

func (m *mockRecalculator) RecomputeAll(ctx context.Context) (recommend.RecomputeResult, error) {
	if m.recomputeAllFn != nil {
		return m.recomputeAllFn(ctx)
	}
	return recommend.RecomputeResult{Status: recommend.RecomputeCompleted}, nil
}

func (m *mockRecalculator) RecomputeOne(ctx context.Context, postID string) (recommend.ScoreSnapshot, error) {
	if m.recomputeOneFn != nil {
		return m.recomputeOneFn(ctx, postID)
	}
	return recommend.ScoreSnapshot{}, nil
}

func (m *mockRecalculator) Explain(ctx context.Context, postID string) (*recommend.Explanation, error) {
	if m.explainFn != nil {
		return m.explainFn(ctx, postID)
	}
	return &recommend.Explanation{PostID: postID}, nil
}

func (m *mockRecalculator) Running() bool {
	return m.running
}

// mockStatsSource はScoreStatsSourceのモック実装。
type mockStatsSource struct {
	scoreStatsFn func(ctx context.Context) (*model.ScoreStats, error)
}

func (m *mockStatsSource) ScoreStats(ctx context.Context) (*model.ScoreStats, error) {
	if m.scoreStatsFn != nil {
		return m.scoreStatsFn(ctx)
	}
	return &model.ScoreStats{}, nil
}

// mockEventPublisher はEventPublisherのモック実装。
type mockEventPublisher struct {
	publishFn func(ctx context.Context, e events.PostChanged) error
}

func (m *mockEventPublisher) Publish(ctx context.Context, e events.PostChanged) error {
	if m.publishFn != nil {
		return m.publishFn(ctx, e)
	}
	return e.Validate()
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(context.Context) error {
	return m.err
}

// --- テストヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}
