package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/wallrank/internal/middleware"
)

// HealthChecker はヘルスチェック時に依存先の疎通を確認する。*sql.DB が実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	AdminToken        string
	RateLimiter       *middleware.RateLimiter
	StatusObserver    middleware.StatusObserver

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// おすすめ一覧
	Recommendations RecommendationServiceInterface
	Excerpter       Excerpter
	ExcerptLength   int

	// 管理API
	Settings     SettingsServiceInterface
	Recalculator RecalculatorInterface
	Stats        ScoreStatsSource

	// 投稿変更通知
	Events EventPublisher
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit(General|Admin) → AdminAuth
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	recHandler := NewRecommendationHandler(deps.Recommendations, deps.Excerpter, deps.ExcerptLength, deps.Logger)
	adminHandler := NewAdminHandler(deps.Settings, deps.Recalculator, deps.Stats, deps.Logger)
	eventHandler := NewEventHandler(deps.Events, deps.Logger)
	adminAuth := middleware.NewAdminAuthMiddleware(deps.AdminToken)

	// --- 監視用ルート ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 公開ルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Get("/api/recommendations", recHandler.ListRecommendations)
	})

	// --- 管理ルート ---
	// ミドルウェアスタック: RateLimit(Admin) → AdminAuth
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(deps.RateLimiter.AdminMiddleware())
		r.Use(adminAuth)

		r.Route("/recommendations", func(r chi.Router) {
			r.Get("/settings", adminHandler.GetSettings)
			r.Put("/settings", adminHandler.UpdateSettings)
			r.Post("/recompute", adminHandler.RecomputeAll)
			r.Get("/stats", adminHandler.Stats)
		})

		r.Route("/posts/{id}", func(r chi.Router) {
			r.Post("/recompute", adminHandler.RecomputePost)
			r.Get("/score", adminHandler.ExplainPost)
		})
	})

	// --- 内部ルート ---
	r.Route("/api/internal", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(adminAuth)
		r.Post("/post-events", eventHandler.PublishPostEvent)
	})

	return r
}

// healthHandler はDB疎通を確認し、結果を返すハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
