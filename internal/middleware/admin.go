package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/wallrank/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var adminContextKey = contextKey("admin")

// NewAdminAuthMiddleware は管理APIを Bearer トークンで保護するミドルウェアを返す。
// token が空の場合は管理APIを無効とし、全てのリクエストに503を返す。
func NewAdminAuthMiddleware(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewAdminDisabledError())
				return
			}

			presented, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("admin authentication failed",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="wallrank-admin"`)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithAdmin(r.Context())))
		})
	}
}

// IsAdmin はリクエストが管理者として認証済みかを返す。
func IsAdmin(ctx context.Context) bool {
	v, ok := ctx.Value(adminContextKey).(bool)
	return ok && v
}

// ContextWithAdmin は管理者認証済みのフラグをコンテキストに設定する。
// テストでのコンテキスト構築にも使用する。
func ContextWithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminContextKey, true)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
