package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hitoshi/wallrank/internal/middleware"
	"github.com/hitoshi/wallrank/internal/model"
	"github.com/hitoshi/wallrank/internal/recommend"
)

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// invalidRequestError はリクエストボディを解析できない場合のエラー。
func invalidRequestError() *model.APIError {
	return &model.APIError{
		Code:     model.ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// handleServiceError はおすすめ処理から返されたエラーをAPIエラーレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error, postID string) {
	var apiErr *model.APIError
	switch {
	case errors.As(err, &apiErr):
		middleware.WriteAPIError(w, apiErr)
	case errors.Is(err, recommend.ErrPostNotFound):
		middleware.WriteAPIError(w, model.NewPostNotFoundError(postID))
	case errors.Is(err, recommend.ErrPostNotEligible):
		middleware.WriteAPIError(w, model.NewPostNotEligibleError(postID))
	case errors.Is(err, recommend.ErrInvalidSettings):
		middleware.WriteAPIError(w, model.NewInvalidSettingsError(err.Error()))
	case errors.Is(err, recommend.ErrInvalidPage):
		middleware.WriteAPIError(w, model.NewInvalidPageError(err.Error()))
	default:
		logger.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}
