package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hitoshi/wallrank/internal/events"
	"github.com/hitoshi/wallrank/internal/middleware"
	"github.com/hitoshi/wallrank/internal/model"
)

// EventPublisher は投稿変更イベントの発行先。events.Bus が実装する。
type EventPublisher interface {
	Publish(ctx context.Context, e events.PostChanged) error
}

// EventHandler は投稿を管理する外部サービスからの変更通知を受け付けるHTTPハンドラー。
type EventHandler struct {
	publisher EventPublisher
	logger    *slog.Logger
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(publisher EventPublisher, logger *slog.Logger) *EventHandler {
	return &EventHandler{publisher: publisher, logger: logger}
}

// postEventRequest は投稿変更通知のリクエストボディ。
type postEventRequest struct {
	PostID string `json:"postId"`
	Kind   string `json:"kind"`
}

// PublishPostEvent は投稿変更通知をイベントバスに発行する。処理は非同期に行うため202を返す。
// POST /api/internal/post-events
func (h *EventHandler) PublishPostEvent(w http.ResponseWriter, r *http.Request) {
	var req postEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, invalidRequestError())
		return
	}

	err := h.publisher.Publish(r.Context(), events.PostChanged{
		PostID: req.PostID,
		Kind:   events.Kind(req.Kind),
	})
	if errors.Is(err, events.ErrInvalidEvent) {
		if !events.Kind(req.Kind).Valid() {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidEventKindError(req.Kind))
			return
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "postId はUUID形式で指定してください。",
			Category: "validation",
			Action:   "投稿IDを確認してください。",
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to publish post event",
			slog.String("post_id", req.PostID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
