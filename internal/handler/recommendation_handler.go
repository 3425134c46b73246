package handler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/wallrank/internal/middleware"
	"github.com/hitoshi/wallrank/internal/model"
	"github.com/hitoshi/wallrank/internal/recommend"
)

// RecommendationServiceInterface はおすすめ一覧ハンドラーが必要とするサービスインターフェース。
type RecommendationServiceInterface interface {
	// GetRecommendations は指定ページのおすすめ一覧を返す。
	GetRecommendations(ctx context.Context, page, pageSize int) (*recommend.Page, error)
}

// Excerpter は投稿本文から一覧表示用の抜粋を作る。security.ContentSanitizer が実装する。
type Excerpter interface {
	Excerpt(content string, maxRunes int) string
}

// RecommendationHandler はおすすめ一覧のHTTPハンドラー。
type RecommendationHandler struct {
	service       RecommendationServiceInterface
	excerpter     Excerpter
	excerptLength int
	logger        *slog.Logger
}

// NewRecommendationHandler はRecommendationHandlerを生成する。
func NewRecommendationHandler(service RecommendationServiceInterface, excerpter Excerpter, excerptLength int, logger *slog.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		service:       service,
		excerpter:     excerpter,
		excerptLength: excerptLength,
		logger:        logger,
	}
}

// recommendationItemResponse はおすすめ一覧の1投稿分のレスポンス。
type recommendationItemResponse struct {
	ID              string     `json:"id"`
	AuthorID        string     `json:"authorId"`
	Excerpt         string     `json:"excerpt"`
	ImageURLs       []string   `json:"imageUrls"`
	Topics          []string   `json:"topics"`
	LikeCount       int        `json:"likeCount"`
	CommentCount    int        `json:"commentCount"`
	FavoriteCount   int        `json:"favoriteCount"`
	ViewCount       int        `json:"viewCount"`
	RecommendScore  float64    `json:"recommendScore"`
	IsRecommended   bool       `json:"isRecommended"`
	AutoRecommended bool       `json:"autoRecommended"`
	CreatedAt       *time.Time `json:"createdAt"`
}

// recommendationListResponse はおすすめ一覧のレスポンス。
type recommendationListResponse struct {
	Items          []recommendationItemResponse `json:"items"`
	Total          int                          `json:"total"`
	Page           int                          `json:"page"`
	PageSize       int                          `json:"pageSize"`
	ScoreUpdatedAt *time.Time                   `json:"scoreUpdatedAt"`
	Degraded       bool                         `json:"degraded"`
}

// ListRecommendations はおすすめ一覧を返す。
// GET /api/recommendations?page=&page_size=
func (h *RecommendationHandler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	page, pageSize, apiErr := parsePageParams(r)
	if apiErr != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}

	result, err := h.service.GetRecommendations(r.Context(), page, pageSize)
	if err != nil {
		handleServiceError(w, h.logger, err, "")
		return
	}

	items := make([]recommendationItemResponse, 0, len(result.Items))
	for _, p := range result.Items {
		items = append(items, h.toItemResponse(p))
	}

	writeJSON(w, http.StatusOK, recommendationListResponse{
		Items:          items,
		Total:          result.Total,
		Page:           page,
		PageSize:       pageSize,
		ScoreUpdatedAt: result.ScoreUpdatedAt,
		Degraded:       result.Degraded,
	})
}

// parsePageParams はクエリパラメータからページ番号とページサイズを取り出す。
// page_size と pageSize の両方を受け付け、page_size を優先する。
func parsePageParams(r *http.Request) (int, int, *model.APIError) {
	q := r.URL.Query()

	page := 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, model.NewInvalidPageError("page=" + v)
		}
		page = n
	}

	pageSize := recommend.DefaultPageSize
	raw := q.Get("page_size")
	if raw == "" {
		raw = q.Get("pageSize")
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > recommend.MaxPageSize {
			return 0, 0, model.NewInvalidPageError("page_size=" + raw)
		}
		pageSize = n
	}
	return page, pageSize, nil
}

func (h *RecommendationHandler) toItemResponse(p *model.Post) recommendationItemResponse {
	images := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		images = append(images, img.URL)
	}
	topics := make([]string, 0, len(p.Topics))
	for _, t := range p.Topics {
		topics = append(topics, t.Name)
	}
	return recommendationItemResponse{
		ID:              p.ID,
		AuthorID:        p.AuthorID,
		Excerpt:         h.excerpter.Excerpt(p.Content, h.excerptLength),
		ImageURLs:       images,
		Topics:          topics,
		LikeCount:       p.LikeCount,
		CommentCount:    p.CommentCount,
		FavoriteCount:   p.FavoriteCount,
		ViewCount:       p.ViewCount,
		RecommendScore:  math.Round(p.RecommendScore*100) / 100,
		IsRecommended:   p.IsRecommended,
		AutoRecommended: p.AutoRecommended,
		CreatedAt:       p.CreatedAt,
	}
}
