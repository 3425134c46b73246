package recommend

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/hitoshi/wallrank/internal/model"
	"github.com/hitoshi/wallrank/internal/repository"
)

const (
	// DefaultPageSize は page_size 未指定時のページサイズ。
	DefaultPageSize = 10
	// MaxPageSize は1ページの最大件数。
	MaxPageSize = 50
)

// ErrInvalidPage はページ番号またはページサイズが範囲外の場合に返される。
var ErrInvalidPage = errors.New("invalid page request")

// SettingsSource は設定スナップショットの取得元。SettingsStore が実装する。
type SettingsSource interface {
	Get(ctx context.Context) Settings
}

// Selector は管理者おすすめと自動おすすめを統合し、投稿者の多様性制約を適用したページを返す。
type Selector struct {
	posts    repository.PostRepository
	settings SettingsSource
	cache    *ListCache
	logger   *slog.Logger
	metrics  MetricsRecorder
}

// NewSelector はSelectorを生成する。
func NewSelector(posts repository.PostRepository, settings SettingsSource, cache *ListCache, logger *slog.Logger, metrics MetricsRecorder) *Selector {
	return &Selector{
		posts:    posts,
		settings: settings,
		cache:    cache,
		logger:   logger,
		metrics:  metricsOrNoop(metrics),
	}
}

// GetRecommendations は指定ページのおすすめ一覧を返す。
// 候補取得に失敗した場合もエラーにはせず、取得できた範囲（管理者おすすめのみ、または空）で返す。
func (s *Selector) GetRecommendations(ctx context.Context, page, pageSize int) (*Page, error) {
	if page < 1 || pageSize < 1 || pageSize > MaxPageSize {
		return nil, ErrInvalidPage
	}

	start := time.Now()
	defer func() { s.metrics.RecordSelectionLatency(time.Since(start)) }()

	s.cache.Sync(ctx)
	key := s.cache.Key(page, pageSize)
	if cached, ok := s.cache.GetCachedList(ctx, key); ok {
		return cached, nil
	}

	settings := s.settings.Get(ctx)
	degraded := false

	admins, err := s.posts.FindAdminRecommended(ctx, settings.MaxAdminRecommended)
	if err != nil {
		degraded = true
		admins = nil
		s.logger.Warn("管理者おすすめ投稿の取得に失敗しました", slog.String("error", err.Error()))
	}
	autos, err := s.posts.FindAutoRecommended(ctx, settings.MinInteractionFloor)
	if err != nil {
		degraded = true
		autos = nil
		s.logger.Warn("自動おすすめ投稿の取得に失敗しました", slog.String("error", err.Error()))
	}

	ranked := MergeCandidates(admins, autos, settings.MaxAdminRecommended)
	selected := PaginateDiverse(ranked, page, pageSize, settings.MaxSameAuthorRatio)

	result := &Page{
		Items:          []*model.Post{},
		Total:          len(ranked),
		ScoreUpdatedAt: latestScoreUpdate(ranked),
		Degraded:       degraded,
	}

	if len(selected) > 0 {
		ids := make([]string, len(selected))
		for i, c := range selected {
			ids[i] = c.ID
		}
		posts, err := s.posts.FindByIDs(ctx, ids)
		if err != nil {
			s.logger.Warn("おすすめ投稿の取得に失敗しました", slog.String("error", err.Error()))
			result.Degraded = true
			return result, nil
		}
		result.Items = orderByIDs(posts, ids)
	}

	if !result.Degraded {
		s.cache.SetCachedList(ctx, key, result, settings.ListCacheTTL())
	}
	return result, nil
}

// MergeCandidates は管理者おすすめ（上限 maxAdmin 件）を先頭に、自動おすすめをスコア順に続けた候補列を返す。
// 同じ投稿は一度だけ含める。上限外の管理者おすすめ投稿は自動おすすめ枠にも入れない。
func MergeCandidates(admins, autos []model.Candidate, maxAdmin int) []model.Candidate {
	seen := make(map[string]bool, len(admins)+len(autos))
	ranked := make([]model.Candidate, 0, len(admins)+len(autos))

	pinned := 0
	for _, c := range admins {
		if pinned >= maxAdmin {
			break
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		c.Pinned = true
		ranked = append(ranked, c)
		pinned++
	}

	algorithmic := make([]model.Candidate, 0, len(autos))
	for _, c := range autos {
		if c.Pinned || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		algorithmic = append(algorithmic, c)
	}
	sort.SliceStable(algorithmic, func(i, j int) bool {
		return algorithmic[i].Score > algorithmic[j].Score
	})

	return append(ranked, algorithmic...)
}

// AuthorCap は1ページあたりの同一投稿者の上限件数 ceil(pageSize * ratio) を返す。
func AuthorCap(pageSize int, ratio float64) int {
	// 浮動小数点の誤差で 10 * 0.3 が 4 に切り上がらないようにする
	return int(math.Ceil(float64(pageSize)*ratio - 1e-9))
}

// PaginateDiverse は順位付き候補列から指定ページの候補を返す。
// 1ページ目から順に、同一投稿者が AuthorCap を超えないように貪欲に詰める。
// 上限で見送った候補は後続ページに回すが、代わりの候補が足りない場合は見送った候補で埋めて制約を緩和する。
// 管理者おすすめは見送らないが、投稿者ごとの件数には数える。
func PaginateDiverse(ranked []model.Candidate, page, pageSize int, ratio float64) []model.Candidate {
	if page < 1 || pageSize < 1 {
		return nil
	}
	limit := AuthorCap(pageSize, ratio)

	type indexed struct {
		rank int
		c    model.Candidate
	}
	remaining := make([]indexed, len(ranked))
	for i, c := range ranked {
		remaining[i] = indexed{rank: i, c: c}
	}

	for p := 1; p <= page && len(remaining) > 0; p++ {
		perAuthor := make(map[string]int)
		taken := make(map[int]bool, pageSize)
		var selected, skipped []indexed

		for _, it := range remaining {
			if len(selected) >= pageSize {
				break
			}
			if it.c.Pinned || perAuthor[it.c.AuthorID] < limit {
				selected = append(selected, it)
				perAuthor[it.c.AuthorID]++
				taken[it.rank] = true
				continue
			}
			skipped = append(skipped, it)
		}

		for _, it := range skipped {
			if len(selected) >= pageSize {
				break
			}
			selected = append(selected, it)
			taken[it.rank] = true
		}

		if p == page {
			sort.Slice(selected, func(i, j int) bool { return selected[i].rank < selected[j].rank })
			out := make([]model.Candidate, len(selected))
			for i, it := range selected {
				out[i] = it.c
			}
			return out
		}

		next := remaining[:0:0]
		for _, it := range remaining {
			if !taken[it.rank] {
				next = append(next, it)
			}
		}
		remaining = next
	}
	return nil
}

func latestScoreUpdate(candidates []model.Candidate) *time.Time {
	var latest *time.Time
	for _, c := range candidates {
		if c.ScoreUpdatedAt != nil && (latest == nil || c.ScoreUpdatedAt.After(*latest)) {
			latest = c.ScoreUpdatedAt
		}
	}
	return latest
}

// orderByIDs はリポジトリから取得した投稿を ids の順に並べ替える。取得できなかった投稿は除く。
func orderByIDs(posts []*model.Post, ids []string) []*model.Post {
	byID := make(map[string]*model.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	out := make([]*model.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
