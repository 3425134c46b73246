package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/hitoshi/wallrank/internal/cache"
	"github.com/hitoshi/wallrank/internal/model"
	"github.com/hitoshi/wallrank/internal/repository"
)

// ListKeyPrefix はおすすめ一覧キャッシュのキー接頭辞。
const ListKeyPrefix = "recommend:list:"

// Page はおすすめ一覧の1ページ分の結果。キャッシュにはこの形のままJSONで保存する。
type Page struct {
	Items []*model.Post `json:"items"`
	Total int           `json:"total"`
	// ScoreUpdatedAt は候補のうち最も新しいスコア更新日時。鮮度表示に使う。
	ScoreUpdatedAt *time.Time `json:"scoreUpdatedAt,omitempty"`
	// Degraded は候補の取得に一部失敗し、管理者おすすめのみまたは空で返した場合に true。
	Degraded bool `json:"degraded"`
}

// ListCache はおすすめ一覧のキャッシュ。
// キーに単調増加のエポックを含め、無効化時はエポックを進めたうえで接頭辞一致で削除する。
// エポックの初期値は起動時刻から決めるため、再起動後に永続キャッシュの古いキーを読むことはない。
// TrackScoreWatermark を設定すると、他プロセスの再計算でDB上のスコア更新日時が進んだ時点でもエポックを進める。
// バックエンド障害はキャッシュミスとして扱い、呼び出し側にエラーを返さない。
type ListCache struct {
	backend cache.Backend
	logger  *slog.Logger
	metrics MetricsRecorder
	epoch   atomic.Uint64

	mu        sync.Mutex
	watermark repository.ScoreWatermarkReader
	refresh   time.Duration
	checkedAt time.Time
	lastSeen  *time.Time
	observed  bool
	now       func() time.Time
}

// epochSeed は同一プロセス内で払い出した初期エポックの最大値。
var epochSeed atomic.Uint64

// nextEpochSeed は壁時計から初期エポックを決める。同一プロセス内では重複しない。
func nextEpochSeed(now time.Time) uint64 {
	seed := uint64(now.UnixNano())
	for {
		prev := epochSeed.Load()
		if seed <= prev {
			seed = prev + 1
		}
		if epochSeed.CompareAndSwap(prev, seed) {
			return seed
		}
	}
}

// NewListCache はListCacheを生成する。
func NewListCache(backend cache.Backend, logger *slog.Logger, metrics MetricsRecorder) *ListCache {
	c := &ListCache{
		backend: backend,
		logger:  logger,
		metrics: metricsOrNoop(metrics),
		now:     time.Now,
	}
	c.epoch.Store(nextEpochSeed(time.Now()))
	return c
}

// TrackScoreWatermark はスコア更新日時の取得元を設定する。
// Sync は refresh 間隔に1回まで取得元を確認する。
func (c *ListCache) TrackScoreWatermark(src repository.ScoreWatermarkReader, refresh time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watermark = src
	c.refresh = refresh
	c.checkedAt = time.Time{}
}

// Sync は永続化されたスコア更新日時を確認し、前回確認時から変わっていれば一覧キャッシュを無効化する。
// 取得に失敗した場合は現在のエポックを維持する。
func (c *ListCache) Sync(ctx context.Context) {
	c.mu.Lock()
	src := c.watermark
	now := c.now()
	if src == nil || (!c.checkedAt.IsZero() && now.Sub(c.checkedAt) < c.refresh) {
		c.mu.Unlock()
		return
	}
	c.checkedAt = now
	c.mu.Unlock()

	latest, err := src.LatestScoreUpdate(ctx)
	if err != nil {
		c.metrics.RecordCacheError("watermark")
		c.logger.Warn("スコア更新日時の確認に失敗したため現在のキャッシュ世代を維持します",
			slog.String("error", err.Error()),
		)
		return
	}

	c.mu.Lock()
	changed := c.observed && !sameInstant(c.lastSeen, latest)
	c.lastSeen = latest
	c.observed = true
	c.mu.Unlock()

	if changed {
		c.logger.Info("スコアの更新を検知したため一覧キャッシュを無効化します")
		c.InvalidateAll(ctx)
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Epoch は現在のスコアエポックを返す。
func (c *ListCache) Epoch() uint64 {
	return c.epoch.Load()
}

// Key はページ番号・ページサイズ・現在のエポックからキャッシュキーを生成する。
func (c *ListCache) Key(page, pageSize int) string {
	return fmt.Sprintf("%sv%d:p%d:s%d", ListKeyPrefix, c.epoch.Load(), page, pageSize)
}

// GetCachedList はキャッシュ済みの一覧を取得する。
func (c *ListCache) GetCachedList(ctx context.Context, key string) (*Page, bool) {
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.metrics.RecordCacheError("get")
		c.logger.Warn("おすすめ一覧キャッシュの読み取りに失敗したためバイパスします",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if !ok {
		c.metrics.RecordCacheLookup(false)
		return nil, false
	}

	var page Page
	if err := json.Unmarshal(data, &page); err != nil {
		c.metrics.RecordCacheError("decode")
		c.logger.Warn("デコードできないおすすめ一覧キャッシュを破棄しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	c.metrics.RecordCacheLookup(true)
	return &page, true
}

// SetCachedList は一覧をキャッシュに保存する。ttl が0以下の場合はキャッシュしない。
func (c *ListCache) SetCachedList(ctx context.Context, key string, page *Page, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(page)
	if err != nil {
		c.metrics.RecordCacheError("encode")
		c.logger.Warn("おすすめ一覧のエンコードに失敗しました", slog.String("error", err.Error()))
		return
	}
	if err := c.backend.Set(ctx, key, data, ttl); err != nil {
		c.metrics.RecordCacheError("set")
		c.logger.Warn("おすすめ一覧キャッシュの書き込みに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// InvalidateByPattern はパターンに一致するキャッシュを削除し、削除件数を返す。
func (c *ListCache) InvalidateByPattern(ctx context.Context, pattern string) int {
	n, err := c.backend.DeleteByPattern(ctx, pattern)
	if err != nil {
		c.metrics.RecordCacheError("delete")
		c.logger.Warn("おすすめ一覧キャッシュの無効化に失敗しました",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return n
}

// InvalidateAll はエポックを進め、全ての一覧キャッシュを削除する。
// エポックの更新はバックエンドの削除結果によらず即座に反映される。
func (c *ListCache) InvalidateAll(ctx context.Context) {
	epoch := c.epoch.Add(1)
	n := c.InvalidateByPattern(ctx, ListKeyPrefix+"*")
	c.logger.Debug("おすすめ一覧キャッシュを無効化しました",
		slog.Uint64("epoch", epoch),
		slog.Int("deleted", n),
	)
}
