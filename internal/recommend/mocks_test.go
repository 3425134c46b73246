package recommend

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/wallrank/internal/cache"
	"github.com/hitoshi/wallrank/internal/model"
)

// --- モック定義 ---

// mockPostRepo はPostRepositoryのモック。未設定のメソッドはゼロ値を返す。
type mockPostRepo struct {
	findEligiblePostsFunc         func(ctx context.Context, maxAgeDays int, now time.Time) ([]model.PostFacts, error)
	findFactsByIDFunc             func(ctx context.Context, id string) (*model.PostFacts, error)
	findAdminRecommendedFunc      func(ctx context.Context, limit int) ([]model.Candidate, error)
	findAutoRecommendedFunc       func(ctx context.Context, minInteractions int) ([]model.Candidate, error)
	findByIDsFunc                 func(ctx context.Context, ids []string) ([]*model.Post, error)
	updateScoreFieldsFunc         func(ctx context.Context, id string, fields model.ScoreFields) error
	clearAutoRecommendedFunc      func(ctx context.Context, id string) error
	clearStaleAutoRecommendedFunc func(ctx context.Context, maxAgeDays int, now time.Time) (int64, error)
	scoreStatsFunc                func(ctx context.Context) (*model.ScoreStats, error)
}

func (m *mockPostRepo) FindEligiblePosts(ctx context.Context, maxAgeDays int, now time.Time) ([]model.PostFacts, error) {
	if m.findEligiblePostsFunc != nil {
		return m.findEligiblePostsFunc(ctx, maxAgeDays, now)
	}
	return nil, nil
}

func (m *mockPostRepo) FindFactsByID(ctx context.Context, id string) (*model.PostFacts, error) {
	if m.findFactsByIDFunc != nil {
		return m.findFactsByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockPostRepo) FindAdminRecommended(ctx context.Context, limit int) ([]model.Candidate, error) {
	if m.findAdminRecommendedFunc != nil {
		return m.findAdminRecommendedFunc(ctx, limit)
	}
	return nil, nil
}

func (m *mockPostRepo) FindAutoRecommended(ctx context.Context, minInteractions int) ([]model.Candidate, error) {
	if m.findAutoRecommendedFunc != nil {
		return m.findAutoRecommendedFunc(ctx, minInteractions)
	}
	return nil, nil
}

func (m *mockPostRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Post, error) {
	if m.findByIDsFunc != nil {
		return m.findByIDsFunc(ctx, ids)
	}
	posts := make([]*model.Post, len(ids))
	for i, id := range ids {
		posts[i] = &model.Post{ID: id}
	}
	return posts, nil
}

func (m *mockPostRepo) UpdateScoreFields(ctx context.Context, id string, fields model.ScoreFields) error {
	if m.updateScoreFieldsFunc != nil {
		return m.updateScoreFieldsFunc(ctx, id, fields)
	}
	return nil
}

func (m *mockPostRepo) ClearAutoRecommended(ctx context.Context, id string) error {
	if m.clearAutoRecommendedFunc != nil {
		return m.clearAutoRecommendedFunc(ctx, id)
	}
	return nil
}

func (m *mockPostRepo) ClearStaleAutoRecommended(ctx context.Context, maxAgeDays int, now time.Time) (int64, error) {
	if m.clearStaleAutoRecommendedFunc != nil {
		return m.clearStaleAutoRecommendedFunc(ctx, maxAgeDays, now)
	}
	return 0, nil
}

func (m *mockPostRepo) ScoreStats(ctx context.Context) (*model.ScoreStats, error) {
	if m.scoreStatsFunc != nil {
		return m.scoreStatsFunc(ctx)
	}
	return &model.ScoreStats{}, nil
}

// mockSettingsRepo はSettingsRepositoryのモック。values をインメモリで保持する。
type mockSettingsRepo struct {
	mu         sync.Mutex
	values     map[string]string
	bulkGetErr error
	upsertErr  error
	bulkGets   int
}

func newMockSettingsRepo(values map[string]string) *mockSettingsRepo {
	if values == nil {
		values = map[string]string{}
	}
	return &mockSettingsRepo{values: values}
}

func (m *mockSettingsRepo) GetByKey(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockSettingsRepo) BulkGet(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkGets++
	if m.bulkGetErr != nil {
		return nil, m.bulkGetErr
	}
	out := make(map[string]string)
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *mockSettingsRepo) Upsert(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

// staticSettings は固定の設定を返すSettingsSource。
type staticSettings Settings

func (s staticSettings) Get(context.Context) Settings { return Settings(s) }

// failingBackend は常にエラーを返すキャッシュバックエンド。
type failingBackend struct{ err error }

func (f failingBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingBackend) Set(context.Context, string, []byte, time.Duration) error {
	return f.err
}
func (f failingBackend) DeleteByPattern(context.Context, string) (int, error) { return 0, f.err }

// newTestLogger はテスト用のJSONロガーを生成する。
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockWatermark はScoreWatermarkReaderのモック。他プロセスの再計算によるDB上の更新日時を模す。
type mockWatermark struct {
	mu     sync.Mutex
	latest *time.Time
	err    error
	calls  int
}

func (m *mockWatermark) LatestScoreUpdate(context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.latest, m.err
}

func (m *mockWatermark) set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = &t
}

func newTestListCache(buf *bytes.Buffer) (*ListCache, *cache.MemoryBackend) {
	backend := cache.NewMemoryBackend()
	return NewListCache(backend, newTestLogger(buf), nil), backend
}

func timePtr(t time.Time) *time.Time { return &t }
