package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/wallrank/internal/repository"
)

const (
	// DefaultSettingsTTL は設定キャッシュのデフォルト有効期間。
	DefaultSettingsTTL = 300 * time.Second
	// fallbackRetryInterval は読み込み失敗後に再試行するまでの間隔。
	fallbackRetryInterval = 10 * time.Second
)

// intSettingKeys は整数値のみを受け付ける設定キー。
var intSettingKeys = map[string]bool{
	KeyMaxAgeDays:          true,
	KeyMaxAdminRecommended: true,
	KeyMinInteractionScore: true,
	KeyMinInteractionFloor: true,
	KeyCacheExpireMinutes:  true,
}

// SettingsStore は設定リポジトリを読み取りキャッシュし、TTL経過または明示的な無効化で再読み込みする。
// リポジトリ障害時は直前に読み込めた設定、それもなければデフォルト設定を返し、呼び出し側にエラーを返さない。
type SettingsStore struct {
	repo    repository.SettingsRepository
	ttl     time.Duration
	logger  *slog.Logger
	metrics MetricsRecorder
	now     func() time.Time

	mu            sync.Mutex
	cached        Settings
	expiresAt     time.Time
	valid         bool
	lastKnownGood *Settings
	listeners     []func(ctx context.Context)
}

// NewSettingsStore はSettingsStoreを生成する。ttl が0以下の場合は DefaultSettingsTTL を使う。
func NewSettingsStore(repo repository.SettingsRepository, ttl time.Duration, logger *slog.Logger, metrics MetricsRecorder) *SettingsStore {
	if ttl <= 0 {
		ttl = DefaultSettingsTTL
	}
	return &SettingsStore{
		repo:    repo,
		ttl:     ttl,
		logger:  logger,
		metrics: metricsOrNoop(metrics),
		now:     time.Now,
	}
}

// OnChange は設定更新後に呼び出すコールバックを登録する。
func (s *SettingsStore) OnChange(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Get は現在の設定スナップショットを返す。
func (s *SettingsStore) Get(ctx context.Context) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.valid && now.Before(s.expiresAt) {
		return s.cached
	}

	settings, err := s.load(ctx)
	if err != nil {
		s.metrics.RecordSettingsLoad(true)
		fallback := DefaultSettings()
		source := "defaults"
		if s.lastKnownGood != nil {
			fallback = *s.lastKnownGood
			source = "last_known_good"
		}
		s.logger.Warn("おすすめ設定を読み込めないため代替設定を使用します",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		s.cached = fallback
		s.expiresAt = now.Add(min(s.ttl, fallbackRetryInterval))
		s.valid = true
		return fallback
	}

	s.metrics.RecordSettingsLoad(false)
	s.cached = settings
	s.expiresAt = now.Add(s.ttl)
	s.valid = true
	good := settings
	s.lastKnownGood = &good
	return settings
}

// load はリポジトリから全設定キーを読み込み、検証済みのスナップショットを返す。
// 数値として解釈できないキーはデフォルト値で補い、警告を出す。
func (s *SettingsStore) load(ctx context.Context) (Settings, error) {
	values, err := s.repo.BulkGet(ctx, SettingKeys)
	if err != nil {
		return Settings{}, err
	}

	settings, invalid := ParseSettings(values)
	if len(invalid) > 0 {
		s.logger.Warn("数値として解釈できないおすすめ設定を無視しました",
			slog.String("keys", strings.Join(invalid, ",")),
		)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Invalidate はキャッシュ済みの設定を破棄し、次回の Get で再読み込みさせる。
func (s *SettingsStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}

// Update は指定キーの設定値を更新する。
// 現在の設定に差分を適用した結果を検証し、永続化した後にキャッシュを無効化して変更通知を行う。
// 未知のキーや範囲外の値は ErrInvalidSettings を返す。
func (s *SettingsStore) Update(ctx context.Context, patch map[string]float64) (Settings, error) {
	if len(patch) == 0 {
		return Settings{}, fmt.Errorf("%w: 更新する設定がありません", ErrInvalidSettings)
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changes := make(map[string]string, len(patch))
	for _, k := range keys {
		v := patch[k]
		if !slices.Contains(SettingKeys, k) {
			return Settings{}, fmt.Errorf("%w: 未知の設定キー %s", ErrInvalidSettings, k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Settings{}, fmt.Errorf("%w: %s は有限の数値である必要があります", ErrInvalidSettings, k)
		}
		if intSettingKeys[k] && v != math.Trunc(v) {
			return Settings{}, fmt.Errorf("%w: %s は整数である必要があります", ErrInvalidSettings, k)
		}
		changes[k] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	merged := s.Get(ctx).ToMap()
	for k, v := range changes {
		merged[k] = v
	}
	next, _ := ParseSettings(merged)
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	if err := s.repo.Upsert(ctx, changes); err != nil {
		return Settings{}, fmt.Errorf("おすすめ設定の保存に失敗しました: %w", err)
	}

	s.mu.Lock()
	s.valid = false
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.logger.Info("おすすめ設定を更新しました", slog.String("keys", strings.Join(keys, ",")))

	for _, fn := range listeners {
		fn(ctx)
	}
	return s.Get(ctx), nil
}
