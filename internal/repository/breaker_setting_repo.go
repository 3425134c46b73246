package repository

import (
	"context"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/hitoshi/wallrank/internal/resilience"
)

// コンパイル時にインターフェースの実装を検証する。
var _ SettingsRepository = (*BreakerSettingRepo)(nil)

type settingValue struct {
	value string
	ok    bool
}

// BreakerSettingRepo はサーキットブレーカーで設定リポジトリの読み取りを保護する。
// DB障害が続く間は即座にエラーを返し、SettingsStore の代替設定へ切り替えさせる。
// 書き込みは管理操作のため保護せず、そのまま委譲する。
type BreakerSettingRepo struct {
	next SettingsRepository
	get  *gobreaker.CircuitBreaker[settingValue]
	bulk *gobreaker.CircuitBreaker[map[string]string]
}

// NewBreakerSettingRepo はBreakerSettingRepoを生成する。
func NewBreakerSettingRepo(next SettingsRepository, logger *slog.Logger, observe resilience.StateObserver) *BreakerSettingRepo {
	return &BreakerSettingRepo{
		next: next,
		get:  gobreaker.NewCircuitBreaker[settingValue](resilience.BreakerSettings("settings-read-key", logger, observe)),
		bulk: gobreaker.NewCircuitBreaker[map[string]string](resilience.BreakerSettings("settings-read", logger, observe)),
	}
}

// GetByKey は指定キーの値を取得する。
func (r *BreakerSettingRepo) GetByKey(ctx context.Context, key string) (string, bool, error) {
	res, err := r.get.Execute(func() (settingValue, error) {
		v, ok, err := r.next.GetByKey(ctx, key)
		return settingValue{value: v, ok: ok}, err
	})
	if err != nil {
		return "", false, err
	}
	return res.value, res.ok, nil
}

// BulkGet は指定キーの値をまとめて取得する。
func (r *BreakerSettingRepo) BulkGet(ctx context.Context, keys []string) (map[string]string, error) {
	return r.bulk.Execute(func() (map[string]string, error) {
		return r.next.BulkGet(ctx, keys)
	})
}

// Upsert は複数のキー/値を登録または更新する。
func (r *BreakerSettingRepo) Upsert(ctx context.Context, values map[string]string) error {
	return r.next.Upsert(ctx, values)
}
