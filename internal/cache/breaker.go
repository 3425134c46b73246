package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hitoshi/wallrank/internal/resilience"
)

// コンパイル時にインターフェースの実装を検証する。
var _ Backend = (*BreakerBackend)(nil)

type getResult struct {
	value []byte
	ok    bool
}

// BreakerBackend はサーキットブレーカーでキャッシュバックエンドを保護する。
// 障害が続いている間は即座にエラーを返し、呼び出し側がキャッシュをバイパスできるようにする。
type BreakerBackend struct {
	next Backend
	get  *gobreaker.CircuitBreaker[getResult]
	set  *gobreaker.CircuitBreaker[int]
}

// NewBreakerBackend はBreakerBackendを生成する。
// 読み取りと書き込みは別々のブレーカーで判定する。
func NewBreakerBackend(next Backend, logger *slog.Logger, observe resilience.StateObserver) *BreakerBackend {
	return &BreakerBackend{
		next: next,
		get:  gobreaker.NewCircuitBreaker[getResult](resilience.BreakerSettings("cache-read", logger, observe)),
		set:  gobreaker.NewCircuitBreaker[int](resilience.BreakerSettings("cache-write", logger, observe)),
	}
}

// Get は指定キーの値を取得する。
func (b *BreakerBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := b.get.Execute(func() (getResult, error) {
		v, ok, err := b.next.Get(ctx, key)
		return getResult{value: v, ok: ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	return res.value, res.ok, nil
}

// Set は値を保存する。
func (b *BreakerBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := b.set.Execute(func() (int, error) {
		return 0, b.next.Set(ctx, key, value, ttl)
	})
	return err
}

// DeleteByPattern はパターンに一致するキーを削除する。
func (b *BreakerBackend) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	return b.set.Execute(func() (int, error) {
		return b.next.DeleteByPattern(ctx, pattern)
	})
}
