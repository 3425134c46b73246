// Package cache はおすすめ一覧などを保持するキー/値キャッシュのバックエンドを提供する。
package cache

import (
	"context"
	"path"
	"strings"
	"time"
)

// Backend はTTL付きキー/値キャッシュのインターフェース。
// 実装はベストエフォートで、呼び出し側はエラー時にキャッシュをバイパスする。
type Backend interface {
	// Get は指定キーの値を取得する。存在しない・期限切れの場合は ok = false を返す。
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set は値を保存する。ttl が0以下の場合は期限なしで保存する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeleteByPattern はグロブパターン（* のみ）に一致するキーを削除し、削除件数を返す。
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
}

// MatchPattern はキーがグロブパターンに一致するかを判定する。
// パターンが不正な場合は一致しないものとして扱う。
func MatchPattern(pattern, key string) bool {
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// LiteralPrefix はパターンの先頭からワイルドカード直前までの固定部分を返す。
// プレフィックス走査で候補キーを絞り込むために使用する。
func LiteralPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
