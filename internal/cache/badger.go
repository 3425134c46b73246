package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// コンパイル時にインターフェースの実装を検証する。
var _ Backend = (*BadgerBackend)(nil)

// BadgerBackend はBadgerDBによるキャッシュ実装。
// TTLはBadgerのエントリ有効期限で管理し、期限切れキーは読み取り時に見えなくなる。
type BadgerBackend struct {
	db       *badger.DB
	inMemory bool
}

// OpenBadger はBadgerDBを開く。dir が空の場合はインメモリモードで開く。
func OpenBadger(dir string) (*BadgerBackend, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
		opts.ValueLogFileSize = 64 << 20
	}
	// Badger内部ログはslogに統合しない
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &BadgerBackend{db: db, inMemory: dir == ""}, nil
}

// Get は指定キーの値を取得する。
func (b *BadgerBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache entry: %w", err)
	}
	return value, true, nil
}

// Set は値を保存する。ttl が0以下の場合は期限なし。
func (b *BadgerBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

// DeleteByPattern はパターンに一致するキーを削除する。
// パターンの固定プレフィックスで走査範囲を絞り、WriteBatchでまとめて削除する。
func (b *BadgerBackend) DeleteByPattern(_ context.Context, pattern string) (int, error) {
	prefix := []byte(LiteralPrefix(pattern))

	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if MatchPattern(pattern, string(key)) {
				keys = append(keys, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("delete cache entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush cache deletes: %w", err)
	}
	return len(keys), nil
}

// RunGC は値ログのガベージコレクションを回収可能な限り繰り返す。
// インメモリモードでは値ログを持たないため何もしない。
func (b *BadgerBackend) RunGC(discardRatio float64) (int, error) {
	if b.inMemory {
		return 0, nil
	}
	rewrites := 0
	for {
		err := b.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return rewrites, nil
		}
		if err != nil {
			return rewrites, fmt.Errorf("run value log gc: %w", err)
		}
		rewrites++
	}
}

// Close はBadgerDBを閉じる。
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
