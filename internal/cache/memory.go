package cache

import (
	"context"
	"sync"
	"time"
)

// コンパイル時にインターフェースの実装を検証する。
var _ Backend = (*MemoryBackend)(nil)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend はプロセス内マップによるキャッシュ実装。テストと単体起動用。
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend はMemoryBackendを生成する。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get は指定キーの値を取得する。期限切れのエントリは削除して ok = false を返す。
func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set は値を保存する。
func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// DeleteByPattern はパターンに一致するキーを削除する。
func (m *MemoryBackend) DeleteByPattern(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.entries {
		if MatchPattern(pattern, key) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

// Len は保持しているエントリ数を返す（期限切れを含む）。
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
