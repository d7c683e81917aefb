package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

// MemoryRepository インメモリキャッシュ実装
//
// 最大エントリ数を超えた場合は作成日時が最も古いエントリから削除する。
// 期限切れエントリはGet時に遅延削除される。
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	maxSize int
	now     func() time.Time
}

// NewMemoryRepository 新しいMemoryRepositoryを作成
func NewMemoryRepository(maxSize int) *MemoryRepository {
	return &MemoryRepository{
		entries: make(map[string]memoryEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get キーから値を取得。期限切れの場合は削除して不在を返す
func (m *MemoryRepository) Get(ctx context.Context, key, cacheContext string) ([]byte, bool, error) {
	storageKey := buildKey(key, cacheContext)

	m.mu.RLock()
	entry, ok := m.entries[storageKey]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	if !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, storageKey)
		m.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set キーと値を設定。ttlが0以下の場合は即座に期限切れとして扱われる
func (m *MemoryRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration, cacheContext string) error {
	storageKey := buildKey(key, cacheContext)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[storageKey] = memoryEntry{
		value:     append([]byte(nil), value...),
		createdAt: now,
		expiresAt: now.Add(ttl),
	}

	// 上限超過時は最古のエントリから削除
	for len(m.entries) > m.maxSize {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range m.entries {
			if oldestKey == "" || e.createdAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.createdAt
			}
		}
		delete(m.entries, oldestKey)
	}

	return nil
}

// Clear パターンに部分一致するキーを削除し、削除件数を返す。
// 空パターンは全件削除。
func (m *MemoryRepository) Clear(ctx context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for k := range m.entries {
		if pattern == "" || strings.Contains(k, pattern) {
			delete(m.entries, k)
			count++
		}
	}
	return count, nil
}

// Len 現在のエントリ数を返す（期限切れ含む）
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close クローズ処理（インメモリのため何もしない）
func (m *MemoryRepository) Close() error {
	return nil
}
