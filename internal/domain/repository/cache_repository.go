package repository

import (
	"context"
	"time"
)

// CacheRepository キャッシュリポジトリのインターフェース
//
// キーはcacheContextで名前空間化される（分析キャッシュとスクレイパー
// キャッシュの衝突防止）。期限切れエントリは不在として扱われる。
type CacheRepository interface {
	Get(ctx context.Context, key, cacheContext string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, cacheContext string) error
	Clear(ctx context.Context, pattern string) (int, error)
	Close() error
}
