package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hairstyle-analyzer-app/internal/config"
)

// RedisRepository Redisキャッシュ実装
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository 新しいRedisRepositoryを作成
func NewRedisRepository(cfg *config.RedisConfig) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 接続確認
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRepository{client: client}, nil
}

// Get キーから値を取得
func (r *RedisRepository) Get(ctx context.Context, key, cacheContext string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, buildKey(key, cacheContext)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache: %w", err)
	}
	return val, true, nil
}

// Set キーと値を設定。ttlが0以下の場合は保存しない
func (r *RedisRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration, cacheContext string) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, buildKey(key, cacheContext), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Clear パターンに部分一致するキーを削除し、削除件数を返す
func (r *RedisRepository) Clear(ctx context.Context, pattern string) (int, error) {
	match := "*" + pattern + "*"
	if pattern == "" {
		match = "*"
	}

	count := 0
	iter := r.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return count, fmt.Errorf("failed to delete cache key: %w", err)
		}
		count++
	}
	if err := iter.Err(); err != nil {
		return count, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return count, nil
}

// Close Redis接続を閉じる
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
