// Package cache Redis 客户端封装：JSON 缓存与基于 SetNX 的互斥锁
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config Redis 配置
type Config struct {
	Host        string
	Port        int
	Password    string
	DB          int
	MaxPoolSize int
	// 超时（秒）
	ConnTimeout  int
	ReadTimeout  int
	WriteTimeout int
}

// RedisCache Redis 缓存
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// New 创建 Redis 缓存并检查连通性
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*RedisCache, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxPoolSize,
		DialTimeout:  time.Duration(cfg.ConnTimeout) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.InfoContext(ctx, "redis connected", "addr", addr)
	return &RedisCache{client: client, logger: logger.With("module", "redis_cache")}, nil
}

// GetJSON 读取 JSON 缓存，key 不存在时返回 false
func (rc *RedisCache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	val, err := rc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		rc.logger.ErrorContext(ctx, "redis get failed", "key", key, "error", err)
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON 以 JSON 写入缓存
func (rc *RedisCache) SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := rc.client.Set(ctx, key, data, expiration).Err(); err != nil {
		rc.logger.ErrorContext(ctx, "redis set failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Delete 删除缓存
func (rc *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return rc.client.Del(ctx, keys...).Err()
}

// TryLock 以 SetNX 获取 ttl 期限的互斥锁，返回释放函数；锁被占用时返回 false
func (rc *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	ok, err := rc.client.SetNX(ctx, key, time.Now().UnixNano(), ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := rc.client.Del(context.Background(), key).Err(); err != nil {
			rc.logger.Warn("failed to release redis lock", "key", key, "error", err)
		}
	}, true, nil
}

// Client 底层客户端，供限流器等共享连接池
func (rc *RedisCache) Client() *redis.Client { return rc.client }

func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
