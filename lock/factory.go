package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"signalbot/logger"
)

// Config 分布式锁配置
type Config struct {
	Enabled bool
	Type    string
	Prefix  string
	Redis   RedisConfig
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// NewDistributedLock 根据配置创建分布式锁实例
// 未启用时返回 NopLock
func NewDistributedLock(cfg *Config) (DistributedLock, error) {
	if cfg == nil || !cfg.Enabled {
		return NopLock{}, nil
	}

	switch cfg.Type {
	case "redis", "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})

		l := NewRedisLock(client, cfg.Prefix)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("连接 Redis 失败 (%s): %w", cfg.Redis.Addr, err)
		}
		logger.Info("✅ Redis 分布式锁已连接: %s", cfg.Redis.Addr)
		return l, nil

	default:
		return nil, fmt.Errorf("不支持的锁类型: %s", cfg.Type)
	}
}
