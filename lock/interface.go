// Package lock 分布式锁，多个机器人实例共用一个账户时保证同一币种的下单/平仓不会并发执行
package lock

import (
	"context"
	"time"
)

// DistributedLock 分布式锁接口
type DistributedLock interface {
	// TryLock 尝试获取锁，不等待
	// 返回 false 表示锁被其他实例持有
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock 释放本实例持有的锁
	Unlock(ctx context.Context, key string) error
	Close() error
}

// NopLock 单实例模式，总是加锁成功
type NopLock struct{}

func (NopLock) TryLock(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (NopLock) Unlock(context.Context, string) error                         { return nil }
func (NopLock) Close() error                                                 { return nil }
