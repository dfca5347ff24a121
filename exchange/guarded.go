package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"signalbot/lock"
	"signalbot/logger"
	"signalbot/metrics"
)

// GuardOptions 网关保护选项
type GuardOptions struct {
	RequestsPerSecond float64
	Burst             int
	Serialize         bool                 // 所有调用串行执行
	Lock              lock.DistributedLock // 为 nil 时不加锁
	LockTTL           time.Duration
	CallTimeout       time.Duration // 单次调用超时，0 表示不限制
}

// GuardedGateway 在任意网关外层加限流、串行化、分布式锁和调用指标
type GuardedGateway struct {
	inner   Gateway
	limiter *rate.Limiter
	opts    GuardOptions
	callMu  sync.Mutex
	pm      *metrics.PrometheusMetrics
}

// NewGuardedGateway 包装网关
func NewGuardedGateway(inner Gateway, opts GuardOptions) *GuardedGateway {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	return &GuardedGateway{
		inner:   inner,
		limiter: rate.NewLimiter(limit, opts.Burst),
		opts:    opts,
		pm:      metrics.GetPrometheusMetrics(),
	}
}

func (g *GuardedGateway) Name() string {
	return g.inner.Name()
}

// Inner 返回被包装的网关
func (g *GuardedGateway) Inner() Gateway {
	return g.inner
}

// call 限流 + 串行 + 超时 + 指标
func (g *GuardedGateway) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("等待限流失败: %w", err)
	}

	if g.opts.Serialize {
		g.callMu.Lock()
		defer g.callMu.Unlock()
	}

	if g.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	g.pm.RecordGatewayCall(g.inner.Name(), method, time.Since(start), err)
	return err
}

func (g *GuardedGateway) GetPositions(ctx context.Context) (map[string]Position, error) {
	var positions map[string]Position
	err := g.call(ctx, "GetPositions", func(ctx context.Context) error {
		var err error
		positions, err = g.inner.GetPositions(ctx)
		return err
	})
	return positions, err
}

func (g *GuardedGateway) GetAccountBalance(ctx context.Context) (Balance, error) {
	var balance Balance
	err := g.call(ctx, "GetAccountBalance", func(ctx context.Context) error {
		var err error
		balance, err = g.inner.GetAccountBalance(ctx)
		return err
	})
	return balance, err
}

func (g *GuardedGateway) GetCurrentPrice(ctx context.Context, coin string) (float64, error) {
	var price float64
	err := g.call(ctx, "GetCurrentPrice", func(ctx context.Context) error {
		var err error
		price, err = g.inner.GetCurrentPrice(ctx, coin)
		return err
	})
	return price, err
}

func (g *GuardedGateway) PlaceMarketOrder(ctx context.Context, coin string, side Side, size float64) (*OrderResult, error) {
	return g.withOrderLock(ctx, coin, "PlaceMarketOrder", func(ctx context.Context) (*OrderResult, error) {
		return g.inner.PlaceMarketOrder(ctx, coin, side, size)
	})
}

func (g *GuardedGateway) ClosePosition(ctx context.Context, coin string) (*OrderResult, error) {
	return g.withOrderLock(ctx, coin, "ClosePosition", func(ctx context.Context) (*OrderResult, error) {
		return g.inner.ClosePosition(ctx, coin)
	})
}

// withOrderLock 同一币种的写操作在多个实例间互斥
// 锁被其他实例持有时直接返回失败结果，由下一轮重新判断
func (g *GuardedGateway) withOrderLock(ctx context.Context, coin, method string, fn func(ctx context.Context) (*OrderResult, error)) (*OrderResult, error) {
	key := "order:" + coin
	if g.opts.Lock != nil {
		ok, err := g.opts.Lock.TryLock(ctx, key, g.opts.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("获取下单锁失败: %w", err)
		}
		if !ok {
			g.pm.RecordLockConflict(key)
			logger.Warn("⚠️ %s 下单锁被其他实例持有，跳过本次 %s", coin, method)
			return ErrorResult("%s 正在被其他实例处理", coin), nil
		}
		defer func() {
			if err := g.opts.Lock.Unlock(context.Background(), key); err != nil {
				logger.Warn("⚠️ 释放下单锁失败 %s: %v", key, err)
			}
		}()
	}

	var result *OrderResult
	err := g.call(ctx, method, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func (g *GuardedGateway) Close() error {
	return g.inner.Close()
}
