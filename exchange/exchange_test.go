package exchange

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

type priceTable struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (p *priceTable) set(coin string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[coin] = price
}

func (p *priceTable) get(ctx context.Context, coin string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[coin]
	if !ok {
		return 0, ErrNoPrice
	}
	return price, nil
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPaperGatewayLongRoundTrip(t *testing.T) {
	ctx := context.Background()
	prices := &priceTable{prices: map[string]float64{"BTC": 100}}
	gw := NewPaperGateway(1000, 5, prices.get)

	res, err := gw.PlaceMarketOrder(ctx, "btc", SideBuy, 1)
	if err != nil || !res.OK() {
		t.Fatalf("开仓失败: %v %+v", err, res)
	}

	bal, _ := gw.GetAccountBalance(ctx)
	if !approx(bal.Withdrawable, 980) {
		t.Errorf("可用余额 = %v, 期望 980", bal.Withdrawable)
	}

	prices.set("BTC", 102)
	positions, err := gw.GetPositions(ctx)
	if err != nil {
		t.Fatalf("查询持仓失败: %v", err)
	}
	pos, ok := positions["BTC"]
	if !ok {
		t.Fatal("应该有 BTC 持仓")
	}
	if pos.Side != PositionLong || !approx(pos.UnrealizedPnl, 2) {
		t.Errorf("持仓错误: %+v", pos)
	}
	// 保证金 20，盈利 2 => ROE 10%
	if !approx(pos.ProfitPct, 10) {
		t.Errorf("ROE = %v, 期望 10", pos.ProfitPct)
	}

	res, err = gw.ClosePosition(ctx, "BTC")
	if err != nil || !res.OK() {
		t.Fatalf("平仓失败: %v %+v", err, res)
	}
	bal, _ = gw.GetAccountBalance(ctx)
	if !approx(bal.Total, 1002) || !approx(bal.Withdrawable, 1002) {
		t.Errorf("平仓后余额 = %+v, 期望 1002", bal)
	}

	res, _ = gw.ClosePosition(ctx, "BTC")
	if res.OK() {
		t.Error("没有持仓时平仓应该失败")
	}
}

func TestPaperGatewayShortLoss(t *testing.T) {
	ctx := context.Background()
	prices := &priceTable{prices: map[string]float64{"ETH": 50}}
	gw := NewPaperGateway(100, 1, prices.get)

	if res, _ := gw.PlaceMarketOrder(ctx, "ETH", SideSell, 1); !res.OK() {
		t.Fatalf("开空失败: %+v", res)
	}
	prices.set("ETH", 51)
	positions, _ := gw.GetPositions(ctx)
	pos := positions["ETH"]
	if pos.Side != PositionShort || !approx(pos.ProfitPct, -2) {
		t.Errorf("空头持仓错误: %+v", pos)
	}
}

func TestPaperGatewayRejects(t *testing.T) {
	ctx := context.Background()
	prices := &priceTable{prices: map[string]float64{"BTC": 100}}
	gw := NewPaperGateway(50, 1, prices.get)

	tests := []struct {
		name string
		coin string
		size float64
	}{
		{"数量为0", "BTC", 0},
		{"保证金不足", "BTC", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := gw.PlaceMarketOrder(ctx, tt.coin, SideBuy, tt.size)
			if err != nil {
				t.Fatalf("不应返回错误: %v", err)
			}
			if res.OK() {
				t.Error("应该下单失败")
			}
		})
	}

	if _, err := gw.PlaceMarketOrder(ctx, "DOGE", SideBuy, 1); !errors.Is(err, ErrNoPrice) {
		t.Errorf("未知币种应返回 ErrNoPrice, 得到 %v", err)
	}

	gw.Close()
	if _, err := gw.GetPositions(ctx); !errors.Is(err, ErrGatewayClosed) {
		t.Errorf("关闭后应返回 ErrGatewayClosed, 得到 %v", err)
	}
}

// fakeLock 记录加锁调用的分布式锁
type fakeLock struct {
	mu       sync.Mutex
	held     map[string]bool
	unlocked []string
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]bool)}
}

func (f *fakeLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLock) Unlock(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	f.unlocked = append(f.unlocked, key)
	return nil
}

func (f *fakeLock) Close() error { return nil }

func TestGuardedGatewayLock(t *testing.T) {
	ctx := context.Background()
	prices := &priceTable{prices: map[string]float64{"BTC": 100}}
	l := newFakeLock()
	gw := NewGuardedGateway(NewPaperGateway(1000, 1, prices.get), GuardOptions{Lock: l, Serialize: true})

	res, err := gw.PlaceMarketOrder(ctx, "BTC", SideBuy, 1)
	if err != nil || !res.OK() {
		t.Fatalf("开仓失败: %v %+v", err, res)
	}
	if len(l.unlocked) != 1 || l.unlocked[0] != "order:BTC" {
		t.Errorf("下单后应释放锁 order:BTC, 实际 %v", l.unlocked)
	}

	// 模拟其他实例持有锁
	l.held["order:BTC"] = true
	res, err = gw.ClosePosition(ctx, "BTC")
	if err != nil {
		t.Fatalf("锁冲突不应返回错误: %v", err)
	}
	if res.OK() {
		t.Error("锁被占用时不应平仓")
	}
	positions, _ := gw.GetPositions(ctx)
	if _, ok := positions["BTC"]; !ok {
		t.Error("锁冲突时持仓应保持不变")
	}
}

func TestGuardedGatewayRateLimitHonorsContext(t *testing.T) {
	prices := &priceTable{prices: map[string]float64{"BTC": 100}}
	gw := NewGuardedGateway(NewPaperGateway(1000, 1, prices.get), GuardOptions{RequestsPerSecond: 0.01, Burst: 1})

	if _, err := gw.GetCurrentPrice(context.Background(), "BTC"); err != nil {
		t.Fatalf("第一次调用不应被限流: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := gw.GetCurrentPrice(ctx, "BTC"); err == nil {
		t.Error("超出速率且上下文超时时应返回错误")
	}
}
