package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"signalbot/event"
	"signalbot/exchange"
	"signalbot/signal"
)

// fakeGateway 可配置的模拟网关，记录每个方法的调用次数
type fakeGateway struct {
	mu        sync.Mutex
	positions map[string]exchange.Position
	balance   exchange.Balance
	price     float64
	posErr    error
	orderRes  *exchange.OrderResult
	orderErr  error

	getPositionsCalls int
	orders            []placedOrder
}

type placedOrder struct {
	coin string
	side exchange.Side
	size float64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		positions: make(map[string]exchange.Position),
		balance:   exchange.Balance{Total: 500, Withdrawable: 500},
		price:     50000,
		orderRes:  &exchange.OrderResult{Status: exchange.OrderStatusOK},
	}
}

func (g *fakeGateway) withOpenPositions(n int) *fakeGateway {
	for i := 0; i < n; i++ {
		coin := fmt.Sprintf("C%d", i)
		g.positions[coin] = exchange.Position{Coin: coin, Size: 1}
	}
	return g
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) GetPositions(ctx context.Context) (map[string]exchange.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getPositionsCalls++
	if g.posErr != nil {
		return nil, g.posErr
	}
	out := make(map[string]exchange.Position, len(g.positions))
	for k, v := range g.positions {
		out[k] = v
	}
	return out, nil
}

func (g *fakeGateway) GetAccountBalance(ctx context.Context) (exchange.Balance, error) {
	return g.balance, nil
}

func (g *fakeGateway) GetCurrentPrice(ctx context.Context, coin string) (float64, error) {
	if g.price == 0 {
		return 0, exchange.ErrNoPrice
	}
	return g.price, nil
}

func (g *fakeGateway) PlaceMarketOrder(ctx context.Context, coin string, side exchange.Side, size float64) (*exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, placedOrder{coin, side, size})
	return g.orderRes, g.orderErr
}

func (g *fakeGateway) ClosePosition(ctx context.Context, coin string) (*exchange.OrderResult, error) {
	return nil, errors.New("订单管理器不应平仓")
}

func (g *fakeGateway) Close() error { return nil }

type recordingBus struct {
	mu     sync.Mutex
	events []*event.Event
}

func (b *recordingBus) Publish(e *event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func defaultSettings() Settings {
	return Settings{
		MaxPositions:      10,
		PositionSizeUSD:   20,
		StopLossPercent:   2.2,
		TakeProfitPercent: 10.12,
		MinSignalStrength: 0.75,
		CooldownPeriod:    300 * time.Second,
		SizeDecimals:      5,
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(gw *fakeGateway, bus event.Publisher) (*Manager, *clock) {
	c := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)}
	m := NewManager(gw, defaultSettings(), bus)
	m.SetClock(c.now)
	return m, c
}

func mustSignal(t *testing.T, coin string, action signal.Action, strength float64) *signal.Signal {
	t.Helper()
	sig, err := signal.New(coin, action, strength, "rsi_5min", nil)
	if err != nil {
		t.Fatalf("创建信号失败: %v", err)
	}
	return sig
}

func TestProcessSignalAccepted(t *testing.T) {
	gw := newFakeGateway().withOpenPositions(3)
	bus := &recordingBus{}
	m, _ := newTestManager(gw, bus)

	if !m.ProcessSignal(context.Background(), mustSignal(t, "BTC", signal.ActionBuy, 0.8)) {
		t.Fatal("信号应被执行")
	}
	if len(gw.orders) != 1 {
		t.Fatalf("应下单 1 次, 实际 %d", len(gw.orders))
	}
	o := gw.orders[0]
	if o.coin != "BTC" || o.side != exchange.SideBuy || o.size != 0.0004 {
		t.Errorf("订单错误: %+v", o)
	}
	if gw.getPositionsCalls != 1 {
		t.Errorf("每个信号只应查询一次持仓, 实际 %d", gw.getPositionsCalls)
	}

	stats := m.GetStats()
	if stats.TotalDailyTrades != 1 || stats.TradesByCoin["BTC"] != 1 || stats.CoinsInCooldown != 1 {
		t.Errorf("统计错误: %+v", stats)
	}
	if len(bus.events) != 1 || bus.events[0].Type != event.EventTypeOrderPlaced {
		t.Fatalf("应发布 order_placed 事件")
	}
	if side, _ := bus.events[0].Data["side"].(string); side != "BUY" {
		t.Errorf("事件方向 = %v", bus.events[0].Data["side"])
	}
}

func TestProcessSignalRejects(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(g *fakeGateway)
		action signal.Action
		power  float64
	}{
		{"HOLD", nil, signal.ActionHold, 0.9},
		{"强度不足", nil, signal.ActionBuy, 0.5},
		{"已有持仓", func(g *fakeGateway) { g.positions["BTC"] = exchange.Position{Coin: "BTC", Size: 1} }, signal.ActionBuy, 0.9},
		{"持仓已满", func(g *fakeGateway) { g.withOpenPositions(10) }, signal.ActionBuy, 0.9},
		{"余额不足", func(g *fakeGateway) { g.balance.Withdrawable = 19.99 }, signal.ActionBuy, 0.9},
		{"查询持仓失败", func(g *fakeGateway) { g.posErr = errors.New("超时") }, signal.ActionBuy, 0.9},
		{"没有价格", func(g *fakeGateway) { g.price = 0 }, signal.ActionSell, 0.9},
		{"数量为零", func(g *fakeGateway) { g.price = 1e12 }, signal.ActionBuy, 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newFakeGateway()
			if tt.setup != nil {
				tt.setup(gw)
			}
			m, _ := newTestManager(gw, nil)
			if m.ProcessSignal(context.Background(), mustSignal(t, "BTC", tt.action, tt.power)) {
				t.Error("信号应被拒绝")
			}
			if len(gw.orders) != 0 {
				t.Errorf("不应下单, 实际 %d 次", len(gw.orders))
			}
			if m.GetStats().TotalDailyTrades != 0 {
				t.Error("拒绝时不应修改计数")
			}
		})
	}
}

func TestWeakSignalSkipsGateway(t *testing.T) {
	gw := newFakeGateway()
	m, _ := newTestManager(gw, nil)
	m.ProcessSignal(context.Background(), mustSignal(t, "BTC", signal.ActionBuy, 0.5))
	if gw.getPositionsCalls != 0 || len(gw.orders) != 0 {
		t.Error("强度不足时不应调用网关")
	}
}

func TestMaxPositionsBoundary(t *testing.T) {
	for open := 0; open <= 10; open++ {
		gw := newFakeGateway().withOpenPositions(open)
		m, _ := newTestManager(gw, nil)
		got := m.ProcessSignal(context.Background(), mustSignal(t, "BTC", signal.ActionBuy, 0.9))
		if want := open < 10; got != want {
			t.Errorf("持仓 %d/10 时结果 = %v, 期望 %v", open, got, want)
		}
	}
}

func TestCooldownWindow(t *testing.T) {
	gw := newFakeGateway()
	m, c := newTestManager(gw, nil)
	ctx := context.Background()

	if !m.ProcessSignal(ctx, mustSignal(t, "ETH", signal.ActionBuy, 0.9)) {
		t.Fatal("首次开仓应成功")
	}

	c.advance(299 * time.Second)
	if m.ProcessSignal(ctx, mustSignal(t, "ETH", signal.ActionBuy, 0.9)) {
		t.Error("冷却期内应拒绝")
	}
	if !m.ProcessSignal(ctx, mustSignal(t, "BTC", signal.ActionBuy, 0.9)) {
		t.Error("其他币种不受冷却影响")
	}

	c.advance(time.Second)
	if !m.ProcessSignal(ctx, mustSignal(t, "ETH", signal.ActionSell, 0.9)) {
		t.Error("冷却期结束时应可以再次开仓")
	}
	if last := gw.orders[len(gw.orders)-1]; last.side != exchange.SideSell {
		t.Errorf("SELL 信号应下卖单: %+v", last)
	}
}

func TestOrderFailureLeavesCounters(t *testing.T) {
	gw := newFakeGateway()
	gw.orderRes = exchange.ErrorResult("保证金不足")
	bus := &recordingBus{}
	m, _ := newTestManager(gw, bus)
	ctx := context.Background()

	if m.ProcessSignal(ctx, mustSignal(t, "BTC", signal.ActionBuy, 0.9)) {
		t.Fatal("下单失败应返回 false")
	}
	if s := m.GetStats(); s.TotalDailyTrades != 0 || s.CoinsInCooldown != 0 {
		t.Errorf("失败时不应设置冷却或计数: %+v", s)
	}
	if len(bus.events) != 1 || bus.events[0].Type != event.EventTypeOrderFailed {
		t.Error("应发布 order_failed 事件")
	}

	gw.orderRes = &exchange.OrderResult{Status: exchange.OrderStatusOK}
	if !m.ProcessSignal(ctx, mustSignal(t, "BTC", signal.ActionBuy, 0.9)) {
		t.Error("失败后下一次信号应可以重试")
	}
}

func TestDailyCountersReset(t *testing.T) {
	gw := newFakeGateway()
	m, c := newTestManager(gw, nil)
	ctx := context.Background()

	m.ProcessSignal(ctx, mustSignal(t, "BTC", signal.ActionBuy, 0.9))
	m.ProcessSignal(ctx, mustSignal(t, "ETH", signal.ActionBuy, 0.9))
	if m.GetStats().TotalDailyTrades != 2 {
		t.Fatal("当日应有 2 笔交易")
	}

	c.advance(24 * time.Hour)
	m.ProcessSignal(ctx, mustSignal(t, "ZEC", signal.ActionBuy, 0.9))
	stats := m.GetStats()
	if stats.TotalDailyTrades != 1 || stats.TradesByCoin["BTC"] != 0 {
		t.Errorf("跨日后计数应重置: %+v", stats)
	}
}

func TestOrderSizeAndLevels(t *testing.T) {
	sizes := []struct {
		usd, price float64
		decimals   int32
		want       float64
	}{
		{20, 50000, 5, 0.0004},
		{20, 3, 5, 6.66667},
		{20, 0.12345, 2, 162.01},
		{20, 0, 5, 0},
	}
	for _, tt := range sizes {
		if got := OrderSize(tt.usd, tt.price, tt.decimals); got != tt.want {
			t.Errorf("OrderSize(%v, %v, %d) = %v, 期望 %v", tt.usd, tt.price, tt.decimals, got, tt.want)
		}
	}

	sl, tp := ExitLevels(100, exchange.SideBuy, 2.2, 10.12)
	if sl != 97.8 || tp != 110.12 {
		t.Errorf("多单止损止盈 = %v/%v", sl, tp)
	}
	sl, tp = ExitLevels(100, exchange.SideSell, 2.2, 10.12)
	if sl != 102.2 || tp != 89.88 {
		t.Errorf("空单止损止盈 = %v/%v", sl, tp)
	}
}

func TestUpdateSettings(t *testing.T) {
	gw := newFakeGateway()
	m, _ := newTestManager(gw, nil)

	s := defaultSettings()
	s.MinSignalStrength = 0.95
	m.UpdateSettings(s)
	if m.ProcessSignal(context.Background(), mustSignal(t, "BTC", signal.ActionBuy, 0.9)) {
		t.Error("更新阈值后 0.9 的信号应被拒绝")
	}
}
