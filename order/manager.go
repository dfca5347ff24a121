package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signalbot/event"
	"signalbot/exchange"
	"signalbot/logger"
	"signalbot/metrics"
	"signalbot/signal"

	"github.com/shopspring/decimal"
)

// 拒绝原因（Prometheus reason 标签）
const (
	RejectHold         = "hold"
	RejectWeak         = "weak_signal"
	RejectDuplicate    = "position_exists"
	RejectMaxPositions = "max_positions"
	RejectCooldown     = "cooldown"
	RejectBalance      = "insufficient_balance"
	RejectPrice        = "no_price"
	RejectSize         = "invalid_size"
	RejectGateway      = "gateway_error"
	RejectOrderFailed  = "order_failed"
)

// Settings 开仓风控参数
type Settings struct {
	MaxPositions      int
	PositionSizeUSD   float64
	StopLossPercent   float64
	TakeProfitPercent float64
	MinSignalStrength float64
	CooldownPeriod    time.Duration
	SizeDecimals      int32
}

// Stats 当日下单统计
type Stats struct {
	TotalDailyTrades int            `json:"total_daily_trades"`
	TradesByCoin     map[string]int `json:"trades_by_coin"`
	CoinsInCooldown  int            `json:"coins_in_cooldown"`
}

// Manager 订单管理器
// 只负责开新仓，已有持仓的平仓由持仓监控负责
type Manager struct {
	gw  exchange.Gateway
	bus event.Publisher
	pm  *metrics.PrometheusMetrics
	now func() time.Time

	mu               sync.Mutex
	settings         Settings
	cooldowns        map[string]time.Time
	dailyTrades      map[string]int
	totalDailyTrades int
	lastResetDate    string
}

// NewManager 创建订单管理器
func NewManager(gw exchange.Gateway, settings Settings, bus event.Publisher) *Manager {
	return &Manager{
		gw:          gw,
		bus:         event.OrNop(bus),
		pm:          metrics.GetPrometheusMetrics(),
		now:         time.Now,
		settings:    settings,
		cooldowns:   make(map[string]time.Time),
		dailyTrades: make(map[string]int),
	}
}

// SetClock 替换时间源（测试用）
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.lastResetDate = now().Format("2006-01-02")
}

// UpdateSettings 热更新风控参数，冷却记录和计数保留
func (m *Manager) UpdateSettings(s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	logger.Info("🔄 开仓参数已更新: 最大持仓 %d, 每笔 $%.2f, 最小强度 %.2f, 冷却 %v",
		s.MaxPositions, s.PositionSizeUSD, s.MinSignalStrength, s.CooldownPeriod)
}

// Settings 当前参数
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// resetDailyCountersLocked 日期变化时清空当日计数
func (m *Manager) resetDailyCountersLocked(now time.Time) {
	today := now.Format("2006-01-02")
	if m.lastResetDate == "" {
		m.lastResetDate = today
		return
	}
	if today != m.lastResetDate {
		m.dailyTrades = make(map[string]int)
		m.totalDailyTrades = 0
		m.lastResetDate = today
		logger.Info("🔄 当日交易计数已重置")
	}
}

func (m *Manager) reject(reason, format string, args ...interface{}) bool {
	logger.Info("⏭️ 拒绝信号: "+format, args...)
	m.pm.RecordReject(reason)
	return false
}

// ProcessSignal 依次经过风控检查，全部通过后下市价单
// 返回 true 表示订单已被交易所确认
func (m *Manager) ProcessSignal(ctx context.Context, sig *signal.Signal) bool {
	if sig == nil {
		return false
	}

	m.mu.Lock()
	now := m.now()
	m.resetDailyCountersLocked(now)
	settings := m.settings
	lastEntry, hasCooldown := m.cooldowns[sig.Coin()]
	m.mu.Unlock()

	coin := sig.Coin()

	if sig.Action() == signal.ActionHold {
		return m.reject(RejectHold, "%s HOLD", coin)
	}
	if !sig.IsActionable(settings.MinSignalStrength) {
		return m.reject(RejectWeak, "%s 信号强度不足 %.2f < %.2f", coin, sig.Strength(), settings.MinSignalStrength)
	}

	positions, err := m.gw.GetPositions(ctx)
	if err != nil {
		logger.Error("❌ 查询持仓失败，跳过 %s: %v", coin, err)
		m.pm.RecordReject(RejectGateway)
		return false
	}
	if pos, ok := positions[coin]; ok {
		return m.reject(RejectDuplicate, "%s 已有持仓 (数量 %.6f)，由持仓监控负责平仓", coin, pos.Size)
	}
	if len(positions) >= settings.MaxPositions {
		return m.reject(RejectMaxPositions, "持仓数量已达上限 %d/%d", len(positions), settings.MaxPositions)
	}
	if hasCooldown {
		if elapsed := now.Sub(lastEntry); elapsed < settings.CooldownPeriod {
			return m.reject(RejectCooldown, "%s 冷却中，剩余 %v", coin, (settings.CooldownPeriod - elapsed).Round(time.Second))
		}
	}

	balance, err := m.gw.GetAccountBalance(ctx)
	if err != nil {
		logger.Error("❌ 查询余额失败，跳过 %s: %v", coin, err)
		m.pm.RecordReject(RejectGateway)
		return false
	}
	if balance.Withdrawable < settings.PositionSizeUSD {
		return m.reject(RejectBalance, "余额不足 $%.2f < $%.2f", balance.Withdrawable, settings.PositionSizeUSD)
	}

	price, err := m.gw.GetCurrentPrice(ctx, coin)
	if err != nil || price <= 0 {
		logger.Error("❌ 获取 %s 价格失败: %v", coin, err)
		m.pm.RecordReject(RejectPrice)
		return false
	}

	size := OrderSize(settings.PositionSizeUSD, price, settings.SizeDecimals)
	if size <= 0 {
		return m.reject(RejectSize, "%s 下单数量为 0 (价格 %.6f)", coin, price)
	}

	side := exchange.SideBuy
	if sig.Action() == signal.ActionSell {
		side = exchange.SideSell
	}

	logger.Info("📤 下单: %s %s 数量 %s @ $%.4f (%s, 强度 %.2f)",
		side, coin, formatSize(size, settings.SizeDecimals), price, sig.Source(), sig.Strength())
	res, err := m.gw.PlaceMarketOrder(ctx, coin, side, size)
	if err != nil || !res.OK() {
		msg := ""
		if err != nil {
			msg = err.Error()
		} else if res != nil {
			msg = res.Message
		}
		logger.Error("❌ %s 下单失败: %s", coin, msg)
		m.pm.RecordReject(RejectOrderFailed)
		m.pm.RecordOrder(coin, string(side), "failed")
		m.bus.Publish(&event.Event{Type: event.EventTypeOrderFailed, Data: map[string]interface{}{
			"coin":   coin,
			"side":   string(side),
			"size":   size,
			"source": sig.Source(),
			"error":  msg,
		}})
		return false
	}

	m.mu.Lock()
	m.cooldowns[coin] = now
	m.dailyTrades[coin]++
	m.totalDailyTrades++
	m.mu.Unlock()

	entry := price
	if res.AvgPrice > 0 {
		entry = res.AvgPrice
	}
	filled := size
	if res.FilledSize > 0 {
		filled = res.FilledSize
	}
	sl, tp := ExitLevels(entry, side, settings.StopLossPercent, settings.TakeProfitPercent)
	logger.Info("✅ %s 开仓成功: %s %.6f @ $%.4f, 止损 $%.4f, 止盈 $%.4f", coin, side, filled, entry, sl, tp)

	m.pm.RecordOrder(coin, string(side), "success")
	m.bus.Publish(&event.Event{Type: event.EventTypeOrderPlaced, Data: map[string]interface{}{
		"coin":        coin,
		"side":        string(side),
		"size":        filled,
		"price":       entry,
		"stop_loss":   sl,
		"take_profit": tp,
		"source":      sig.Source(),
		"strength":    sig.Strength(),
		"order_id":    res.OrderID,
	}})
	return true
}

// OrderSize 按金额计算下单数量，四舍五入到固定小数位
func OrderSize(sizeUSD, price float64, decimals int32) float64 {
	if price <= 0 || sizeUSD <= 0 {
		return 0
	}
	size := decimal.NewFromFloat(sizeUSD).Div(decimal.NewFromFloat(price)).Round(decimals)
	f, _ := size.Float64()
	return f
}

func formatSize(size float64, decimals int32) string {
	return decimal.NewFromFloat(size).StringFixed(decimals)
}

// ExitLevels 根据入场价计算止损止盈价格，只用于日志和事件
func ExitLevels(entry float64, side exchange.Side, slPct, tpPct float64) (stopLoss, takeProfit float64) {
	e := decimal.NewFromFloat(entry)
	sl := decimal.NewFromFloat(slPct).Div(decimal.NewFromInt(100))
	tp := decimal.NewFromFloat(tpPct).Div(decimal.NewFromInt(100))
	one := decimal.NewFromInt(1)

	var slD, tpD decimal.Decimal
	if side == exchange.SideBuy {
		slD = e.Mul(one.Sub(sl))
		tpD = e.Mul(one.Add(tp))
	} else {
		slD = e.Mul(one.Add(sl))
		tpD = e.Mul(one.Sub(tp))
	}
	stopLoss, _ = slD.Float64()
	takeProfit, _ = tpD.Float64()
	return stopLoss, takeProfit
}

// GetStats 当日统计，不修改状态
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := Stats{
		TotalDailyTrades: m.totalDailyTrades,
		TradesByCoin:     make(map[string]int, len(m.dailyTrades)),
	}
	for coin, n := range m.dailyTrades {
		stats.TradesByCoin[coin] = n
	}
	for _, t := range m.cooldowns {
		if now.Sub(t) < m.settings.CooldownPeriod {
			stats.CoinsInCooldown++
		}
	}
	return stats
}

// String 便于日志输出
func (s Settings) String() string {
	return fmt.Sprintf("max=%d size=$%.2f sl=%.2f%% tp=%.2f%% min=%.2f cooldown=%v",
		s.MaxPositions, s.PositionSizeUSD, s.StopLossPercent, s.TakeProfitPercent, s.MinSignalStrength, s.CooldownPeriod)
}
