package position

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"signalbot/event"
	"signalbot/exchange"
	"signalbot/logger"
	"signalbot/metrics"
)

// ExitReason 平仓原因
type ExitReason string

const (
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitEmergency  ExitReason = "EMERGENCY"
)

// Thresholds 固定止损止盈阈值（ROE 百分比，均为正数）
type Thresholds struct {
	StopLossPercent   float64
	TakeProfitPercent float64
}

// ExitDecision 平仓决定
type ExitDecision struct {
	Coin          string     `json:"coin"`
	Reason        ExitReason `json:"reason"`
	ProfitPct     float64    `json:"profit_pct"`
	UnrealizedPnl float64    `json:"unrealized_pnl"`
	HighestPnlPct float64    `json:"highest_pnl_pct"`
	Message       string     `json:"message"`
}

// PositionView 持仓及其跟踪状态
type PositionView struct {
	Position exchange.Position `json:"position"`
	State    *PositionState    `json:"state,omitempty"` // 尚未跟踪时为 nil
}

// Stats 持仓统计
type Stats struct {
	TotalPositions     int     `json:"total_positions"`
	TotalUnrealizedPnl float64 `json:"total_unrealized_pnl"`
	Monitoring         bool    `json:"monitoring"`
	TrackedStates      int     `json:"tracked_states"`
}

// ForceCloseResult 紧急平仓结果
type ForceCloseResult struct {
	Closed []string `json:"closed"`
	Failed []string `json:"failed"`
	Error  string   `json:"error,omitempty"` // 查询持仓失败
}

// Monitor 持仓监控，唯一负责平仓的组件
type Monitor struct {
	gw    exchange.Gateway
	store *StateStore
	bus   event.Publisher
	pm    *metrics.PrometheusMetrics

	thresholdsMu sync.RWMutex
	thresholds   Thresholds

	tickMu sync.Mutex // 串行化定时检查与紧急平仓，同一币种不会被重复平仓

	runMu      sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	monitoring atomic.Bool
}

// NewMonitor 创建持仓监控
func NewMonitor(gw exchange.Gateway, store *StateStore, thresholds Thresholds, bus event.Publisher) *Monitor {
	return &Monitor{
		gw:         gw,
		store:      store,
		bus:        event.OrNop(bus),
		pm:         metrics.GetPrometheusMetrics(),
		thresholds: thresholds,
	}
}

// UpdateThresholds 热更新止损止盈阈值
func (m *Monitor) UpdateThresholds(t Thresholds) {
	m.thresholdsMu.Lock()
	defer m.thresholdsMu.Unlock()
	if t != m.thresholds {
		logger.Info("🔄 止损/止盈阈值更新: %.2f%% / %.2f%%", t.StopLossPercent, t.TakeProfitPercent)
	}
	m.thresholds = t
}

func (m *Monitor) getThresholds() Thresholds {
	m.thresholdsMu.RLock()
	defer m.thresholdsMu.RUnlock()
	return m.thresholds
}

// Start 启动监控循环，已在运行时忽略
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.monitoring.Load() {
		logger.Warn("⚠️ 持仓监控已在运行")
		return
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.monitoring.Store(true)

	t := m.getThresholds()
	logger.Info("🚀 持仓监控已启动 (间隔 %v, 止损 %.2f%%, 止盈 %.2f%%, 已跟踪 %d 个)",
		interval, t.StopLossPercent, t.TakeProfitPercent, m.store.Len())

	go m.loop(ctx, interval, m.done)
}

// Stop 停止监控并等待循环退出，超时返回 false
func (m *Monitor) Stop(timeout time.Duration) bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.monitoring.Load() {
		return true
	}
	m.cancel()

	select {
	case <-m.done:
		logger.Info("⏹️ 持仓监控已停止")
		return true
	case <-time.After(timeout):
		logger.Warn("⚠️ 持仓监控在 %v 内未退出", timeout)
		return false
	}
}

// IsMonitoring 监控循环是否在运行
func (m *Monitor) IsMonitoring() bool {
	return m.monitoring.Load()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer m.monitoring.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.safeCheck(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) safeCheck(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("❌ 持仓检查发生 panic: %v", r)
		}
	}()
	m.CheckPositions(ctx)
}

// CheckPositions 执行一次检查：清理已平仓的状态，更新最高收益率，触发止损止盈
// 查询持仓失败时本轮不修改任何状态
func (m *Monitor) CheckPositions(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	start := time.Now()
	defer m.pm.ObserveLoop("position", start)

	positions, err := m.gw.GetPositions(ctx)
	if err != nil {
		logger.Error("❌ 查询持仓失败: %v", err)
		return
	}

	open := make(map[string]bool, len(positions))
	for coin := range positions {
		open[coin] = true
	}
	if _, err := m.store.Retain(open); err != nil {
		logger.Error("❌ %v", err)
	}

	thresholds := m.getThresholds()
	totalPnl := 0.0
	for _, coin := range sortedCoins(positions) {
		pos := positions[coin]
		pos.Coin = coin
		totalPnl += pos.UnrealizedPnl

		state, _, err := m.store.Observe(coin, pos.ProfitPct)
		if err != nil {
			logger.Error("❌ %v", err)
		}

		decision := evaluateExit(pos, state.HighestPnlPct, thresholds)
		if decision == nil {
			continue
		}
		logger.Info("🔴 平仓信号: %s", decision.Message)
		m.closePosition(ctx, pos, *decision)
	}

	m.pm.SetPositions(len(positions), totalPnl)
	m.pm.SetTrackedStates(m.store.Len())
}

// evaluateExit 固定阈值判断，止损优先
func evaluateExit(pos exchange.Position, highest float64, t Thresholds) *ExitDecision {
	d := &ExitDecision{
		Coin:          pos.Coin,
		ProfitPct:     pos.ProfitPct,
		UnrealizedPnl: pos.UnrealizedPnl,
		HighestPnlPct: highest,
	}
	switch {
	case pos.ProfitPct <= -t.StopLossPercent:
		d.Reason = ExitStopLoss
		d.Message = fmt.Sprintf("%s 止损: %.2f%% <= -%.2f%% (盈亏 %.4f)", pos.Coin, pos.ProfitPct, t.StopLossPercent, pos.UnrealizedPnl)
	case pos.ProfitPct >= t.TakeProfitPercent:
		d.Reason = ExitTakeProfit
		d.Message = fmt.Sprintf("%s 止盈: %.2f%% >= %.2f%% (盈亏 %.4f)", pos.Coin, pos.ProfitPct, t.TakeProfitPercent, pos.UnrealizedPnl)
	default:
		return nil
	}
	return d
}

// closePosition 平仓成功后立即删除状态；失败时保留状态，下一轮重新判断
func (m *Monitor) closePosition(ctx context.Context, pos exchange.Position, d ExitDecision) bool {
	res, err := m.gw.ClosePosition(ctx, pos.Coin)
	if err != nil || !res.OK() {
		msg := ""
		if err != nil {
			msg = err.Error()
		} else if res != nil {
			msg = res.Message
		}
		logger.Error("❌ %s 平仓失败 (%s): %s", pos.Coin, d.Reason, msg)
		m.pm.RecordExit(string(d.Reason), "failed")
		m.bus.Publish(&event.Event{Type: event.EventTypeExitFailed, Data: map[string]interface{}{
			"coin":   pos.Coin,
			"reason": string(d.Reason),
			"error":  fmt.Sprintf("%s 平仓失败: %s", pos.Coin, msg),
		}})
		return false
	}

	if _, err := m.store.Delete(pos.Coin); err != nil {
		logger.Error("❌ %v", err)
	}

	size, price := res.FilledSize, res.AvgPrice
	if size == 0 {
		size = pos.Size
	}
	if price == 0 {
		price = pos.CurrentPrice
	}
	closeSide := exchange.SideSell
	if pos.Side == exchange.PositionShort {
		closeSide = exchange.SideBuy
	}

	emoji := "✅"
	evtType := event.EventTypePositionClosed
	switch d.Reason {
	case ExitStopLoss:
		emoji, evtType = "🛑", event.EventTypeStopLoss
	case ExitTakeProfit:
		emoji, evtType = "💰", event.EventTypeTakeProfit
	}
	logger.Info("%s %s 已平仓 (%s): %.6f @ %.6f, 收益率 %.2f%%, 最高 %.2f%%",
		emoji, pos.Coin, d.Reason, size, price, d.ProfitPct, d.HighestPnlPct)

	m.pm.RecordExit(string(d.Reason), "success")
	m.bus.Publish(&event.Event{Type: evtType, Data: map[string]interface{}{
		"coin":            pos.Coin,
		"side":            string(closeSide),
		"size":            size,
		"price":           price,
		"reason":          string(d.Reason),
		"profit_pct":      d.ProfitPct,
		"pnl":             d.UnrealizedPnl,
		"highest_pnl_pct": d.HighestPnlPct,
		"order_id":        res.OrderID,
	}})
	return true
}

// CheckPositionsToSell 只读：返回满足平仓条件的持仓，不下单也不修改状态
func (m *Monitor) CheckPositionsToSell(ctx context.Context) ([]ExitDecision, error) {
	positions, err := m.gw.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}

	thresholds := m.getThresholds()
	var decisions []ExitDecision
	for _, coin := range sortedCoins(positions) {
		pos := positions[coin]
		pos.Coin = coin
		highest := pos.ProfitPct
		if st, ok := m.store.Get(coin); ok && st.HighestPnlPct > highest {
			highest = st.HighestPnlPct
		}
		if d := evaluateExit(pos, highest, thresholds); d != nil {
			decisions = append(decisions, *d)
		}
	}
	return decisions, nil
}

// ForceCloseAll 紧急平掉所有持仓，单个失败不影响其他币种
// 会等待正在进行的检查结束后再查询持仓
func (m *Monitor) ForceCloseAll(ctx context.Context) ForceCloseResult {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	var result ForceCloseResult

	positions, err := m.gw.GetPositions(ctx)
	if err != nil {
		logger.Error("❌ 紧急平仓时查询持仓失败: %v", err)
		result.Error = err.Error()
		return result
	}
	if len(positions) == 0 {
		logger.Info("ℹ️ 没有需要紧急平仓的持仓")
		return result
	}

	logger.Warn("🚨 紧急平仓: 共 %d 个持仓", len(positions))
	for _, coin := range sortedCoins(positions) {
		pos := positions[coin]
		pos.Coin = coin
		highest := pos.ProfitPct
		if st, ok := m.store.Get(coin); ok {
			highest = st.HighestPnlPct
		}
		d := ExitDecision{
			Coin:          coin,
			Reason:        ExitEmergency,
			ProfitPct:     pos.ProfitPct,
			UnrealizedPnl: pos.UnrealizedPnl,
			HighestPnlPct: highest,
			Message:       fmt.Sprintf("%s 紧急平仓", coin),
		}
		if m.closePosition(ctx, pos, d) {
			result.Closed = append(result.Closed, coin)
		} else {
			result.Failed = append(result.Failed, coin)
		}
	}

	logger.Info("📊 紧急平仓完成: 成功 %d, 失败 %d", len(result.Closed), len(result.Failed))
	return result
}

// GetAllPositions 只读：持仓及状态副本
func (m *Monitor) GetAllPositions(ctx context.Context) ([]PositionView, error) {
	positions, err := m.gw.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}

	views := make([]PositionView, 0, len(positions))
	for _, coin := range sortedCoins(positions) {
		view := PositionView{Position: positions[coin]}
		if st, ok := m.store.Get(coin); ok {
			view.State = &st
		}
		views = append(views, view)
	}
	return views, nil
}

// GetStats 持仓统计，不修改任何状态
func (m *Monitor) GetStats(ctx context.Context) Stats {
	stats := Stats{
		Monitoring:    m.IsMonitoring(),
		TrackedStates: m.store.Len(),
	}

	positions, err := m.gw.GetPositions(ctx)
	if err != nil {
		logger.Warn("⚠️ 获取持仓统计失败: %v", err)
		return stats
	}
	stats.TotalPositions = len(positions)
	for _, pos := range positions {
		stats.TotalUnrealizedPnl += pos.UnrealizedPnl
	}
	return stats
}

func sortedCoins(positions map[string]exchange.Position) []string {
	coins := make([]string, 0, len(positions))
	for coin := range positions {
		coins = append(coins, coin)
	}
	sort.Strings(coins)
	return coins
}
