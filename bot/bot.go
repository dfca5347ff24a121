package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signalbot/config"
	"signalbot/event"
	"signalbot/exchange"
	"signalbot/logger"
	"signalbot/order"
	"signalbot/position"
	"signalbot/signal"
)

var (
	// ErrAlreadyRunning 机器人已在运行
	ErrAlreadyRunning = errors.New("机器人已在运行")
	// ErrClosed 机器人已停止，交易所连接已断开，不能再次启动
	ErrClosed = errors.New("机器人已停止")
)

// Options 机器人依赖和参数
type Options struct {
	Gateway   exchange.Gateway
	Sources   []signal.Source
	Intervals map[string]time.Duration
	Coins     []string
	Orders    *order.Manager
	Monitor   *position.Monitor
	Bus       event.Publisher
	Recorder  SignalRecorder

	ExecuteOrders      bool
	BaseInterval       time.Duration
	PositionInterval   time.Duration
	StopTimeout        time.Duration // 等待信号循环退出
	MonitorStopTimeout time.Duration // 等待持仓监控退出
	Now                func() time.Time
}

// Status 运行状态（只读汇总）
type Status struct {
	Running            bool           `json:"running"`
	ExecuteOrders      bool           `json:"execute_orders"`
	MonitoredCoinCount int            `json:"monitored_coins"`
	GeneratorCount     int            `json:"signal_generators"`
	OrderStats         order.Stats    `json:"order_manager"`
	PositionStats      position.Stats `json:"position_manager"`
}

// Bot 信号交易机器人
// 管理信号循环和持仓监控两个独立循环的启动和停止
type Bot struct {
	gw        exchange.Gateway
	scheduler *Scheduler
	orders    *order.Manager
	monitor   *position.Monitor
	bus       event.Publisher
	opts      Options

	mu      sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc

	entriesHalted atomic.Bool // 紧急停止后不再开仓
}

// New 创建机器人
func New(opts Options) (*Bot, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("交易所网关不能为空")
	}
	if opts.Orders == nil || opts.Monitor == nil {
		return nil, fmt.Errorf("订单管理器和持仓监控不能为空")
	}
	if opts.PositionInterval <= 0 {
		opts.PositionInterval = 3 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.MonitorStopTimeout <= 0 {
		opts.MonitorStopTimeout = 5 * time.Second
	}

	b := &Bot{
		gw:      opts.Gateway,
		orders:  opts.Orders,
		monitor: opts.Monitor,
		bus:     event.OrNop(opts.Bus),
		opts:    opts,
	}

	var handler SignalHandler
	if opts.ExecuteOrders {
		handler = b.enter
	}
	b.scheduler = NewScheduler(opts.Sources, opts.Intervals, opts.Coins, handler, SchedulerOptions{
		BaseInterval: opts.BaseInterval,
		Recorder:     opts.Recorder,
		Now:          opts.Now,
	})
	if b.scheduler.SourceCount() == 0 {
		logger.Warn("⚠️ 没有启用任何信号源，请检查 signals.generators 配置")
	}
	return b, nil
}

// enter 把信号交给订单管理器，紧急停止开始后直接丢弃
func (b *Bot) enter(ctx context.Context, sig *signal.Signal) bool {
	if b.entriesHalted.Load() {
		logger.Warn("⚠️ 紧急停止中，忽略 %s 的开仓信号", sig.Coin)
		return false
	}
	return b.orders.ProcessSignal(ctx, sig)
}

// Start 启动信号循环；启用下单时同时启动持仓监控
func (b *Bot) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.running {
		logger.Warn("⚠️ 机器人已在运行")
		return ErrAlreadyRunning
	}

	logger.Info("🚀 启动信号交易机器人 (交易所: %s)", b.gw.Name())
	if b.opts.ExecuteOrders {
		logger.Warn("⚠️ 已启用下单 - 实盘交易模式")
	} else {
		logger.Info("📊 信号监控模式 - 不会下单")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.running = true

	if b.opts.ExecuteOrders {
		b.monitor.Start(ctx, b.opts.PositionInterval)
	}
	b.scheduler.Start(ctx)

	b.bus.Publish(&event.Event{Type: event.EventTypeSystemStart, Data: map[string]interface{}{
		"exchange":       b.gw.Name(),
		"execute_orders": b.opts.ExecuteOrders,
		"coins":          len(b.scheduler.Coins()),
		"generators":     b.scheduler.SourceCount(),
		"message":        fmt.Sprintf("机器人已启动 (交易所 %s, 下单 %v)", b.gw.Name(), b.opts.ExecuteOrders),
	}})
	logger.Info("✅ 机器人已启动")
	return nil
}

// Stop 停止两个循环并断开交易所连接，之后不能再次启动
func (b *Bot) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopLocked()
}

func (b *Bot) stopLocked() error {
	if b.closed {
		return nil
	}

	wasRunning := b.running
	if wasRunning {
		logger.Info("🛑 正在停止机器人...")
		b.cancel()
		b.monitor.Stop(b.opts.MonitorStopTimeout)
		b.scheduler.Stop(b.opts.StopTimeout)
		b.running = false
	}

	if err := b.gw.Close(); err != nil {
		logger.Warn("⚠️ 断开交易所连接失败: %v", err)
	}
	b.closed = true

	if wasRunning {
		b.bus.Publish(&event.Event{Type: event.EventTypeSystemStop, Data: map[string]interface{}{
			"exchange": b.gw.Name(),
			"message":  "机器人已停止",
		}})
	}
	logger.Info("⏹️ 机器人已停止")
	return nil
}

// EmergencyStop 平掉所有持仓后停止
// 部分币种平仓失败时继续平其余币种
func (b *Bot) EmergencyStop() (position.ForceCloseResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return position.ForceCloseResult{}, ErrClosed
	}

	logger.Warn("🚨 紧急停止")
	// 先停止开仓，等待进行中的信号处理结束，再平仓
	b.entriesHalted.Store(true)
	if b.running {
		b.scheduler.Stop(b.opts.StopTimeout)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	result := b.monitor.ForceCloseAll(ctx)
	cancel()

	b.bus.Publish(&event.Event{Type: event.EventTypeEmergencyStop, Data: map[string]interface{}{
		"closed":       len(result.Closed),
		"failed":       len(result.Failed),
		"closed_coins": result.Closed,
		"failed_coins": result.Failed,
		"fetch_error":  result.Error,
		"exchange":     b.gw.Name(),
	}})

	b.stopLocked()
	logger.Warn("🚨 紧急停止完成: 平仓 %d, 失败 %d", len(result.Closed), len(result.Failed))
	return result, nil
}

// IsRunning 是否在运行
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// IsClosed 是否已停止并断开连接
func (b *Bot) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// GetStatus 汇总状态，不修改任何状态
func (b *Bot) GetStatus(ctx context.Context) Status {
	return Status{
		Running:            b.IsRunning(),
		ExecuteOrders:      b.opts.ExecuteOrders,
		MonitoredCoinCount: len(b.scheduler.Coins()),
		GeneratorCount:     b.scheduler.SourceCount(),
		OrderStats:         b.orders.GetStats(),
		PositionStats:      b.monitor.GetStats(ctx),
	}
}

// CheckPositionsToSell 只读：哪些持仓满足平仓条件
func (b *Bot) CheckPositionsToSell(ctx context.Context) ([]position.ExitDecision, error) {
	return b.monitor.CheckPositionsToSell(ctx)
}

// GetPositions 只读：当前持仓和跟踪状态
func (b *Bot) GetPositions(ctx context.Context) ([]position.PositionView, error) {
	return b.monitor.GetAllPositions(ctx)
}

// ApplyRiskSettings 热更新风控参数
func (b *Bot) ApplyRiskSettings(cfg *config.Config) {
	b.orders.UpdateSettings(OrderSettings(cfg))
	b.monitor.UpdateThresholds(MonitorThresholds(cfg))
	b.bus.Publish(&event.Event{Type: event.EventTypeConfigReloaded, Data: map[string]interface{}{
		"message": fmt.Sprintf("风控参数已更新: 止损 %.2f%%, 止盈 %.2f%%, 最大持仓 %d",
			cfg.Trading.StopLossPercent, cfg.Trading.TakeProfitPercent, cfg.Trading.MaxPositions),
	}})
}

// OrderSettings 从配置生成开仓参数
func OrderSettings(cfg *config.Config) order.Settings {
	return order.Settings{
		MaxPositions:      cfg.Trading.MaxPositions,
		PositionSizeUSD:   cfg.Trading.PositionSizeUSD,
		StopLossPercent:   cfg.Trading.StopLossPercent,
		TakeProfitPercent: cfg.Trading.TakeProfitPercent,
		MinSignalStrength: cfg.Trading.MinSignalStrength,
		CooldownPeriod:    time.Duration(cfg.Trading.CooldownPeriod) * time.Second,
		SizeDecimals:      int32(cfg.Trading.SizeDecimals),
	}
}

// MonitorThresholds 从配置生成止损止盈阈值
func MonitorThresholds(cfg *config.Config) position.Thresholds {
	return position.Thresholds{
		StopLossPercent:   cfg.Trading.StopLossPercent,
		TakeProfitPercent: cfg.Trading.TakeProfitPercent,
	}
}
