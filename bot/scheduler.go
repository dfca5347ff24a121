package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"signalbot/logger"
	"signalbot/metrics"
	"signalbot/signal"
)

// 信号处理结果（写入信号日志）
const (
	OutcomeExecuted = "executed"
	OutcomeRejected = "rejected"
	OutcomeLogged   = "logged"
)

// DefaultSourceInterval 没有配置间隔的信号源使用的检查间隔
const DefaultSourceInterval = 60 * time.Second

// SignalHandler 处理一个可执行信号，返回是否已下单
type SignalHandler func(ctx context.Context, sig *signal.Signal) bool

// SignalRecorder 记录每个收集到的信号及处理结果
type SignalRecorder interface {
	Record(sig *signal.Signal, outcome string)
}

// CoinSignals 某个币种本轮收集到的非 HOLD 信号
type CoinSignals struct {
	Coin    string
	Signals []*signal.Signal
}

// SchedulerOptions 调度器可选参数
type SchedulerOptions struct {
	BaseInterval time.Duration
	Recorder     SignalRecorder
	Now          func() time.Time
}

// Scheduler 信号调度器
// 按基础间隔轮询，每个信号源按各自间隔到期后才会运行
type Scheduler struct {
	sources   []signal.Source
	intervals map[string]time.Duration
	coins     []string
	handler   SignalHandler
	recorder  SignalRecorder
	base      time.Duration
	now       func() time.Time
	pm        *metrics.PrometheusMetrics

	mu           sync.Mutex
	lastDispatch map[string]time.Time

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler 创建调度器
// sources 按注册顺序运行，coins 按配置顺序处理；handler 为 nil 时只记录信号
func NewScheduler(sources []signal.Source, intervals map[string]time.Duration, coins []string, handler SignalHandler, opts SchedulerOptions) *Scheduler {
	if opts.BaseInterval <= 0 {
		opts.BaseInterval = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	iv := make(map[string]time.Duration, len(intervals))
	for k, v := range intervals {
		iv[k] = v
	}

	// 去重并保持顺序
	seen := make(map[string]bool, len(coins))
	ordered := make([]string, 0, len(coins))
	for _, c := range coins {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		ordered = append(ordered, c)
	}

	return &Scheduler{
		sources:      append([]signal.Source(nil), sources...),
		intervals:    iv,
		coins:        ordered,
		handler:      handler,
		recorder:     opts.Recorder,
		base:         opts.BaseInterval,
		now:          opts.Now,
		pm:           metrics.GetPrometheusMetrics(),
		lastDispatch: make(map[string]time.Time),
	}
}

// Coins 监控的币种
func (s *Scheduler) Coins() []string {
	return append([]string(nil), s.coins...)
}

// SourceCount 信号源数量
func (s *Scheduler) SourceCount() int {
	return len(s.sources)
}

func (s *Scheduler) intervalOf(name string) time.Duration {
	if d, ok := s.intervals[name]; ok && d > 0 {
		return d
	}
	return DefaultSourceInterval
}

// dueSources 选出本轮到期的信号源，选中时立即更新 lastDispatch
func (s *Scheduler) dueSources() []signal.Source {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []signal.Source
	for _, src := range s.sources {
		name := src.Name()
		last, ok := s.lastDispatch[name]
		if ok && now.Sub(last) < s.intervalOf(name) {
			continue
		}
		s.lastDispatch[name] = now
		due = append(due, src)
	}
	return due
}

// RunCycle 执行一轮检查，返回各币种收集到的信号
func (s *Scheduler) RunCycle(ctx context.Context) []CoinSignals {
	start := time.Now()
	defer s.pm.ObserveLoop("signal", start)

	due := s.dueSources()
	if len(due) == 0 {
		return nil
	}

	names := make([]string, len(due))
	for i, src := range due {
		names[i] = src.Name()
	}
	logger.Info("🔍 检查信号: %s", strings.Join(names, ", "))

	var results []CoinSignals
	for _, coin := range s.coins {
		if ctx.Err() != nil {
			return results
		}

		var signals []*signal.Signal
		for _, src := range due {
			sig, err := s.generate(ctx, src, coin)
			if err != nil {
				logger.Error("❌ %s 生成 %s 信号失败: %v", src.Name(), coin, err)
				s.pm.RecordSignalError(src.Name())
				continue
			}
			if sig == nil || sig.Action() == signal.ActionHold {
				continue
			}
			s.pm.RecordSignal(sig.Source(), string(sig.Action()))
			signals = append(signals, sig)
		}
		if len(signals) == 0 {
			continue
		}

		logger.Info("📊 %s: 生成 %d 个信号", coin, len(signals))
		for _, sig := range signals {
			logger.Info("  └─ %s", sig)
			s.dispatch(ctx, sig)
		}
		results = append(results, CoinSignals{Coin: coin, Signals: signals})
	}
	return results
}

// generate 调用信号源，信号源 panic 时转换为错误
func (s *Scheduler) generate(ctx context.Context, src signal.Source, coin string) (sig *signal.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig, err = nil, fmt.Errorf("信号源 panic: %v", r)
		}
	}()
	return src.GenerateSignal(ctx, coin)
}

func (s *Scheduler) dispatch(ctx context.Context, sig *signal.Signal) {
	outcome := OutcomeLogged
	if s.handler != nil {
		if s.handler(ctx, sig) {
			outcome = OutcomeExecuted
			logger.Info("     ✅ 已下单")
		} else {
			outcome = OutcomeRejected
			logger.Info("     ✗ 未下单（未通过风控检查）")
		}
	} else {
		logger.Info("     📊 信号已记录（未启用下单）")
	}
	if s.recorder != nil {
		s.recorder.Record(sig, outcome)
	}
}

// Start 启动信号循环，立即执行一轮后按基础间隔轮询
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		logger.Warn("⚠️ 信号循环已在运行")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)
	logger.Info("🚀 信号循环已启动 (基础间隔 %v, %d 个信号源, %d 个币种)", s.base, len(s.sources), len(s.coins))
}

// Stop 通知循环退出并等待，超时返回 false
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return true
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()

	cancel()
	select {
	case <-done:
		logger.Info("⏹️ 信号循环已停止")
		return true
	case <-time.After(timeout):
		logger.Warn("⚠️ 等待信号循环退出超时 (%v)", timeout)
		return false
	}
}

// IsRunning 信号循环是否在运行
func (s *Scheduler) IsRunning() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.base)
	defer ticker.Stop()

	s.safeCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeCycle(ctx)
		}
	}
}

func (s *Scheduler) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("❌ 信号循环异常: %v", r)
		}
	}()
	s.RunCycle(ctx)
}
