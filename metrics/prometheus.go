package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *PrometheusMetrics

	// 信号指标
	signalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbot_signals_total",
			Help: "Total number of signals generated",
		},
		[]string{"source", "action"},
	)

	signalErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbot_signal_errors_total",
			Help: "Total number of signal generation failures",
		},
		[]string{"source"},
	)

	// 订单指标
	orderRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbot_order_rejects_total",
			Help: "Total number of signals rejected by the entry checks",
		},
		[]string{"reason"},
	)

	ordersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbot_orders_total",
			Help: "Total number of entry orders sent to the exchange",
		},
		[]string{"coin", "side", "status"},
	)

	// 持仓指标
	positionExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbot_position_exits_total",
			Help: "Total number of position exits",
		},
		[]string{"reason", "status"},
	)

	openPositions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalbot_open_positions",
			Help: "Number of open positions seen in the last check",
		},
	)

	unrealizedPnl = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalbot_unrealized_pnl",
			Help: "Total unrealized PnL of open positions",
		},
	)

	trackedStates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalbot_tracked_position_states",
			Help: "Number of persisted position states",
		},
	)

	// 循环耗时
	loopDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalbot_loop_duration_seconds",
			Help:    "Duration of one loop iteration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"loop"},
	)

	// 交易所调用
	gatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbot_gateway_calls_total",
			Help: "Total number of exchange gateway calls",
		},
		[]string{"gateway", "method", "status"},
	)

	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signalbot_gateway_call_duration_seconds",
			Help:    "Exchange gateway call duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"gateway", "method"},
	)

	lockConflictTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbot_lock_conflict_total",
			Help: "Total number of order locks held by another instance",
		},
		[]string{"key"},
	)

	// 队列丢弃
	droppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbot_queue_dropped_total",
			Help: "Total number of items dropped because a queue was full",
		},
		[]string{"queue"},
	)

	// 进程指标
	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalbot_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	memoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalbot_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	gcPauseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalbot_gc_pause_duration_seconds",
			Help:    "GC pause duration in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
		},
	)

	processCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalbot_process_cpu_percent",
			Help: "Process CPU usage percent",
		},
	)

	processRSSBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "signalbot_process_rss_bytes",
			Help: "Process resident set size in bytes",
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct{}

// GetPrometheusMetrics 获取全局指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		instance = &PrometheusMetrics{}
	})
	return instance
}

// 信号

// RecordSignal 记录生成的信号
func (pm *PrometheusMetrics) RecordSignal(source, action string) {
	signalsTotal.WithLabelValues(source, action).Inc()
}

// RecordSignalError 记录信号源失败
func (pm *PrometheusMetrics) RecordSignalError(source string) {
	signalErrorsTotal.WithLabelValues(source).Inc()
}

// 订单

// RecordReject 记录开仓检查拒绝原因
func (pm *PrometheusMetrics) RecordReject(reason string) {
	orderRejectsTotal.WithLabelValues(reason).Inc()
}

// RecordOrder 记录开仓下单结果
func (pm *PrometheusMetrics) RecordOrder(coin, side, status string) {
	ordersTotal.WithLabelValues(coin, side, status).Inc()
}

// 持仓

// RecordExit 记录平仓
func (pm *PrometheusMetrics) RecordExit(reason, status string) {
	positionExitsTotal.WithLabelValues(reason, status).Inc()
}

// SetPositions 设置当前持仓数量和未实现盈亏
func (pm *PrometheusMetrics) SetPositions(count int, pnl float64) {
	openPositions.Set(float64(count))
	unrealizedPnl.Set(pnl)
}

// SetTrackedStates 设置持久化的持仓状态数量
func (pm *PrometheusMetrics) SetTrackedStates(count int) {
	trackedStates.Set(float64(count))
}

// ObserveLoop 记录一次循环耗时
func (pm *PrometheusMetrics) ObserveLoop(loop string, start time.Time) {
	loopDuration.WithLabelValues(loop).Observe(time.Since(start).Seconds())
}

// 交易所

// RecordGatewayCall 记录交易所调用
func (pm *PrometheusMetrics) RecordGatewayCall(gateway, method string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	gatewayCallsTotal.WithLabelValues(gateway, method, status).Inc()
	gatewayCallDuration.WithLabelValues(gateway, method).Observe(duration.Seconds())
}

// RecordLockConflict 记录锁冲突
func (pm *PrometheusMetrics) RecordLockConflict(key string) {
	lockConflictTotal.WithLabelValues(key).Inc()
}

// RecordDropped 记录队列已满被丢弃的数据
func (pm *PrometheusMetrics) RecordDropped(queue string) {
	droppedTotal.WithLabelValues(queue).Inc()
}

// 进程

// SetGoroutineCount 设置 Goroutine 数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}

// SetMemoryAlloc 设置内存分配
func (pm *PrometheusMetrics) SetMemoryAlloc(bytes uint64) {
	memoryAllocBytes.Set(float64(bytes))
}

// RecordGCPause 记录 GC 停顿时间
func (pm *PrometheusMetrics) RecordGCPause(duration time.Duration) {
	gcPauseDuration.Observe(duration.Seconds())
}

// SetProcessStats 设置进程 CPU 和内存
func (pm *PrometheusMetrics) SetProcessStats(cpuPercent float64, rssBytes uint64) {
	processCPUPercent.Set(cpuPercent)
	processRSSBytes.Set(float64(rssBytes))
}
