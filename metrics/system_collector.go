package metrics

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"signalbot/logger"
)

// ProcessStats 进程资源占用
type ProcessStats struct {
	Timestamp     time.Time `json:"timestamp"`
	PID           int       `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryMB      float64   `json:"memory_mb"`
	MemoryPercent float64   `json:"memory_percent"` // 占系统内存百分比
	Goroutines    int       `json:"goroutines"`
	rssBytes      uint64
}

// CollectProcessStats 采集当前进程的资源占用
func CollectProcessStats() (*ProcessStats, error) {
	pid := os.Getpid()
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("获取进程失败: %w", err)
	}

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return nil, fmt.Errorf("获取CPU占用率失败: %w", err)
	}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("获取内存信息失败: %w", err)
	}

	stats := &ProcessStats{
		Timestamp:  time.Now(),
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		rssBytes:   memInfo.RSS,
	}

	// 系统内存获取失败时百分比保持为 0
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		stats.MemoryPercent = float64(memInfo.RSS) / float64(vm.Total) * 100
	}

	return stats, nil
}

// SystemMetricsCollector 系统指标采集器
type SystemMetricsCollector struct {
	pm       *PrometheusMetrics
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastGC   uint32
}

// NewSystemMetricsCollector 创建系统指标采集器
func NewSystemMetricsCollector(interval time.Duration) *SystemMetricsCollector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SystemMetricsCollector{
		pm:       GetPrometheusMetrics(),
		interval: interval,
	}
}

// Start 启动采集
func (smc *SystemMetricsCollector) Start(ctx context.Context) {
	ctx, smc.cancel = context.WithCancel(ctx)
	smc.wg.Add(1)
	go smc.collectLoop(ctx)
}

// Stop 停止采集
func (smc *SystemMetricsCollector) Stop() {
	if smc.cancel != nil {
		smc.cancel()
	}
	smc.wg.Wait()
}

func (smc *SystemMetricsCollector) collectLoop(ctx context.Context) {
	defer smc.wg.Done()

	ticker := time.NewTicker(smc.interval)
	defer ticker.Stop()

	smc.collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			smc.collect()
		}
	}
}

func (smc *SystemMetricsCollector) collect() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	smc.pm.SetGoroutineCount(runtime.NumGoroutine())
	smc.pm.SetMemoryAlloc(m.Alloc)

	// 只记录上次采集之后的 GC（PauseNs 是长度 256 的环形缓冲）
	if m.NumGC > smc.lastGC {
		from := smc.lastGC
		if m.NumGC-from > 256 {
			from = m.NumGC - 256
		}
		for i := from; i < m.NumGC; i++ {
			smc.pm.RecordGCPause(time.Duration(m.PauseNs[i%256]))
		}
		smc.lastGC = m.NumGC
	}

	stats, err := CollectProcessStats()
	if err != nil {
		logger.Debug("采集进程指标失败: %v", err)
		return
	}
	smc.pm.SetProcessStats(stats.CPUPercent, stats.rssBytes)
}
