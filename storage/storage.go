package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"signalbot/logger"
	"signalbot/metrics"
	"signalbot/signal"
)

// Options 信号日志配置
type Options struct {
	Path          string
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	FallbackPath  string // 数据库写入失败时追加到该文件
	RetentionDays int    // 信号保留天数，0 表示不清理
}

// SignalJournal 信号日志服务
// Record 完全异步，不阻塞信号循环
type SignalJournal struct {
	storage *SQLiteStorage
	opts    Options
	pm      *metrics.PrometheusMetrics

	eventCh chan *SignalRecord
	mu      sync.Mutex
	buffer  []*SignalRecord

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	stopMu  sync.Mutex
	started bool
	stopped bool
}

// NewSignalJournal 打开数据库并创建信号日志
func NewSignalJournal(opts Options) (*SignalJournal, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.FallbackPath == "" {
		opts.FallbackPath = filepath.Join(filepath.Dir(opts.Path), "signals_fallback.jsonl")
	}

	st, err := NewSQLiteStorage(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化信号日志失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SignalJournal{
		storage: st,
		opts:    opts,
		pm:      metrics.GetPrometheusMetrics(),
		eventCh: make(chan *SignalRecord, opts.BufferSize),
		buffer:  make([]*SignalRecord, 0, opts.BatchSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Start 启动后台写入协程
func (j *SignalJournal) Start() {
	j.stopMu.Lock()
	defer j.stopMu.Unlock()
	if j.started || j.stopped {
		return
	}
	j.started = true

	go j.processEvents()
	logger.Info("✅ 信号日志已启动 (路径: %s)", j.opts.Path)
}

// Stop 停止写入，刷新缓冲区后关闭数据库
func (j *SignalJournal) Stop() {
	j.stopMu.Lock()
	if j.stopped {
		j.stopMu.Unlock()
		return
	}
	j.stopped = true
	started := j.started
	j.stopMu.Unlock()

	j.cancel()
	if started {
		<-j.done
	} else {
		j.drain()
		j.flush()
	}

	if err := j.storage.Close(); err != nil {
		logger.Warn("⚠️ 关闭信号数据库失败: %v", err)
	}
	logger.Info("⏹️ 信号日志已停止")
}

// Record 记录一个信号及其处理结果
func (j *SignalJournal) Record(sig *signal.Signal, outcome string) {
	if sig == nil {
		return
	}

	j.stopMu.Lock()
	stopped := j.stopped
	j.stopMu.Unlock()
	if stopped {
		return
	}

	rec := &SignalRecord{
		Coin:      sig.Coin(),
		Action:    string(sig.Action()),
		Strength:  sig.Strength(),
		Source:    sig.Source(),
		Outcome:   outcome,
		Metadata:  sig.Metadata(),
		SignalAt:  sig.Timestamp(),
		CreatedAt: time.Now(),
	}

	select {
	case j.eventCh <- rec:
	default:
		// 队列满了，记录警告但不阻塞
		j.pm.RecordDropped("signal_journal")
		logger.Warn("⚠️ 信号日志队列已满，丢弃: %s %s", rec.Source, rec.Coin)
	}
}

// Recent 最近的信号（最新在前）
func (j *SignalJournal) Recent(ctx context.Context, coin string, limit int) ([]*SignalRecord, error) {
	return j.storage.QuerySignals(ctx, coin, limit)
}

// Stats 自 since 起各来源的信号统计
func (j *SignalJournal) Stats(ctx context.Context, since time.Time) ([]*SignalStats, error) {
	return j.storage.QueryStats(ctx, since)
}

// Cleanup 删除 keepDays 天以前的信号
func (j *SignalJournal) Cleanup(ctx context.Context, keepDays int) (int64, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	return j.storage.Cleanup(ctx, time.Now().AddDate(0, 0, -keepDays))
}

// processEvents 在独立 goroutine 中批量写入
func (j *SignalJournal) processEvents() {
	defer close(j.done)

	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	j.cleanupExpired()
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			// 退出前把队列和缓冲区都写完
			j.drain()
			j.flush()
			return

		case rec := <-j.eventCh:
			j.mu.Lock()
			j.buffer = append(j.buffer, rec)
			n := len(j.buffer)
			j.mu.Unlock()

			if n >= j.opts.BatchSize {
				j.flush()
			}

		case <-ticker.C:
			j.flush()

		case <-cleanupTicker.C:
			j.cleanupExpired()
		}
	}
}

func (j *SignalJournal) cleanupExpired() {
	if j.opts.RetentionDays <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(j.ctx, 30*time.Second)
	defer cancel()
	n, err := j.Cleanup(ctx, j.opts.RetentionDays)
	if err != nil {
		logger.Warn("⚠️ 清理过期信号失败: %v", err)
		return
	}
	if n > 0 {
		logger.Info("🧹 已清理 %d 条 %d 天前的信号", n, j.opts.RetentionDays)
	}
}

func (j *SignalJournal) drain() {
	for {
		select {
		case rec := <-j.eventCh:
			j.mu.Lock()
			j.buffer = append(j.buffer, rec)
			j.mu.Unlock()
		default:
			return
		}
	}
}

// flush 把缓冲区写入数据库，失败时写入保底文件
func (j *SignalJournal) flush() {
	j.mu.Lock()
	if len(j.buffer) == 0 {
		j.mu.Unlock()
		return
	}
	records := make([]*SignalRecord, len(j.buffer))
	copy(records, j.buffer)
	j.buffer = j.buffer[:0]
	j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.storage.SaveSignals(ctx, records); err != nil {
		logger.Error("❌ 信号日志写入失败: %v", err)
		j.fallbackToLog(records)
	}
}

// fallbackToLog 保底方案：写入日志文件
func (j *SignalJournal) fallbackToLog(records []*SignalRecord) {
	if err := os.MkdirAll(filepath.Dir(j.opts.FallbackPath), 0755); err != nil {
		logger.Error("❌ 创建日志目录失败: %v", err)
		return
	}

	file, err := os.OpenFile(j.opts.FallbackPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger.Error("❌ 打开日志文件失败: %v", err)
		return
	}
	defer file.Close()

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		fmt.Fprintf(file, "%s %s\n", time.Now().Format(time.RFC3339), data)
	}
}
