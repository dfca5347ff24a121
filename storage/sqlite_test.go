package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"signalbot/signal"
)

func TestSQLiteStorage(t *testing.T) {
	st, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "signals.db"))
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now()
	records := []*SignalRecord{
		{Coin: "BTC", Action: "BUY", Strength: 0.8, Source: "rsi_5min", Outcome: "executed", SignalAt: now,
			Metadata: map[string]interface{}{"rsi": 22.5}},
		{Coin: "ETH", Action: "SELL", Strength: 0.6, Source: "rsi_5min", Outcome: "rejected", SignalAt: now},
		{Coin: "BTC", Action: "BUY", Strength: 0.9, Source: "macd_15min", Outcome: "logged", SignalAt: now},
	}
	if err := st.SaveSignals(ctx, records); err != nil {
		t.Fatalf("保存信号失败: %v", err)
	}
	if records[2].ID == 0 {
		t.Error("保存后应返回自增 ID")
	}

	all, err := st.QuerySignals(ctx, "", 10)
	if err != nil {
		t.Fatalf("查询信号失败: %v", err)
	}
	if len(all) != 3 || all[0].Source != "macd_15min" {
		t.Errorf("应按时间倒序返回 3 条, 得到 %d", len(all))
	}

	btc, _ := st.QuerySignals(ctx, "BTC", 10)
	if len(btc) != 2 {
		t.Errorf("BTC 信号数量 = %d, 期望 2", len(btc))
	}
	if rsi, _ := btc[1].Metadata["rsi"].(float64); rsi != 22.5 {
		t.Errorf("元数据未正确保存: %v", btc[1].Metadata)
	}

	stats, err := st.QueryStats(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if len(stats) != 2 || stats[1].Source != "rsi_5min" || stats[1].Executed != 1 || stats[1].Rejected != 1 {
		t.Errorf("统计结果错误: %+v", stats)
	}

	n, err := st.Cleanup(ctx, now.Add(time.Hour))
	if err != nil || n != 3 {
		t.Errorf("清理数量 = %d, err = %v", n, err)
	}
}

func TestSignalJournalFlushOnStop(t *testing.T) {
	j, err := NewSignalJournal(Options{
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		BatchSize:     50,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("创建信号日志失败: %v", err)
	}
	j.Start()

	for _, coin := range []string{"BTC", "ETH", "ZEC"} {
		sig, _ := signal.New(coin, signal.ActionBuy, 0.8, "rsi_1min", map[string]interface{}{"rsi": 25.0})
		j.Record(sig, "logged")
	}

	// 打开第二个连接读取，确认停止时缓冲区被写入
	path := j.opts.Path
	j.Stop()

	st, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatalf("重新打开失败: %v", err)
	}
	defer st.Close()
	records, _ := st.QuerySignals(context.Background(), "", 10)
	if len(records) != 3 {
		t.Fatalf("停止后应写入 3 条信号, 得到 %d", len(records))
	}
	if records[0].Coin != "ZEC" || records[0].Outcome != "logged" {
		t.Errorf("最新记录错误: %+v", records[0])
	}

	// 停止后不再接受新记录
	sig, _ := signal.New("BTC", signal.ActionSell, 0.7, "rsi_1min", nil)
	j.Record(sig, "logged")
}

func TestSignalJournalBatchFlush(t *testing.T) {
	j, err := NewSignalJournal(Options{
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		BatchSize:     2,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("创建信号日志失败: %v", err)
	}
	j.Start()
	defer j.Stop()

	for i := 0; i < 2; i++ {
		sig, _ := signal.New("BTC", signal.ActionBuy, 0.8, "sma_5min", nil)
		j.Record(sig, "executed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		records, err := j.Recent(context.Background(), "BTC", 10)
		if err == nil && len(records) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("达到批量大小后应立即写入")
}

func TestSignalJournalCleanup(t *testing.T) {
	j, err := NewSignalJournal(Options{
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		RetentionDays: 7,
	})
	if err != nil {
		t.Fatalf("创建信号日志失败: %v", err)
	}
	defer j.Stop()

	ctx := context.Background()
	now := time.Now()
	records := []*SignalRecord{
		{Coin: "BTC", Action: "BUY", Strength: 0.8, Source: "rsi_1h", Outcome: "logged", SignalAt: now.AddDate(0, 0, -10), CreatedAt: now.AddDate(0, 0, -10)},
		{Coin: "BTC", Action: "BUY", Strength: 0.8, Source: "rsi_1h", Outcome: "logged", SignalAt: now, CreatedAt: now},
	}
	if err := j.storage.SaveSignals(ctx, records); err != nil {
		t.Fatalf("保存信号失败: %v", err)
	}

	j.cleanupExpired()

	left, _ := j.Recent(ctx, "", 10)
	if len(left) != 1 || !left[0].SignalAt.After(now.Add(-time.Minute)) {
		t.Errorf("应只保留最近 7 天的信号, 剩余 %d 条", len(left))
	}

	if n, _ := j.Cleanup(ctx, 0); n != 0 {
		t.Errorf("keepDays=0 不应删除, 删除了 %d 条", n)
	}
}
