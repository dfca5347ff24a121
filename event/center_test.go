package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"signalbot/database"
)

// mockDatabase 内存数据库
type mockDatabase struct {
	mu     sync.Mutex
	events []*database.EventRecord
	trades []*database.TradeRecord
}

func (m *mockDatabase) SaveTrade(ctx context.Context, trade *database.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return nil
}

func (m *mockDatabase) GetTrades(ctx context.Context, filter *database.TradeFilter) ([]*database.TradeRecord, error) {
	return m.trades, nil
}

func (m *mockDatabase) SaveEvent(ctx context.Context, event *database.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockDatabase) GetEvents(ctx context.Context, filter *database.EventFilter) ([]*database.EventRecord, error) {
	return m.events, nil
}

func (m *mockDatabase) GetEventStats(ctx context.Context) (*database.EventStats, error) {
	return &database.EventStats{}, nil
}

func (m *mockDatabase) CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error {
	return nil
}

func (m *mockDatabase) Ping(ctx context.Context) error { return nil }
func (m *mockDatabase) Close() error                   { return nil }

// mockNotifier 记录收到的通知
type mockNotifier struct {
	mu            sync.Mutex
	notifications []*Event
}

func (m *mockNotifier) Send(event *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, event)
}

func TestEventCenterPersistsTrades(t *testing.T) {
	bus := NewEventBus(10)
	db := &mockDatabase{}
	notifier := &mockNotifier{}
	center := NewEventCenter(db, bus, notifier, EventCenterConfig{Exchange: "paper"})
	center.Start(context.Background())

	bus.Publish(&Event{Type: EventTypeOrderPlaced, Data: map[string]interface{}{
		"coin": "BTC", "side": "BUY", "size": 0.001, "price": 20000.0,
		"stop_loss": 19560.0, "take_profit": 22024.0, "source": "rsi_5min", "strength": 0.8,
	}})
	bus.Publish(&Event{Type: EventTypeTakeProfit, Data: map[string]interface{}{
		"coin": "BTC", "side": "SELL", "reason": "TAKE_PROFIT", "profit_pct": 10.5, "pnl": 2.1,
	}})
	bus.Publish(&Event{Type: EventTypeSystemStop, Data: map[string]interface{}{}})

	center.Stop()

	if len(db.events) != 3 {
		t.Fatalf("事件记录数 = %d, 期望 3", len(db.events))
	}
	if len(db.trades) != 2 {
		t.Fatalf("交易记录数 = %d, 期望 2", len(db.trades))
	}
	entry := db.trades[0]
	if entry.Kind != database.TradeKindEntry || entry.Coin != "BTC" || entry.Source != "rsi_5min" || entry.Exchange != "paper" {
		t.Errorf("开仓记录错误: %+v", entry)
	}
	exit := db.trades[1]
	if exit.Kind != database.TradeKindExit || exit.Reason != "TAKE_PROFIT" || exit.ProfitPct != 10.5 {
		t.Errorf("平仓记录错误: %+v", exit)
	}
	if len(notifier.notifications) != 3 {
		t.Errorf("通知数 = %d, 期望 3", len(notifier.notifications))
	}
}

func TestEventBusDropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)
	bus.Publish(&Event{Type: EventTypeSystemStart})
	bus.Publish(&Event{Type: EventTypeSystemStop})

	ch := bus.Subscribe()
	first := <-ch
	if first.Type != EventTypeSystemStart {
		t.Errorf("第一个事件 = %s", first.Type)
	}
	if first.Timestamp.IsZero() {
		t.Error("发布时应补全时间戳")
	}
	select {
	case evt := <-ch:
		t.Errorf("队列已满时应丢弃事件, 实际收到 %s", evt.Type)
	case <-time.After(10 * time.Millisecond):
	}

	bus.Close()
	bus.Publish(&Event{Type: EventTypeError}) // 关闭后发布不应 panic
}

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  EventSeverity
	}{
		{EventTypeExitFailed, SeverityCritical},
		{EventTypeEmergencyStop, SeverityCritical},
		{EventTypeStopLoss, SeverityWarning},
		{EventTypeOrderPlaced, SeverityInfo},
	}
	for _, tt := range tests {
		if got := GetEventSeverity(tt.eventType); got != tt.expected {
			t.Errorf("GetEventSeverity(%s) = %s, 期望 %s", tt.eventType, got, tt.expected)
		}
	}
}

func TestBuildMessage(t *testing.T) {
	msg := BuildMessage(&Event{Type: EventTypeEmergencyStop, Data: map[string]interface{}{"closed": 2, "failed": 1}})
	if msg != "紧急停止: 平仓成功 2, 失败 1" {
		t.Errorf("消息 = %q", msg)
	}
	msg = BuildMessage(&Event{Type: EventTypeError, Data: map[string]interface{}{"error": "连接超时"}})
	if msg != "连接超时" {
		t.Errorf("错误消息 = %q", msg)
	}
}
