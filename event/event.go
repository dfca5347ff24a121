// Package event 事件总线和事件中心：持久化交易/事件记录并转发通知
package event

import (
	"sync"
	"time"

	"signalbot/logger"
	"signalbot/metrics"
)

// EventType 事件类型
type EventType string

const (
	EventTypeOrderPlaced    EventType = "order_placed"
	EventTypeOrderFailed    EventType = "order_failed"
	EventTypeStopLoss       EventType = "stop_loss"
	EventTypeTakeProfit     EventType = "take_profit"
	EventTypePositionClosed EventType = "position_closed"
	EventTypeExitFailed     EventType = "exit_failed"
	EventTypeEmergencyStop  EventType = "emergency_stop"
	EventTypeConfigReloaded EventType = "config_reloaded"
	EventTypeError          EventType = "error"
	EventTypeSystemStart    EventType = "system_start"
	EventTypeSystemStop     EventType = "system_stop"
)

// Event 事件结构
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Publisher 事件发布者
type Publisher interface {
	Publish(event *Event)
}

// NopPublisher 丢弃所有事件
type NopPublisher struct{}

func (NopPublisher) Publish(*Event) {}

// OrNop 为 nil 时返回 NopPublisher
func OrNop(p Publisher) Publisher {
	if p == nil {
		return NopPublisher{}
	}
	return p
}

// EventBus 事件总线
type EventBus struct {
	mu      sync.RWMutex
	eventCh chan *Event
	closed  bool
}

// NewEventBus 创建事件总线
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000 // 默认1000
	}
	return &EventBus{
		eventCh: make(chan *Event, bufferSize),
	}
}

// Publish 发布事件（非阻塞）
func (eb *EventBus) Publish(event *Event) {
	if event == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}

	select {
	case eb.eventCh <- event:
	default:
		// Channel 满了，记录警告但不阻塞
		metrics.GetPrometheusMetrics().RecordDropped("event")
		logger.Warn("⚠️ 事件队列已满，丢弃事件: %s", event.Type)
	}
}

// Subscribe 订阅事件（返回 channel）
func (eb *EventBus) Subscribe() <-chan *Event {
	return eb.eventCh
}

// Close 关闭事件总线，之后的发布会被忽略
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if !eb.closed {
		eb.closed = true
		close(eb.eventCh)
	}
}
