package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"signalbot/database"
	"signalbot/logger"
)

// NotificationService 通知服务接口
type NotificationService interface {
	Send(event *Event)
}

// EventCenterConfig 事件中心配置
type EventCenterConfig struct {
	Exchange        string
	CleanupInterval time.Duration
	Retention       RetentionConfig
}

// RetentionConfig 保留策略配置
type RetentionConfig struct {
	CriticalDays     int
	WarningDays      int
	InfoDays         int
	CriticalMaxCount int
	WarningMaxCount  int
	InfoMaxCount     int
}

// DefaultRetention 默认保留策略
var DefaultRetention = RetentionConfig{
	CriticalDays:     365,
	WarningDays:      90,
	InfoDays:         30,
	CriticalMaxCount: 100000,
	WarningMaxCount:  50000,
	InfoMaxCount:     30000,
}

// EventCenter 事件中心
// 唯一的事件消费者：写事件记录、写开平仓记录、转发通知
type EventCenter struct {
	db       database.Database // 为 nil 时不持久化
	eventBus *EventBus
	notifier NotificationService // 为 nil 时不通知
	config   EventCenterConfig
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEventCenter 创建事件中心
func NewEventCenter(db database.Database, eventBus *EventBus, notifier NotificationService, config EventCenterConfig) *EventCenter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 24 * time.Hour
	}
	if config.Retention == (RetentionConfig{}) {
		config.Retention = DefaultRetention
	}
	return &EventCenter{
		db:       db,
		eventBus: eventBus,
		notifier: notifier,
		config:   config,
	}
}

// Start 启动事件中心
func (ec *EventCenter) Start(ctx context.Context) {
	ctx, ec.cancel = context.WithCancel(ctx)

	ec.wg.Add(1)
	go ec.processEvents(ctx)

	if ec.db != nil {
		ec.wg.Add(1)
		go ec.cleanupTask(ctx)
	}

	logger.Info("✅ 事件中心已启动")
}

// Stop 停止事件中心，队列中剩余的事件会先处理完
func (ec *EventCenter) Stop() {
	if ec.cancel != nil {
		ec.cancel()
	}
	ec.wg.Wait()
	logger.Info("✅ 事件中心已停止")
}

func (ec *EventCenter) processEvents(ctx context.Context) {
	defer ec.wg.Done()

	eventCh := ec.eventBus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			ec.drain(eventCh)
			return
		case evt, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(evt)
		}
	}
}

func (ec *EventCenter) drain(eventCh <-chan *Event) {
	for {
		select {
		case evt, ok := <-eventCh:
			if !ok {
				return
			}
			ec.handleEvent(evt)
		default:
			return
		}
	}
}

// handleEvent 处理单个事件
func (ec *EventCenter) handleEvent(evt *Event) {
	if evt == nil {
		return
	}

	if ec.db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ec.persist(ctx, evt)
		cancel()
	}

	if ec.notifier != nil {
		ec.notifier.Send(evt)
	}
}

func (ec *EventCenter) persist(ctx context.Context, evt *Event) {
	details, err := json.Marshal(evt.Data)
	if err != nil {
		logger.Warn("⚠️ 序列化事件详情失败: %v", err)
		details = []byte("{}")
	}

	record := &database.EventRecord{
		Type:      string(evt.Type),
		Severity:  string(GetEventSeverity(evt.Type)),
		Source:    string(GetEventSource(evt.Type)),
		Exchange:  ec.config.Exchange,
		Coin:      stringValue(evt.Data, "coin"),
		Title:     GetEventTitle(evt.Type),
		Message:   BuildMessage(evt),
		Details:   string(details),
		CreatedAt: evt.Timestamp,
	}
	if err := ec.db.SaveEvent(ctx, record); err != nil {
		logger.Error("❌ 保存事件失败: %v", err)
	}

	if trade := ec.tradeRecord(evt); trade != nil {
		if err := ec.db.SaveTrade(ctx, trade); err != nil {
			logger.Error("❌ 保存交易记录失败: %v", err)
		}
	}
}

// tradeRecord 开仓和平仓事件转换为交易记录
func (ec *EventCenter) tradeRecord(evt *Event) *database.TradeRecord {
	d := evt.Data
	switch {
	case evt.Type == EventTypeOrderPlaced:
		return &database.TradeRecord{
			Exchange:   ec.config.Exchange,
			Coin:       stringValue(d, "coin"),
			Kind:       database.TradeKindEntry,
			Side:       stringValue(d, "side"),
			Size:       floatValue(d, "size"),
			Price:      floatValue(d, "price"),
			StopLoss:   floatValue(d, "stop_loss"),
			TakeProfit: floatValue(d, "take_profit"),
			Source:     stringValue(d, "source"),
			Strength:   floatValue(d, "strength"),
			OrderID:    stringValue(d, "order_id"),
			CreatedAt:  evt.Timestamp,
		}
	case IsExit(evt.Type):
		return &database.TradeRecord{
			Exchange:  ec.config.Exchange,
			Coin:      stringValue(d, "coin"),
			Kind:      database.TradeKindExit,
			Side:      stringValue(d, "side"),
			Size:      floatValue(d, "size"),
			Price:     floatValue(d, "price"),
			Reason:    stringValue(d, "reason"),
			PnL:       floatValue(d, "pnl"),
			ProfitPct: floatValue(d, "profit_pct"),
			OrderID:   stringValue(d, "order_id"),
			CreatedAt: evt.Timestamp,
		}
	}
	return nil
}

// BuildMessage 构建事件消息
func BuildMessage(evt *Event) string {
	d := evt.Data
	coin := stringValue(d, "coin")
	switch evt.Type {
	case EventTypeOrderPlaced:
		return fmt.Sprintf("%s %s %.6f @ %.6f (止损 %.6f, 止盈 %.6f, 信号 %s %.2f)",
			stringValue(d, "side"), coin, floatValue(d, "size"), floatValue(d, "price"),
			floatValue(d, "stop_loss"), floatValue(d, "take_profit"),
			stringValue(d, "source"), floatValue(d, "strength"))
	case EventTypeStopLoss, EventTypeTakeProfit, EventTypePositionClosed:
		return fmt.Sprintf("%s %s 平仓, 收益率 %.2f%%, 盈亏 %.4f",
			coin, stringValue(d, "reason"), floatValue(d, "profit_pct"), floatValue(d, "pnl"))
	case EventTypeEmergencyStop:
		return fmt.Sprintf("紧急停止: 平仓成功 %d, 失败 %d", intValue(d, "closed"), intValue(d, "failed"))
	default:
		if msg := stringValue(d, "message"); msg != "" {
			return msg
		}
		if msg := stringValue(d, "error"); msg != "" {
			return msg
		}
		return GetEventTitle(evt.Type)
	}
}

func stringValue(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	if v, ok := data[key].(fmt.Stringer); ok {
		return v.String()
	}
	return ""
}

func floatValue(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func intValue(data map[string]interface{}, key string) int {
	return int(floatValue(data, key))
}

// cleanupTask 定期清理旧事件
func (ec *EventCenter) cleanupTask(ctx context.Context) {
	defer ec.wg.Done()

	ticker := time.NewTicker(ec.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ec.performCleanup(ctx)
		}
	}
}

func (ec *EventCenter) performCleanup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	r := ec.config.Retention
	rules := []struct {
		severity EventSeverity
		count    int
		days     int
	}{
		{SeverityCritical, r.CriticalMaxCount, r.CriticalDays},
		{SeverityWarning, r.WarningMaxCount, r.WarningDays},
		{SeverityInfo, r.InfoMaxCount, r.InfoDays},
	}
	for _, rule := range rules {
		if err := ec.db.CleanupOldEvents(ctx, string(rule.severity), rule.count, rule.days); err != nil {
			logger.Error("❌ 清理 %s 事件失败: %v", rule.severity, err)
		}
	}
	logger.Info("🧹 事件清理完成")
}
