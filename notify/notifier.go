// Package notify 把事件推送到 Telegram 和 Webhook
package notify

import (
	"sync"

	"signalbot/config"
	"signalbot/event"
	"signalbot/logger"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// Rules 按事件类型的通知开关
type Rules struct {
	OrderPlaced   bool
	StopLoss      bool
	TakeProfit    bool
	EmergencyStop bool
	Error         bool
}

// NotificationService 通知服务
type NotificationService struct {
	mu        sync.RWMutex
	enabled   bool
	rules     Rules
	notifiers []Notifier
	wg        sync.WaitGroup
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{}
	ns.UpdateConfig(cfg)
	return ns
}

// UpdateConfig 按配置重建通知渠道（支持热更新）
func (ns *NotificationService) UpdateConfig(cfg *config.Config) {
	n := cfg.Notifications
	var notifiers []Notifier

	if n.Enabled {
		if n.Telegram.Enabled {
			tn, err := NewTelegramNotifier(n.Telegram.BotToken, n.Telegram.ChatID)
			if err != nil {
				logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
			} else {
				notifiers = append(notifiers, tn)
				logger.Info("✅ Telegram 通知已启用")
			}
		}

		if n.Webhook.Enabled {
			wn, err := NewWebhookNotifier(n.Webhook.URL, n.Webhook.Timeout)
			if err != nil {
				logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
			} else {
				notifiers = append(notifiers, wn)
				logger.Info("✅ Webhook 通知已启用")
			}
		}
	}

	ns.SetNotifiers(n.Enabled, Rules{
		OrderPlaced:   n.Rules.OrderPlaced,
		StopLoss:      n.Rules.StopLoss,
		TakeProfit:    n.Rules.TakeProfit,
		EmergencyStop: n.Rules.EmergencyStop,
		Error:         n.Rules.Error,
	}, notifiers...)
}

// SetNotifiers 直接设置通知渠道和规则
func (ns *NotificationService) SetNotifiers(enabled bool, rules Rules, notifiers ...Notifier) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.enabled = enabled
	ns.rules = rules
	ns.notifiers = notifiers
}

// shouldNotify 检查是否需要通知
func (ns *NotificationService) shouldNotify(eventType event.EventType) bool {
	if !ns.enabled {
		return false
	}

	switch eventType {
	case event.EventTypeOrderPlaced:
		return ns.rules.OrderPlaced
	case event.EventTypeStopLoss:
		return ns.rules.StopLoss
	case event.EventTypeTakeProfit:
		return ns.rules.TakeProfit
	case event.EventTypeEmergencyStop, event.EventTypePositionClosed:
		return ns.rules.EmergencyStop
	case event.EventTypeError, event.EventTypeExitFailed, event.EventTypeOrderFailed:
		return ns.rules.Error
	case event.EventTypeSystemStart, event.EventTypeSystemStop:
		return true
	default:
		return false
	}
}

// Send 发送通知（异步，不阻塞）
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil {
		return
	}

	ns.mu.RLock()
	if !ns.shouldNotify(evt.Type) {
		ns.mu.RUnlock()
		return
	}
	notifiers := ns.notifiers
	ns.mu.RUnlock()

	for _, notifier := range notifiers {
		ns.wg.Add(1)
		go func(n Notifier) {
			defer ns.wg.Done()
			if err := n.Send(evt); err != nil {
				logger.Warn("⚠️ [%s] 通知发送失败: %v", n.Name(), err)
			}
		}(notifier)
	}
}

// Wait 等待已发出的通知完成（退出前调用）
func (ns *NotificationService) Wait() {
	ns.wg.Wait()
}
