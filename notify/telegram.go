package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"signalbot/event"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier Telegram 通知器
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(botToken, chatID string) (*TelegramNotifier, error) {
	if botToken == "" || chatID == "" {
		return nil, fmt.Errorf("Telegram BotToken 或 ChatID 未配置")
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client: &http.Client{
			Timeout: 3 * time.Second,
		},
	}, nil
}

// Name 返回通知器名称
func (tn *TelegramNotifier) Name() string {
	return "Telegram"
}

// Send 发送通知
func (tn *TelegramNotifier) Send(evt *event.Event) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.baseURL, tn.botToken)

	payload := map[string]interface{}{
		"chat_id":    tn.chatID,
		"text":       formatTelegramMessage(evt),
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Telegram API 返回错误: %d", resp.StatusCode)
	}
	return nil
}

// formatTelegramMessage 格式化 Telegram 消息
func formatTelegramMessage(evt *event.Event) string {
	var emoji string
	switch evt.Type {
	case event.EventTypeOrderPlaced:
		emoji = "📝"
	case event.EventTypeStopLoss:
		emoji = "🛑"
	case event.EventTypeTakeProfit:
		emoji = "💰"
	case event.EventTypeEmergencyStop:
		emoji = "🚨"
	case event.EventTypeError, event.EventTypeExitFailed, event.EventTypeOrderFailed:
		emoji = "❌"
	case event.EventTypeSystemStart:
		emoji = "🚀"
	case event.EventTypeSystemStop:
		emoji = "⏹️"
	default:
		emoji = "ℹ️"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s*\n", emoji, event.GetEventTitle(evt.Type))
	fmt.Fprintf(&b, "%s\n", event.BuildMessage(evt))
	fmt.Fprintf(&b, "时间: %s\n", evt.Timestamp.Format("2006-01-02 15:04:05"))

	// 按键排序保证消息稳定
	keys := make([]string, 0, len(evt.Data))
	for k := range evt.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: `%v`\n", k, evt.Data[k])
	}
	return b.String()
}
