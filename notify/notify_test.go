package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"signalbot/event"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []event.EventType
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt.Type)
	return nil
}

func TestNotificationRules(t *testing.T) {
	rec := &recordingNotifier{}
	ns := &NotificationService{}
	ns.SetNotifiers(true, Rules{StopLoss: true}, rec)

	ns.Send(&event.Event{Type: event.EventTypeOrderPlaced})
	ns.Send(&event.Event{Type: event.EventTypeStopLoss})
	ns.Send(&event.Event{Type: event.EventTypeSystemStart})
	ns.Wait()

	if len(rec.events) != 2 {
		t.Fatalf("通知数 = %d, 期望 2 (%v)", len(rec.events), rec.events)
	}

	ns.SetNotifiers(false, Rules{StopLoss: true}, rec)
	ns.Send(&event.Event{Type: event.EventTypeStopLoss})
	ns.Wait()
	if len(rec.events) != 2 {
		t.Error("通知总开关关闭后不应发送")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wn, err := NewWebhookNotifier(srv.URL, 0)
	if err != nil {
		t.Fatalf("创建 Webhook 失败: %v", err)
	}
	err = wn.Send(&event.Event{
		Type:      event.EventTypeTakeProfit,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"coin": "ETH", "reason": "TAKE_PROFIT", "profit_pct": 10.5},
	})
	if err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	if got["type"] != "take_profit" || got["severity"] != "info" {
		t.Errorf("Webhook 内容错误: %v", got)
	}
}

func TestTelegramNotifier(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	tn, err := NewTelegramNotifier("token", "42")
	if err != nil {
		t.Fatalf("创建 Telegram 失败: %v", err)
	}
	tn.baseURL = srv.URL

	if err := tn.Send(&event.Event{Type: event.EventTypeStopLoss, Data: map[string]interface{}{"coin": "ETH"}}); err != nil {
		t.Fatalf("发送失败: %v", err)
	}
	text, _ := body["text"].(string)
	if body["chat_id"] != "42" || !strings.Contains(text, "止损平仓") {
		t.Errorf("Telegram 内容错误: %v", body)
	}

	if _, err := NewTelegramNotifier("", "42"); err == nil {
		t.Error("缺少 token 应返回错误")
	}
}
