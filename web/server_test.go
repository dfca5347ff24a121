package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signalbot/bot"
	"signalbot/database"
	"signalbot/i18n"
	"signalbot/position"
	"signalbot/storage"

	"golang.org/x/crypto/bcrypt"
)

type fakeBot struct {
	running   bool
	closed    bool
	starts    int
	emergency int
}

func (b *fakeBot) Start() error {
	if b.closed {
		return bot.ErrClosed
	}
	if b.running {
		return bot.ErrAlreadyRunning
	}
	b.running = true
	b.starts++
	return nil
}

func (b *fakeBot) Stop() error {
	b.running, b.closed = false, true
	return nil
}

func (b *fakeBot) EmergencyStop() (position.ForceCloseResult, error) {
	if b.closed {
		return position.ForceCloseResult{}, bot.ErrClosed
	}
	b.emergency++
	b.Stop()
	return position.ForceCloseResult{Closed: []string{"BTC", "ETH"}, Failed: []string{"ZEC"}}, nil
}

func (b *fakeBot) GetStatus(ctx context.Context) bot.Status {
	return bot.Status{Running: b.running, ExecuteOrders: true, MonitoredCoinCount: 4, GeneratorCount: 5}
}

func (b *fakeBot) GetPositions(ctx context.Context) ([]position.PositionView, error) {
	return nil, errors.New("网络错误")
}

func (b *fakeBot) CheckPositionsToSell(ctx context.Context) ([]position.ExitDecision, error) {
	return []position.ExitDecision{{Coin: "ETH", Reason: position.ExitStopLoss, ProfitPct: -2.5}}, nil
}

type fakeHistory struct {
	lastTradeFilter *database.TradeFilter
}

func (h *fakeHistory) GetTrades(ctx context.Context, f *database.TradeFilter) ([]*database.TradeRecord, error) {
	h.lastTradeFilter = f
	return []*database.TradeRecord{{Coin: "BTC", Kind: database.TradeKindEntry}}, nil
}

func (h *fakeHistory) GetEvents(ctx context.Context, f *database.EventFilter) ([]*database.EventRecord, error) {
	return nil, nil
}

func (h *fakeHistory) GetEventStats(ctx context.Context) (*database.EventStats, error) {
	return &database.EventStats{TotalCount: 3}, nil
}

type fakeSignals struct{}

func (fakeSignals) Recent(ctx context.Context, coin string, limit int) ([]*storage.SignalRecord, error) {
	return []*storage.SignalRecord{{Coin: coin, Action: "BUY", Source: "rsi_5min"}}, nil
}

func (fakeSignals) Stats(ctx context.Context, since time.Time) ([]*storage.SignalStats, error) {
	return nil, nil
}

func newTestEngine(t *testing.T, b *fakeBot, hash string) http.Handler {
	t.Helper()
	if err := i18n.Init("zh-CN"); err != nil {
		t.Fatalf("初始化翻译失败: %v", err)
	}
	return NewEngine(Options{
		Username:     "admin",
		PasswordHash: hash,
		Bot:          b,
		History:      &fakeHistory{},
		Signals:      fakeSignals{},
	}, NewHub())
}

func do(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestBotControlRoutes(t *testing.T) {
	b := &fakeBot{}
	h := newTestEngine(t, b, "")

	w := do(h, http.MethodPost, "/api/bot/start", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "机器人已启动") {
		t.Errorf("启动返回 %d %s", w.Code, w.Body.String())
	}

	w = do(h, http.MethodPost, "/api/bot/start", map[string]string{"Accept-Language": "en-US"})
	if w.Code != http.StatusConflict || !strings.Contains(w.Body.String(), "already running") {
		t.Errorf("重复启动返回 %d %s", w.Code, w.Body.String())
	}

	w = do(h, http.MethodGet, "/api/status", nil)
	var status map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &status)
	if w.Code != http.StatusOK || status["running"] != true || status["monitored_coins"] != float64(4) {
		t.Errorf("状态返回 %d %s", w.Code, w.Body.String())
	}

	w = do(h, http.MethodPost, "/api/bot/emergency-stop", map[string]string{"Accept-Language": "en"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "2 closed, 1 failed") {
		t.Errorf("紧急停止返回 %d %s", w.Code, w.Body.String())
	}

	w = do(h, http.MethodPost, "/api/bot/start", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("停止后启动应返回 409, 得到 %d", w.Code)
	}
	if b.starts != 1 || b.emergency != 1 {
		t.Errorf("调用次数错误: %+v", b)
	}
}

func TestQueryRoutes(t *testing.T) {
	h := newTestEngine(t, &fakeBot{}, "")

	if w := do(h, http.MethodGet, "/api/positions", nil); w.Code != http.StatusBadGateway {
		t.Errorf("获取持仓失败应返回 502, 得到 %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/positions/exits", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "STOP_LOSS") {
		t.Errorf("平仓检查返回 %d %s", w.Code, w.Body.String())
	}
	if w := do(h, http.MethodGet, "/api/trades?coin=btc&limit=5000", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"limit":1000`) {
		t.Errorf("交易记录返回 %d %s", w.Code, w.Body.String())
	}
	if w := do(h, http.MethodGet, "/api/trades?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("错误参数应返回 400, 得到 %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/trades?start_time=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Errorf("错误时间应返回 400, 得到 %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/api/signals?coin=eth", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"coin":"ETH"`) {
		t.Errorf("信号返回 %d %s", w.Code, w.Body.String())
	}
	if w := do(h, http.MethodGet, "/api/events/stats", nil); w.Code != http.StatusOK {
		t.Errorf("事件统计返回 %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/metrics", nil); w.Code != http.StatusOK {
		t.Errorf("/metrics 返回 %d", w.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("生成哈希失败: %v", err)
	}
	h := newTestEngine(t, &fakeBot{}, string(hash))

	tests := []struct {
		name string
		user string
		pass string
		want int
	}{
		{"正确", "admin", "s3cret", http.StatusOK},
		{"密码错误", "admin", "wrong", http.StatusUnauthorized},
		{"用户名错误", "root", "s3cret", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			req.SetBasicAuth(tt.user, tt.pass)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("返回 %d, 期望 %d", w.Code, tt.want)
			}
		})
	}

	if w := do(h, http.MethodGet, "/api/status", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("未认证应返回 401, 得到 %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/metrics", nil); w.Code != http.StatusOK {
		t.Errorf("/metrics 不需要认证, 返回 %d", w.Code)
	}
}
