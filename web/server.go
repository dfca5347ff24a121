package web

import (
	"context"
	"time"

	"signalbot/bot"
	"signalbot/database"
	"signalbot/position"
	"signalbot/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BotController 机器人控制接口
type BotController interface {
	Start() error
	Stop() error
	EmergencyStop() (position.ForceCloseResult, error)
	GetStatus(ctx context.Context) bot.Status
	GetPositions(ctx context.Context) ([]position.PositionView, error)
	CheckPositionsToSell(ctx context.Context) ([]position.ExitDecision, error)
}

// HistoryProvider 交易和事件记录查询
type HistoryProvider interface {
	GetTrades(ctx context.Context, filter *database.TradeFilter) ([]*database.TradeRecord, error)
	GetEvents(ctx context.Context, filter *database.EventFilter) ([]*database.EventRecord, error)
	GetEventStats(ctx context.Context) (*database.EventStats, error)
}

// SignalProvider 信号日志查询
type SignalProvider interface {
	Recent(ctx context.Context, coin string, limit int) ([]*storage.SignalRecord, error)
	Stats(ctx context.Context, since time.Time) ([]*storage.SignalStats, error)
}

// Options Web 服务配置
type Options struct {
	Host               string
	Port               int
	Username           string
	PasswordHash       string // bcrypt，为空表示不启用认证
	StatusPushInterval time.Duration
	Debug              bool

	Bot     BotController
	History HistoryProvider // 可为 nil
	Signals SignalProvider  // 可为 nil
}

// api 请求处理依赖
type api struct {
	bot     BotController
	history HistoryProvider
	signals SignalProvider
}

// SetupRoutes 设置路由
func SetupRoutes(r *gin.Engine, opts Options, hub *Hub) {
	a := &api{bot: opts.Bot, history: opts.History, signals: opts.Signals}

	// Prometheus metrics 端点（不需要认证，供 Prometheus 抓取）
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := r.Group("")
	protected.Use(basicAuthMiddleware(opts.Username, opts.PasswordHash))
	{
		protected.GET("/ws", hub.handleWebSocket)

		apiGroup := protected.Group("/api")
		apiGroup.GET("/status", a.getStatus)
		apiGroup.GET("/positions", a.getPositions)
		apiGroup.GET("/positions/exits", a.getExitCandidates)
		apiGroup.GET("/trades", a.getTrades)
		apiGroup.GET("/events", a.getEvents)
		apiGroup.GET("/events/stats", a.getEventStats)
		apiGroup.GET("/signals", a.getSignals)
		apiGroup.GET("/signals/stats", a.getSignalStats)

		botGroup := apiGroup.Group("/bot")
		botGroup.POST("/start", a.startBot)
		botGroup.POST("/stop", a.stopBot)
		botGroup.POST("/emergency-stop", a.emergencyStop)
	}
}

// NewEngine 创建 gin 引擎（测试时直接使用 Handler）
func NewEngine(opts Options, hub *Hub) *gin.Engine {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(GinLoggerMiddleware(opts.Debug))
	r.Use(I18nMiddleware())

	SetupRoutes(r, opts, hub)
	return r
}
