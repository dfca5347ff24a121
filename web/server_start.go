package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"signalbot/logger"

	"github.com/gin-gonic/gin"
)

// WebServer Web服务器
type WebServer struct {
	server *http.Server
	engine *gin.Engine
	hub    *Hub
	opts   Options
	cancel context.CancelFunc
}

// NewWebServer 创建Web服务器
func NewWebServer(opts Options) *WebServer {
	if opts.StatusPushInterval <= 0 {
		opts.StatusPushInterval = 2 * time.Second
	}

	hub := NewHub()
	engine := NewEngine(opts, hub)

	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &WebServer{
		server: server,
		engine: engine,
		hub:    hub,
		opts:   opts,
	}
}

// Handler HTTP 处理器
func (ws *WebServer) Handler() http.Handler {
	return ws.engine
}

// Start 启动Web服务器和状态推送
func (ws *WebServer) Start(ctx context.Context) error {
	if ws == nil {
		return nil
	}

	ctx, ws.cancel = context.WithCancel(ctx)
	go ws.hub.Run(ctx)
	go ws.pushStatus(ctx)

	// 实时日志推送
	logger.SetHook(func(level, message string) {
		ws.hub.BroadcastLog(level, message)
	})

	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", ws.server.Addr)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	return nil
}

// pushStatus 定期向 WebSocket 客户端推送状态
func (ws *WebServer) pushStatus(ctx context.Context) {
	ticker := time.NewTicker(ws.opts.StatusPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ws.hub.ClientCount() == 0 {
				continue
			}
			statusCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			status := ws.opts.Bot.GetStatus(statusCtx)
			cancel()
			ws.hub.BroadcastStatus(status)
		}
	}
}

// Stop 停止Web服务器
func (ws *WebServer) Stop() {
	if ws == nil || ws.server == nil {
		return
	}

	logger.SetHook(nil)
	if ws.cancel != nil {
		ws.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(ctx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
	} else {
		logger.Info("✅ Web服务器已关闭")
	}
}
