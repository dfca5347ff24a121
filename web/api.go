package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"signalbot/bot"
	"signalbot/logger"
	"signalbot/metrics"

	"github.com/gin-gonic/gin"
)

// statusResponse 状态接口返回
type statusResponse struct {
	bot.Status
	Process *metrics.ProcessStats `json:"process,omitempty"`
}

func requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}

// getStatus 机器人状态和进程资源占用
func (a *api) getStatus(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	resp := statusResponse{Status: a.bot.GetStatus(ctx)}
	if ps, err := metrics.CollectProcessStats(); err == nil {
		resp.Process = ps
	} else {
		logger.Debug("获取进程资源占用失败: %v", err)
	}
	c.JSON(http.StatusOK, resp)
}

// startBot 启动机器人
func (a *api) startBot(c *gin.Context) {
	switch err := a.bot.Start(); {
	case err == nil:
		respondMessage(c, http.StatusOK, "bot.started")
	case errors.Is(err, bot.ErrAlreadyRunning):
		respondError(c, http.StatusConflict, "bot.already_running")
	case errors.Is(err, bot.ErrClosed):
		respondError(c, http.StatusConflict, "bot.closed")
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// stopBot 停止机器人
func (a *api) stopBot(c *gin.Context) {
	if err := a.bot.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	respondMessage(c, http.StatusOK, "bot.stopped")
}

// emergencyStop 平掉所有持仓并停止
func (a *api) emergencyStop(c *gin.Context) {
	result, err := a.bot.EmergencyStop()
	if errors.Is(err, bot.ErrClosed) {
		respondError(c, http.StatusConflict, "bot.closed")
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": T(c, "bot.emergency_stopped", map[string]interface{}{
			"Closed": len(result.Closed),
			"Failed": len(result.Failed),
		}),
		"result": result,
	})
}

// getPositions 当前持仓和跟踪状态
func (a *api) getPositions(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	positions, err := a.bot.GetPositions(ctx)
	if err != nil {
		logger.Warn("⚠️ 获取持仓失败: %v", err)
		respondError(c, http.StatusBadGateway, "error.positions_unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

// getExitCandidates 只读：满足平仓条件的持仓
func (a *api) getExitCandidates(c *gin.Context) {
	ctx, cancel := requestContext(c)
	defer cancel()

	decisions, err := a.bot.CheckPositionsToSell(ctx)
	if err != nil {
		logger.Warn("⚠️ 检查平仓条件失败: %v", err)
		respondError(c, http.StatusBadGateway, "error.positions_unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"exits": decisions})
}
