package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"signalbot/database"
	"signalbot/logger"

	"github.com/gin-gonic/gin"
)

// parseLimit 解析分页参数
func parseLimit(c *gin.Context, def, max int) (limit, offset int, ok bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		respondError(c, http.StatusBadRequest, "error.invalid_parameter", map[string]interface{}{"Name": "limit"})
		return 0, 0, false
	}
	if limit > max {
		limit = max
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		respondError(c, http.StatusBadRequest, "error.invalid_parameter", map[string]interface{}{"Name": "offset"})
		return 0, 0, false
	}
	return limit, offset, true
}

// parseTime 解析 RFC3339 时间参数，为空返回 nil
func parseTime(c *gin.Context, name string) (*time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		respondError(c, http.StatusBadRequest, "error.invalid_parameter", map[string]interface{}{"Name": name})
		return nil, false
	}
	return &t, true
}

// getTrades 开平仓记录
func (a *api) getTrades(c *gin.Context) {
	if a.history == nil {
		respondError(c, http.StatusServiceUnavailable, "error.trades_unavailable")
		return
	}

	limit, offset, ok := parseLimit(c, 100, 1000)
	if !ok {
		return
	}
	start, ok := parseTime(c, "start_time")
	if !ok {
		return
	}
	end, ok := parseTime(c, "end_time")
	if !ok {
		return
	}

	filter := &database.TradeFilter{
		Coin:      strings.ToUpper(c.Query("coin")),
		Kind:      c.Query("kind"),
		StartTime: start,
		EndTime:   end,
		Limit:     limit,
		Offset:    offset,
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	trades, err := a.history.GetTrades(ctx, filter)
	if err != nil {
		logger.Error("❌ 查询交易记录失败: %v", err)
		respondError(c, http.StatusInternalServerError, "error.query_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "limit": limit, "offset": offset})
}

// getEvents 事件列表
func (a *api) getEvents(c *gin.Context) {
	if a.history == nil {
		respondError(c, http.StatusServiceUnavailable, "error.events_unavailable")
		return
	}

	limit, offset, ok := parseLimit(c, 100, 1000)
	if !ok {
		return
	}
	start, ok := parseTime(c, "start_time")
	if !ok {
		return
	}

	filter := &database.EventFilter{
		Type:      c.Query("type"),
		Severity:  c.Query("severity"),
		Coin:      strings.ToUpper(c.Query("coin")),
		StartTime: start,
		Limit:     limit,
		Offset:    offset,
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	events, err := a.history.GetEvents(ctx, filter)
	if err != nil {
		logger.Error("❌ 查询事件失败: %v", err)
		respondError(c, http.StatusInternalServerError, "error.query_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "limit": limit, "offset": offset})
}

// getEventStats 事件统计
func (a *api) getEventStats(c *gin.Context) {
	if a.history == nil {
		respondError(c, http.StatusServiceUnavailable, "error.events_unavailable")
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	stats, err := a.history.GetEventStats(ctx)
	if err != nil {
		logger.Error("❌ 获取事件统计失败: %v", err)
		respondError(c, http.StatusInternalServerError, "error.query_failed")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// getSignals 最近的信号
func (a *api) getSignals(c *gin.Context) {
	if a.signals == nil {
		respondError(c, http.StatusServiceUnavailable, "error.signals_unavailable")
		return
	}

	limit, _, ok := parseLimit(c, 100, 1000)
	if !ok {
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	records, err := a.signals.Recent(ctx, strings.ToUpper(c.Query("coin")), limit)
	if err != nil {
		logger.Error("❌ 查询信号失败: %v", err)
		respondError(c, http.StatusInternalServerError, "error.query_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": records})
}

// getSignalStats 各信号源统计，默认最近 24 小时
func (a *api) getSignalStats(c *gin.Context) {
	if a.signals == nil {
		respondError(c, http.StatusServiceUnavailable, "error.signals_unavailable")
		return
	}

	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 {
		respondError(c, http.StatusBadRequest, "error.invalid_parameter", map[string]interface{}{"Name": "hours"})
		return
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	stats, err := a.signals.Stats(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		logger.Error("❌ 统计信号失败: %v", err)
		respondError(c, http.StatusInternalServerError, "error.query_failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "hours": hours})
}
