package database

import (
	"context"
	"time"
)

// Database 数据库接口
type Database interface {
	// 交易记录
	SaveTrade(ctx context.Context, trade *TradeRecord) error
	GetTrades(ctx context.Context, filter *TradeFilter) ([]*TradeRecord, error)

	// 事件记录
	SaveEvent(ctx context.Context, event *EventRecord) error
	GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error)
	GetEventStats(ctx context.Context) (*EventStats, error)
	CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error

	// 健康检查
	Ping(ctx context.Context) error

	// 关闭连接
	Close() error
}

// 交易类型
const (
	TradeKindEntry = "entry"
	TradeKindExit  = "exit"
)

// TradeRecord 开仓/平仓记录
type TradeRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Exchange   string    `gorm:"index:idx_exchange_coin_time;size:50" json:"exchange"`
	Coin       string    `gorm:"index:idx_exchange_coin_time;size:50" json:"coin"`
	Kind       string    `gorm:"index;size:10" json:"kind"` // entry, exit
	Side       string    `gorm:"size:10" json:"side"`       // BUY, SELL
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Source     string    `gorm:"size:50" json:"source,omitempty"` // 触发开仓的信号源
	Strength   float64   `json:"strength,omitempty"`
	Reason     string    `gorm:"size:20" json:"reason,omitempty"` // STOP_LOSS, TAKE_PROFIT, EMERGENCY
	PnL        float64   `json:"pnl"`
	ProfitPct  float64   `json:"profit_pct"`
	OrderID    string    `gorm:"size:64" json:"order_id,omitempty"`
	CreatedAt  time.Time `gorm:"index:idx_exchange_coin_time" json:"created_at"`
}

// EventRecord 事件记录
type EventRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string    `gorm:"index;size:50" json:"type"`
	Severity  string    `gorm:"index;size:20" json:"severity"` // critical, warning, info
	Source    string    `gorm:"index;size:20" json:"source"`
	Exchange  string    `gorm:"size:50" json:"exchange,omitempty"`
	Coin      string    `gorm:"index;size:50" json:"coin,omitempty"`
	Title     string    `gorm:"size:200" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// EventStats 事件统计
type EventStats struct {
	TotalCount       int            `json:"total_count"`
	CriticalCount    int            `json:"critical_count"`
	WarningCount     int            `json:"warning_count"`
	InfoCount        int            `json:"info_count"`
	Last24HoursCount int            `json:"last_24h_count"`
	CountByType      map[string]int `json:"count_by_type"`
}

// 过滤器

// TradeFilter 交易记录过滤器
type TradeFilter struct {
	Coin      string
	Kind      string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// EventFilter 事件过滤器
type EventFilter struct {
	Type      string
	Severity  string
	Coin      string
	StartTime *time.Time
	Limit     int
	Offset    int
}
