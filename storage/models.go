package storage

import "time"

// SignalRecord 信号日志记录
type SignalRecord struct {
	ID        int64                  `json:"id"`
	Coin      string                 `json:"coin"`
	Action    string                 `json:"action"`
	Strength  float64                `json:"strength"`
	Source    string                 `json:"source"`
	Outcome   string                 `json:"outcome"` // executed, rejected, logged
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	SignalAt  time.Time              `json:"signal_at"`
	CreatedAt time.Time              `json:"created_at"`
}

// SignalStats 按来源统计
type SignalStats struct {
	Source   string `json:"source"`
	Total    int    `json:"total"`
	Executed int    `json:"executed"`
	Rejected int    `json:"rejected"`
}
