// Package exchange 交易所网关：持仓、余额、价格查询以及市价开平仓
package exchange

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoPrice 无法获取币种价格
	ErrNoPrice = errors.New("无法获取价格")
	// ErrGatewayClosed 网关已关闭
	ErrGatewayClosed = errors.New("交易所网关已关闭")
)

// Side 下单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回反方向（用于平仓）
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide 持仓方向
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position 持仓快照，由交易所每次查询返回
type Position struct {
	Coin          string       `json:"coin"`
	Side          PositionSide `json:"side"`
	Size          float64      `json:"size"` // 绝对数量
	EntryPrice    float64      `json:"entry_price"`
	CurrentPrice  float64      `json:"current_price"`
	UnrealizedPnl float64      `json:"unrealized_pnl"`
	ProfitPct     float64      `json:"profit_pct"` // ROE 百分比，亏损为负
	Leverage      int          `json:"leverage"`
}

// Balance 账户余额
type Balance struct {
	Total        float64 `json:"total"`
	Withdrawable float64 `json:"withdrawable"`
}

// OrderStatus 下单结果状态
type OrderStatus string

const (
	OrderStatusOK    OrderStatus = "ok"
	OrderStatusError OrderStatus = "error"
)

// OrderResult 下单/平仓结果
type OrderResult struct {
	Status     OrderStatus `json:"status"`
	FilledSize float64     `json:"filled_size,omitempty"`
	AvgPrice   float64     `json:"avg_price,omitempty"`
	OrderID    string      `json:"order_id,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// OK 交易所是否确认成功
func (r *OrderResult) OK() bool {
	return r != nil && r.Status == OrderStatusOK
}

// ErrorResult 构造失败结果
func ErrorResult(format string, args ...interface{}) *OrderResult {
	return &OrderResult{Status: OrderStatusError, Message: fmt.Sprintf(format, args...)}
}

// Gateway 交易所网关
// 实现需要支持多个 goroutine 并发调用，不支持时用 GuardedGateway 串行化
type Gateway interface {
	Name() string

	// GetPositions 返回所有未平仓持仓，key 为币种
	GetPositions(ctx context.Context) (map[string]Position, error)

	GetAccountBalance(ctx context.Context) (Balance, error)

	// GetCurrentPrice 未知币种返回 ErrNoPrice
	GetCurrentPrice(ctx context.Context, coin string) (float64, error)

	// PlaceMarketOrder 市价开仓，size 为币的数量
	PlaceMarketOrder(ctx context.Context, coin string, side Side, size float64) (*OrderResult, error)

	// ClosePosition 市价平掉该币种的全部持仓
	ClosePosition(ctx context.Context, coin string) (*OrderResult, error)

	Close() error
}
