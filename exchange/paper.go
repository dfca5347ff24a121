package exchange

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"signalbot/logger"
)

// PriceFunc 价格来源
type PriceFunc func(ctx context.Context, coin string) (float64, error)

type paperPosition struct {
	side       PositionSide
	size       float64
	entryPrice float64
	margin     float64
}

// PaperGateway 模拟交易所
// 按 PriceFunc 的价格立即成交，保证金 = 名义价值 / 杠杆，ROE = 未实现盈亏 / 保证金
type PaperGateway struct {
	mu        sync.Mutex
	cash      float64
	leverage  int
	positions map[string]*paperPosition
	price     PriceFunc
	nextID    atomic.Int64
	closed    bool
}

// NewPaperGateway 创建模拟交易所
func NewPaperGateway(initialBalance float64, leverage int, price PriceFunc) *PaperGateway {
	if leverage <= 0 {
		leverage = 1
	}
	return &PaperGateway{
		cash:      initialBalance,
		leverage:  leverage,
		positions: make(map[string]*paperPosition),
		price:     price,
	}
}

func (p *PaperGateway) Name() string {
	return "paper"
}

func (p *PaperGateway) GetPositions(ctx context.Context) (map[string]Position, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrGatewayClosed
	}
	snapshot := make(map[string]paperPosition, len(p.positions))
	for coin, pos := range p.positions {
		snapshot[coin] = *pos
	}
	p.mu.Unlock()

	result := make(map[string]Position, len(snapshot))
	for coin, pos := range snapshot {
		price, err := p.price(ctx, coin)
		if err != nil {
			return nil, fmt.Errorf("获取 %s 价格失败: %w", coin, err)
		}
		result[coin] = p.toPosition(coin, pos, price)
	}
	return result, nil
}

func (p *PaperGateway) toPosition(coin string, pos paperPosition, price float64) Position {
	pnl := unrealized(pos, price)
	roe := 0.0
	if pos.margin > 0 {
		roe = pnl / pos.margin * 100
	}
	return Position{
		Coin:          coin,
		Side:          pos.side,
		Size:          pos.size,
		EntryPrice:    pos.entryPrice,
		CurrentPrice:  price,
		UnrealizedPnl: pnl,
		ProfitPct:     roe,
		Leverage:      p.leverage,
	}
}

func unrealized(pos paperPosition, price float64) float64 {
	diff := price - pos.entryPrice
	if pos.side == PositionShort {
		diff = -diff
	}
	return diff * pos.size
}

// GetAccountBalance Total 为权益（现金 + 保证金 + 未实现盈亏），Withdrawable 为可用现金
func (p *PaperGateway) GetAccountBalance(ctx context.Context) (Balance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Balance{}, ErrGatewayClosed
	}
	cash := p.cash
	snapshot := make(map[string]paperPosition, len(p.positions))
	for coin, pos := range p.positions {
		snapshot[coin] = *pos
	}
	p.mu.Unlock()

	total := cash
	for coin, pos := range snapshot {
		total += pos.margin
		if price, err := p.price(ctx, coin); err == nil {
			total += unrealized(pos, price)
		}
	}
	return Balance{Total: total, Withdrawable: cash}, nil
}

func (p *PaperGateway) GetCurrentPrice(ctx context.Context, coin string) (float64, error) {
	price, err := p.price(ctx, strings.ToUpper(coin))
	if err != nil {
		return 0, err
	}
	if price <= 0 || math.IsNaN(price) {
		return 0, ErrNoPrice
	}
	return price, nil
}

func (p *PaperGateway) PlaceMarketOrder(ctx context.Context, coin string, side Side, size float64) (*OrderResult, error) {
	coin = strings.ToUpper(coin)
	if size <= 0 {
		return ErrorResult("下单数量必须大于0: %v", size), nil
	}
	price, err := p.GetCurrentPrice(ctx, coin)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrGatewayClosed
	}
	if _, exists := p.positions[coin]; exists {
		return ErrorResult("%s 已有持仓，模拟盘不支持加仓或反向开仓", coin), nil
	}

	margin := size * price / float64(p.leverage)
	if margin > p.cash {
		return ErrorResult("保证金不足: 需要 %.2f, 可用 %.2f", margin, p.cash), nil
	}

	posSide := PositionLong
	if side == SideSell {
		posSide = PositionShort
	}
	p.cash -= margin
	p.positions[coin] = &paperPosition{side: posSide, size: size, entryPrice: price, margin: margin}

	id := p.nextID.Add(1)
	logger.Info("✅ [模拟盘] %s %s %.6f @ %.6f (保证金 %.2f)", side, coin, size, price, margin)
	return &OrderResult{
		Status:     OrderStatusOK,
		FilledSize: size,
		AvgPrice:   price,
		OrderID:    fmt.Sprintf("paper-%d", id),
	}, nil
}

func (p *PaperGateway) ClosePosition(ctx context.Context, coin string) (*OrderResult, error) {
	coin = strings.ToUpper(coin)
	price, err := p.GetCurrentPrice(ctx, coin)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrGatewayClosed
	}
	pos, ok := p.positions[coin]
	if !ok {
		return ErrorResult("%s 没有持仓", coin), nil
	}

	pnl := unrealized(*pos, price)
	p.cash += pos.margin + pnl
	delete(p.positions, coin)

	id := p.nextID.Add(1)
	logger.Info("✅ [模拟盘] 平仓 %s %.6f @ %.6f, 盈亏 %.4f", coin, pos.size, price, pnl)
	return &OrderResult{
		Status:     OrderStatusOK,
		FilledSize: pos.size,
		AvgPrice:   price,
		OrderID:    fmt.Sprintf("paper-%d", id),
	}, nil
}

func (p *PaperGateway) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
