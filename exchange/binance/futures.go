// Package binance 币安 U 本位合约网关和现货K线数据源
package binance

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"signalbot/exchange"
	"signalbot/logger"
)

const defaultQuantityDecimals = 3

// Config 币安配置
type Config struct {
	APIKey     string
	SecretKey  string
	Testnet    bool
	QuoteAsset string // 计价币种，如 USDT
}

// FuturesGateway 币安 U 本位合约网关
type FuturesGateway struct {
	client     *futures.Client
	quoteAsset string

	// 交易对数量精度（来自 exchangeInfo）
	precisionMu sync.RWMutex
	precision   map[string]int
}

// NewFuturesGateway 创建合约网关
func NewFuturesGateway(ctx context.Context, cfg Config) (*FuturesGateway, error) {
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("Binance API 配置不完整")
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}

	// 必须在创建客户端之前设置
	futures.UseTestnet = cfg.Testnet
	if cfg.Testnet {
		logger.Info("🌐 [Binance] 使用测试网模式")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// 同步服务器时间
	if _, err := client.NewSetServerTimeService().Do(ctx); err != nil {
		logger.Warn("⚠️ [Binance] 同步服务器时间失败: %v", err)
	}

	g := &FuturesGateway{
		client:     client,
		quoteAsset: strings.ToUpper(cfg.QuoteAsset),
		precision:  make(map[string]int),
	}
	if err := g.loadExchangeInfo(ctx); err != nil {
		logger.Warn("⚠️ [Binance] 获取合约信息失败: %v，使用默认精度 %d", err, defaultQuantityDecimals)
	}
	return g, nil
}

func (g *FuturesGateway) Name() string {
	return "binance"
}

func (g *FuturesGateway) symbol(coin string) string {
	return strings.ToUpper(coin) + g.quoteAsset
}

// coinFromSymbol BTCUSDT -> BTC，不是该计价币种时返回空
func coinFromSymbol(symbol, quote string) string {
	if !strings.HasSuffix(symbol, quote) || len(symbol) == len(quote) {
		return ""
	}
	return strings.TrimSuffix(symbol, quote)
}

// loadExchangeInfo 获取所有交易对的数量精度
func (g *FuturesGateway) loadExchangeInfo(ctx context.Context) error {
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return fmt.Errorf("获取交易所信息失败: %w", err)
	}

	g.precisionMu.Lock()
	defer g.precisionMu.Unlock()
	for _, s := range info.Symbols {
		g.precision[s.Symbol] = s.QuantityPrecision
	}
	logger.Info("ℹ️ [Binance] 已加载 %d 个合约的数量精度", len(info.Symbols))
	return nil
}

func (g *FuturesGateway) quantityDecimals(symbol string) int {
	g.precisionMu.RLock()
	defer g.precisionMu.RUnlock()
	if d, ok := g.precision[symbol]; ok {
		return d
	}
	return defaultQuantityDecimals
}

// formatQuantity 按精度截断（不四舍五入，避免超过可用数量）
func formatQuantity(qty float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	factor := math.Pow10(decimals)
	truncated := math.Floor(math.Abs(qty)*factor+1e-6) / factor
	return strconv.FormatFloat(truncated, 'f', decimals, 64)
}

// roePercent ROE = 未实现盈亏 / 初始保证金 × 100，初始保证金 = |名义价值| / 杠杆
func roePercent(amt, markPrice, unrealized float64, leverage int) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	margin := math.Abs(amt*markPrice) / float64(leverage)
	if margin == 0 {
		return 0
	}
	return unrealized / margin * 100
}

func (g *FuturesGateway) GetPositions(ctx context.Context) (map[string]exchange.Position, error) {
	const maxRetries = 3
	var lastErr error

	for retry := 0; retry < maxRetries; retry++ {
		risks, err := g.client.NewGetPositionRiskService().Do(ctx)
		if err == nil {
			return g.toPositions(risks), nil
		}

		lastErr = err
		if !isRateLimited(err) {
			return nil, fmt.Errorf("查询持仓失败: %w", err)
		}

		wait := waitForRateLimit(err, retry, time.Now())
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("上下文已取消: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("查询持仓失败（重试%d次）: %w", maxRetries, lastErr)
}

func (g *FuturesGateway) toPositions(risks []*futures.PositionRisk) map[string]exchange.Position {
	result := make(map[string]exchange.Position)
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		coin := coinFromSymbol(r.Symbol, g.quoteAsset)
		if coin == "" {
			continue
		}

		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		leverage, _ := strconv.Atoi(r.Leverage)

		side := exchange.PositionLong
		if amt < 0 {
			side = exchange.PositionShort
		}
		result[coin] = exchange.Position{
			Coin:          coin,
			Side:          side,
			Size:          math.Abs(amt),
			EntryPrice:    entry,
			CurrentPrice:  mark,
			UnrealizedPnl: pnl,
			ProfitPct:     roePercent(amt, mark, pnl, leverage),
			Leverage:      leverage,
		}
	}
	return result
}

// GetAccountBalance 汇总稳定币资产
func (g *FuturesGateway) GetAccountBalance(ctx context.Context) (exchange.Balance, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "Service unavailable from a restricted location") {
			return exchange.Balance{}, fmt.Errorf("你的网络连接在限制服务区域，请检查网络或使用代理")
		}
		return exchange.Balance{}, fmt.Errorf("查询账户失败: %w", err)
	}

	var bal exchange.Balance
	for _, asset := range account.Assets {
		switch asset.Asset {
		case "USDT", "USDC", "BUSD":
			wallet, _ := strconv.ParseFloat(asset.WalletBalance, 64)
			available, _ := strconv.ParseFloat(asset.AvailableBalance, 64)
			bal.Total += wallet
			bal.Withdrawable += available
		}
	}
	return bal, nil
}

// GetCurrentPrice 返回标记价格
func (g *FuturesGateway) GetCurrentPrice(ctx context.Context, coin string) (float64, error) {
	list, err := g.client.NewPremiumIndexService().Symbol(g.symbol(coin)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取 %s 标记价格失败: %w", coin, err)
	}
	if len(list) == 0 {
		return 0, exchange.ErrNoPrice
	}
	price, err := strconv.ParseFloat(list[0].MarkPrice, 64)
	if err != nil || price <= 0 {
		return 0, exchange.ErrNoPrice
	}
	return price, nil
}

func (g *FuturesGateway) PlaceMarketOrder(ctx context.Context, coin string, side exchange.Side, size float64) (*exchange.OrderResult, error) {
	return g.marketOrder(ctx, g.symbol(coin), side, size, false)
}

// ClosePosition 反方向 reduce-only 市价单平掉全部持仓
func (g *FuturesGateway) ClosePosition(ctx context.Context, coin string) (*exchange.OrderResult, error) {
	symbol := g.symbol(coin)
	risks, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询 %s 持仓失败: %w", coin, err)
	}

	var amt float64
	for _, r := range risks {
		if r.Symbol == symbol {
			v, _ := strconv.ParseFloat(r.PositionAmt, 64)
			amt += v
		}
	}
	if amt == 0 {
		return exchange.ErrorResult("%s 没有持仓", coin), nil
	}

	side := exchange.SideSell
	if amt < 0 {
		side = exchange.SideBuy
	}
	return g.marketOrder(ctx, symbol, side, math.Abs(amt), true)
}

func (g *FuturesGateway) marketOrder(ctx context.Context, symbol string, side exchange.Side, size float64, reduceOnly bool) (*exchange.OrderResult, error) {
	qty := formatQuantity(size, g.quantityDecimals(symbol))
	if q, _ := strconv.ParseFloat(qty, 64); q <= 0 {
		return exchange.ErrorResult("下单数量按精度截断后为 0: %v", size), nil
	}

	svc := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty)
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		logger.Error("❌ [Binance] %s %s %s 下单失败: %v", side, symbol, qty, err)
		return exchange.ErrorResult("%v", err), nil
	}

	filled, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	avg, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	logger.Info("✅ [Binance] %s %s %s 已提交, 订单ID %d, 状态 %s", side, symbol, qty, resp.OrderID, resp.Status)
	return &exchange.OrderResult{
		Status:     exchange.OrderStatusOK,
		FilledSize: filled,
		AvgPrice:   avg,
		OrderID:    strconv.FormatInt(resp.OrderID, 10),
	}, nil
}

func (g *FuturesGateway) Close() error {
	return nil
}

var banRegexp = regexp.MustCompile(`banned until (\d+)`)

func isRateLimited(err error) bool {
	s := err.Error()
	return strings.Contains(s, "-1003") || strings.Contains(s, "Way too many requests") ||
		strings.Contains(s, "banned until")
}

// parseBanTime 从错误消息中解析封禁时间（毫秒时间戳）
// 错误格式: "IP(130.176.187.84) banned until 1767288777555"
func parseBanTime(errMsg string) (time.Time, bool) {
	matches := banRegexp.FindStringSubmatch(errMsg)
	if len(matches) < 2 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// waitForRateLimit 计算限流后的等待时间，有封禁时间时等到解封
func waitForRateLimit(err error, retryCount int, now time.Time) time.Duration {
	if banTime, ok := parseBanTime(err.Error()); ok && banTime.After(now) {
		wait := banTime.Sub(now) + time.Second
		logger.Warn("⚠️ [Binance] IP被封禁直到 %v，等待 %v 后重试", banTime, wait)
		return wait
	}

	backoff := time.Duration(1<<uint(retryCount)) * time.Second
	if backoff > 60*time.Second {
		backoff = 60 * time.Second
	}
	logger.Warn("⚠️ [Binance] 触发速率限制，等待 %v 后重试 (第%d次)", backoff, retryCount+1)
	return backoff
}
