package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	gobinance "github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"
	"signalbot/exchange"
	"signalbot/indicators"
)

// FeedConfig 行情源配置
type FeedConfig struct {
	Testnet           bool
	QuoteAsset        string
	RequestsPerSecond float64
	Burst             int
}

// KlineFeed 现货K线和最新价，公开接口不需要 API Key
type KlineFeed struct {
	client     *gobinance.Client
	quoteAsset string
	limiter    *rate.Limiter
}

// NewKlineFeed 创建行情源
func NewKlineFeed(cfg FeedConfig) *KlineFeed {
	gobinance.UseTestnet = cfg.Testnet
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &KlineFeed{
		client:     gobinance.NewClient("", ""),
		quoteAsset: strings.ToUpper(cfg.QuoteAsset),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

func (f *KlineFeed) symbol(coin string) string {
	return strings.ToUpper(coin) + f.quoteAsset
}

// Klines 最近 limit 根K线，时间升序
func (f *KlineFeed) Klines(ctx context.Context, coin, interval string, limit int) ([]indicators.Candle, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if limit > 1000 {
		limit = 1000
	}

	klines, err := f.client.NewKlinesService().
		Symbol(f.symbol(coin)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取 %s %s K线失败: %w", coin, interval, err)
	}
	return toCandles(klines), nil
}

func toCandles(klines []*gobinance.Kline) []indicators.Candle {
	candles := make([]indicators.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		candles = append(candles, indicators.Candle{
			Time:   k.OpenTime,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	return candles
}

// LastPrice 现货最新成交价
func (f *KlineFeed) LastPrice(ctx context.Context, coin string) (float64, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	prices, err := f.client.NewListPricesService().Symbol(f.symbol(coin)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取 %s 最新价失败: %w", coin, err)
	}
	if len(prices) == 0 {
		return 0, exchange.ErrNoPrice
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil || price <= 0 {
		return 0, exchange.ErrNoPrice
	}
	return price, nil
}
