// Package strategy 实现各个信号源：RSI、均线交叉、MACD、区间低点和 1 分钟剥头皮
package strategy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"signalbot/config"
	"signalbot/indicators"
	"signalbot/logger"
	"signalbot/signal"
)

// K线周期
const (
	Interval1m  = "1m"
	Interval5m  = "5m"
	Interval15m = "15m"
	Interval1h  = "1h"
	Interval4h  = "4h"
	Interval1d  = "1d"
)

// CandleFeed 行情数据源
type CandleFeed interface {
	// Klines 返回最近 limit 根K线（时间升序，最后一根可能尚未收盘）
	Klines(ctx context.Context, coin, interval string, limit int) ([]indicators.Candle, error)
	// LastPrice 最新成交价
	LastPrice(ctx context.Context, coin string) (float64, error)
}

// baseSource 信号源公共部分
type baseSource struct {
	name string
	feed CandleFeed
	cfg  config.GeneratorConfig
}

func (b *baseSource) Name() string {
	return b.name
}

// param 读取参数，币种覆盖优先
func (b *baseSource) param(coin, key string, def float64) float64 {
	if v, ok := b.cfg.CoinParams[strings.ToUpper(coin)][key]; ok {
		return v
	}
	if v, ok := b.cfg.Params[key]; ok {
		return v
	}
	return def
}

// intParam 读取正整数参数
func (b *baseSource) intParam(coin, key string, def int) (int, error) {
	v := int(b.param(coin, key, float64(def)))
	if v <= 0 {
		return 0, fmt.Errorf("%s 参数 %s 无效: %d", b.name, key, v)
	}
	return v, nil
}

// candles 拉取K线，数量不足时返回 nil
func (b *baseSource) candles(ctx context.Context, coin, interval string, limit, need int) ([]indicators.Candle, error) {
	candles, err := b.feed.Klines(ctx, coin, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("%s 获取 %s K线失败: %w", b.name, coin, err)
	}
	if len(candles) < need {
		logger.Warn("⚠️ %s: %s 数据不足 (%d/%d 根K线)", b.name, coin, len(candles), need)
		return nil, nil
	}
	return candles, nil
}

// emit 创建信号并记录日志
func (b *baseSource) emit(coin string, action signal.Action, strength float64, meta map[string]interface{}) (*signal.Signal, error) {
	sig, err := signal.New(coin, action, strength, b.name, meta)
	if err != nil {
		return nil, fmt.Errorf("%s 创建信号失败: %w", b.name, err)
	}
	if action == signal.ActionHold {
		logger.Debug("%s", sig)
	} else {
		logger.Info("📊 %s", sig)
	}
	return sig, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
