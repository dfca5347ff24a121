package strategy

import (
	"context"
	"math"

	"signalbot/config"
	"signalbot/indicators"
	"signalbot/signal"
)

// RSISource RSI 超买超卖信号
// RSI <= 超卖线买入，RSI >= 超买线卖出
type RSISource struct {
	baseSource
	interval string
}

// NewRSISource 创建指定周期的 RSI 信号源
func NewRSISource(name, interval string, feed CandleFeed, cfg config.GeneratorConfig) *RSISource {
	return &RSISource{
		baseSource: baseSource{name: name, feed: feed, cfg: cfg},
		interval:   interval,
	}
}

// GenerateSignal 生成信号
func (s *RSISource) GenerateSignal(ctx context.Context, coin string) (*signal.Signal, error) {
	period, err := s.intParam(coin, "period", 14)
	if err != nil {
		return nil, err
	}
	oversold := s.param(coin, "oversold", 30)
	overbought := s.param(coin, "overbought", 70)

	candles, err := s.candles(ctx, coin, s.interval, period+50, period+1)
	if candles == nil {
		return nil, err
	}

	rsi, _ := indicators.Last(indicators.RollingRSI(indicators.ClosePrices(candles), period))

	action, strength := rsiDecision(rsi, oversold, overbought)

	meta := map[string]interface{}{
		"period":     period,
		"oversold":   oversold,
		"overbought": overbought,
		"timeframe":  s.interval,
	}
	if !math.IsNaN(rsi) {
		meta["rsi"] = indicators.Round(rsi, 2)
	}
	return s.emit(coin, action, strength, meta)
}

// rsiDecision 强度最低 0.6，越深入超买超卖区越强
func rsiDecision(rsi, oversold, overbought float64) (signal.Action, float64) {
	switch {
	case math.IsNaN(rsi):
		return signal.ActionHold, 0
	case rsi <= oversold:
		strength := 1.0
		if oversold > 0 {
			strength = 1 - rsi/oversold
		}
		return signal.ActionBuy, math.Min(1, math.Max(0.6, strength))
	case rsi >= overbought:
		strength := 1.0
		if overbought < 100 {
			strength = (rsi - overbought) / (100 - overbought)
		}
		return signal.ActionSell, math.Min(1, math.Max(0.6, strength))
	default:
		return signal.ActionHold, 0
	}
}
