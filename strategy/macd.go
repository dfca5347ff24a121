package strategy

import (
	"context"
	"math"

	"signalbot/config"
	"signalbot/indicators"
	"signalbot/signal"
)

const maxMACDCandles = 200

// MACDSource 15 分钟 MACD 柱状图过零信号
type MACDSource struct {
	baseSource
}

// NewMACDSource 创建 MACD 信号源
func NewMACDSource(feed CandleFeed, cfg config.GeneratorConfig) *MACDSource {
	return &MACDSource{baseSource{name: config.GeneratorMACD15Min, feed: feed, cfg: cfg}}
}

// GenerateSignal 生成信号
func (s *MACDSource) GenerateSignal(ctx context.Context, coin string) (*signal.Signal, error) {
	fast, err := s.intParam(coin, "fast", 12)
	if err != nil {
		return nil, err
	}
	slow, err := s.intParam(coin, "slow", 26)
	if err != nil {
		return nil, err
	}
	signalPeriod, err := s.intParam(coin, "signal", 9)
	if err != nil {
		return nil, err
	}

	required := slow + signalPeriod + 10
	limit := required
	if limit > maxMACDCandles {
		limit = maxMACDCandles
	}
	candles, err := s.candles(ctx, coin, Interval15m, limit, required)
	if candles == nil {
		return nil, err
	}

	res := indicators.MACD(indicators.ClosePrices(candles), fast, slow, signalPeriod)
	prevHist, hist, ok := indicators.LastTwo(res.Histogram)
	if !ok {
		return nil, nil
	}
	line, _ := indicators.Last(res.Line)
	sigLine, _ := indicators.Last(res.Signal)

	action, strength := macdDecision(prevHist, hist)
	return s.emit(coin, action, strength, map[string]interface{}{
		"macd":          indicators.Round(line, 6),
		"signal":        indicators.Round(sigLine, 6),
		"histogram":     indicators.Round(hist, 6),
		"fast":          fast,
		"slow":          slow,
		"signal_period": signalPeriod,
		"timeframe":     Interval15m,
	})
}

// macdDecision 柱状图由负转正买入，由正转负卖出
func macdDecision(prevHist, hist float64) (signal.Action, float64) {
	var action signal.Action
	switch {
	case prevHist <= 0 && hist > 0:
		action = signal.ActionBuy
	case prevHist >= 0 && hist < 0:
		action = signal.ActionSell
	default:
		return signal.ActionHold, 0
	}
	strength := 0.7 + math.Min(0.2, math.Abs(hist)*0.05) + math.Min(0.1, math.Abs(hist-prevHist)*0.02)
	return action, math.Min(1, strength)
}
