package strategy

import (
	"context"
	"math"

	"signalbot/config"
	"signalbot/indicators"
	"signalbot/signal"
)

const (
	scalpingCandles      = 100
	volumeAverageCandles = 20
)

// ScalpingSource 1 分钟剥头皮信号
// 快慢 EMA 交叉，需要 RSI 处于中性区间并伴随放量
type ScalpingSource struct {
	baseSource
}

// NewScalpingSource 创建剥头皮信号源
func NewScalpingSource(feed CandleFeed, cfg config.GeneratorConfig) *ScalpingSource {
	return &ScalpingSource{baseSource{name: config.GeneratorScalping1Min, feed: feed, cfg: cfg}}
}

// GenerateSignal 生成信号
func (s *ScalpingSource) GenerateSignal(ctx context.Context, coin string) (*signal.Signal, error) {
	fastSpan, err := s.intParam(coin, "fast_ema", 5)
	if err != nil {
		return nil, err
	}
	slowSpan, err := s.intParam(coin, "slow_ema", 13)
	if err != nil {
		return nil, err
	}
	rsiPeriod, err := s.intParam(coin, "rsi_period", 7)
	if err != nil {
		return nil, err
	}
	oversold := s.param(coin, "rsi_oversold", 30)
	overbought := s.param(coin, "rsi_overbought", 70)
	volumeMult := s.param(coin, "volume_multiplier", 1.5)

	need := slowSpan
	if need < volumeAverageCandles {
		need = volumeAverageCandles
	}
	candles, err := s.candles(ctx, coin, Interval1m, scalpingCandles, need+5)
	if candles == nil {
		return nil, err
	}

	closes := indicators.ClosePrices(candles)
	prevFast, curFast, _ := indicators.LastTwo(indicators.EMA(closes, fastSpan))
	prevSlow, curSlow, _ := indicators.LastTwo(indicators.EMA(closes, slowSpan))
	rsi, _ := indicators.Last(indicators.EMARSI(closes, rsiPeriod))
	spike := volumeSpike(indicators.Volumes(candles), volumeMult)

	bullish := indicators.CrossOver(prevFast, prevSlow, curFast, curSlow)
	bearish := indicators.CrossUnder(prevFast, prevSlow, curFast, curSlow)
	neutral := rsi > oversold && rsi < overbought

	action := signal.ActionHold
	switch {
	case bullish && neutral && spike:
		action = signal.ActionBuy
	case bearish && neutral && spike:
		action = signal.ActionSell
	}

	diffPct := 0.0
	if curSlow != 0 {
		diffPct = (curFast - curSlow) / curSlow * 100
	}
	strength := scalpingStrength(action, rsi, diffPct, spike)

	meta := map[string]interface{}{
		"fast_ema":      indicators.Round(curFast, 8),
		"slow_ema":      indicators.Round(curSlow, 8),
		"ema_diff_pct":  indicators.Round(diffPct, 4),
		"volume_spike":  spike,
		"timeframe":     Interval1m,
		"bullish_cross": bullish,
		"bearish_cross": bearish,
	}
	if !math.IsNaN(rsi) {
		meta["rsi"] = indicators.Round(rsi, 2)
	}
	return s.emit(coin, action, strength, meta)
}

// volumeSpike 最新成交量超过最近 20 根均量的 mult 倍
func volumeSpike(volumes []float64, mult float64) bool {
	if len(volumes) < volumeAverageCandles {
		return false
	}
	avg := indicators.Mean(volumes[len(volumes)-volumeAverageCandles:])
	return volumes[len(volumes)-1] > avg*mult
}

func scalpingStrength(action signal.Action, rsi, diffPct float64, spike bool) float64 {
	if action == signal.ActionHold {
		return 0
	}
	strength := 0.6
	switch action {
	case signal.ActionBuy:
		if rsi < 35 {
			strength += 0.1
		}
		if rsi < 30 {
			strength += 0.1
		}
	case signal.ActionSell:
		if rsi > 65 {
			strength += 0.1
		}
		if rsi > 70 {
			strength += 0.1
		}
	}
	if math.Abs(diffPct) > 0.5 {
		strength += 0.1
	}
	if spike {
		strength += 0.1
	}
	return clamp(strength, 0, 1)
}
