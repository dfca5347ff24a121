package strategy

import (
	"context"
	"math"
	"sync"

	"signalbot/config"
	"signalbot/indicators"
	"signalbot/signal"
)

type trend string

const (
	trendBullish trend = "bullish"
	trendBearish trend = "bearish"
)

// SMASource 5 分钟均线交叉信号
// 金叉/死叉直接出信号；没有交叉时，趋势方向变化后只提示一次
type SMASource struct {
	baseSource

	mu        sync.Mutex
	lastTrend map[string]trend
}

// NewSMASource 创建均线交叉信号源
func NewSMASource(feed CandleFeed, cfg config.GeneratorConfig) *SMASource {
	return &SMASource{
		baseSource: baseSource{name: config.GeneratorSMA5Min, feed: feed, cfg: cfg},
		lastTrend:  make(map[string]trend),
	}
}

// GenerateSignal 生成信号
func (s *SMASource) GenerateSignal(ctx context.Context, coin string) (*signal.Signal, error) {
	shortPeriod, err := s.intParam(coin, "short_period", 10)
	if err != nil {
		return nil, err
	}
	longPeriod, err := s.intParam(coin, "long_period", 20)
	if err != nil {
		return nil, err
	}

	candles, err := s.candles(ctx, coin, Interval5m, longPeriod+50, longPeriod+1)
	if candles == nil {
		return nil, err
	}

	closes := indicators.ClosePrices(candles)
	prevShort, curShort, ok1 := indicators.LastTwo(indicators.SMA(closes, shortPeriod))
	prevLong, curLong, ok2 := indicators.LastTwo(indicators.SMA(closes, longPeriod))
	if !ok1 || !ok2 {
		return nil, nil
	}
	price := closes[len(closes)-1]

	action := s.detect(coin, prevShort, prevLong, curShort, curLong)
	strength := smaStrength(action, curShort, curLong, price)

	separation := 0.0
	if curLong != 0 {
		separation = math.Abs(curShort-curLong) / curLong * 100
	}
	return s.emit(coin, action, strength, map[string]interface{}{
		"short_sma":      indicators.Round(curShort, 2),
		"long_sma":       indicators.Round(curLong, 2),
		"current_price":  indicators.Round(price, 2),
		"short_period":   shortPeriod,
		"long_period":    longPeriod,
		"timeframe":      Interval5m,
		"separation_pct": indicators.Round(separation, 2),
	})
}

func (s *SMASource) detect(coin string, prevShort, prevLong, curShort, curLong float64) signal.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case indicators.CrossOver(prevShort, prevLong, curShort, curLong):
		s.lastTrend[coin] = trendBullish
		return signal.ActionBuy
	case indicators.CrossUnder(prevShort, prevLong, curShort, curLong):
		s.lastTrend[coin] = trendBearish
		return signal.ActionSell
	case curShort > curLong:
		if s.lastTrend[coin] != trendBullish {
			s.lastTrend[coin] = trendBullish
			return signal.ActionBuy
		}
	case curShort < curLong:
		if s.lastTrend[coin] != trendBearish {
			s.lastTrend[coin] = trendBearish
			return signal.ActionSell
		}
	}
	return signal.ActionHold
}

// smaStrength 价格需要站在短均线同一侧，否则强度为 0
func smaStrength(action signal.Action, short, long, price float64) float64 {
	if long == 0 {
		return 0
	}
	separation := math.Abs(short-long) / long
	confirmed := (action == signal.ActionBuy && short > long && price > short) ||
		(action == signal.ActionSell && short < long && price < short)
	if !confirmed {
		return 0
	}
	return math.Min(1, 0.6+separation*20)
}
