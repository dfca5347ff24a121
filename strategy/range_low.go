package strategy

import (
	"context"
	"fmt"

	"signalbot/config"
	"signalbot/indicators"
	"signalbot/signal"
)

// RangeLowSource 区间低点买入信号
// 价格落在 [low*(1+offset), low*(1+offset+tolerance)] 内时买入，从不卖出
type RangeLowSource struct {
	baseSource
	interval string // K线周期
	lookback int    // K线数量
	label    string // 回看区间，如 24h、7d
}

// NewRange24HLowSource 24 根 1 小时K线
func NewRange24HLowSource(feed CandleFeed, cfg config.GeneratorConfig) *RangeLowSource {
	return &RangeLowSource{
		baseSource: baseSource{name: config.GeneratorRange24HLow, feed: feed, cfg: cfg},
		interval:   Interval1h,
		lookback:   24,
		label:      "24h",
	}
}

// NewRange7DaysLowSource 7 根日K线
func NewRange7DaysLowSource(feed CandleFeed, cfg config.GeneratorConfig) *RangeLowSource {
	return &RangeLowSource{
		baseSource: baseSource{name: config.GeneratorRange7DaysLow, feed: feed, cfg: cfg},
		interval:   Interval1d,
		lookback:   7,
		label:      "7d",
	}
}

// GenerateSignal 生成信号
func (s *RangeLowSource) GenerateSignal(ctx context.Context, coin string) (*signal.Signal, error) {
	offsetPct := s.param(coin, "long_offset_percent", -1.0)
	tolerancePct := s.param(coin, "tolerance_percent", 2.0)

	candles, err := s.candles(ctx, coin, s.interval, s.lookback, s.lookback)
	if candles == nil {
		return nil, err
	}

	price, err := s.feed.LastPrice(ctx, coin)
	if err != nil {
		return nil, fmt.Errorf("%s 获取 %s 最新价失败: %w", s.name, coin, err)
	}

	low := indicators.Lowest(candles)
	high := indicators.Highest(candles)
	rangeLow, rangeHigh := buyRange(low, offsetPct, tolerancePct)
	inRange := price >= rangeLow && price <= rangeHigh

	action, strength := signal.ActionHold, 0.0
	if inRange {
		action = signal.ActionBuy
		strength = rangeStrength(price, rangeLow, rangeHigh)
	}

	return s.emit(coin, action, strength, map[string]interface{}{
		"current_price":       indicators.Round(price, 6),
		s.label + "_low":      indicators.Round(low, 6),
		s.label + "_high":     indicators.Round(high, 6),
		"buy_range_low":       indicators.Round(rangeLow, 6),
		"buy_range_high":      indicators.Round(rangeHigh, 6),
		"range_width":         indicators.Round(rangeHigh-rangeLow, 6),
		"in_range":            inRange,
		"long_offset_percent": offsetPct,
		"tolerance_percent":   tolerancePct,
		"timeframe":           s.interval,
		"lookback_period":     s.label,
	})
}

func buyRange(low, offsetPct, tolerancePct float64) (float64, float64) {
	offset := offsetPct / 100
	tolerance := tolerancePct / 100
	return low * (1 + offset), low * (1 + offset + tolerance)
}

// rangeStrength 越接近区间下沿越强，范围 [0.7, 1]
func rangeStrength(price, rangeLow, rangeHigh float64) float64 {
	width := rangeHigh - rangeLow
	if width == 0 {
		return 0.85
	}
	pos := (price - rangeLow) / width
	return clamp(1-pos*0.3, 0.7, 1)
}
