package strategy

import (
	"fmt"
	"time"

	"signalbot/config"
	"signalbot/logger"
	"signalbot/signal"
)

// Catalog 信号源固定顺序（同一币种多个信号按此顺序处理）
var Catalog = []string{
	config.GeneratorRSI1Min,
	config.GeneratorRSI5Min,
	config.GeneratorRSI1H,
	config.GeneratorRSI4H,
	config.GeneratorSMA5Min,
	config.GeneratorRange7DaysLow,
	config.GeneratorRange24HLow,
	config.GeneratorMACD15Min,
	config.GeneratorScalping1Min,
}

// NewSource 按名称创建信号源
func NewSource(name string, feed CandleFeed, cfg config.GeneratorConfig) (signal.Source, error) {
	switch name {
	case config.GeneratorRSI1Min:
		return NewRSISource(name, Interval1m, feed, cfg), nil
	case config.GeneratorRSI5Min:
		return NewRSISource(name, Interval5m, feed, cfg), nil
	case config.GeneratorRSI1H:
		return NewRSISource(name, Interval1h, feed, cfg), nil
	case config.GeneratorRSI4H:
		return NewRSISource(name, Interval4h, feed, cfg), nil
	case config.GeneratorSMA5Min:
		return NewSMASource(feed, cfg), nil
	case config.GeneratorRange7DaysLow:
		return NewRange7DaysLowSource(feed, cfg), nil
	case config.GeneratorRange24HLow:
		return NewRange24HLowSource(feed, cfg), nil
	case config.GeneratorMACD15Min:
		return NewMACDSource(feed, cfg), nil
	case config.GeneratorScalping1Min:
		return NewScalpingSource(feed, cfg), nil
	default:
		return nil, fmt.Errorf("未知的信号源: %s", name)
	}
}

// BuildSources 按配置创建启用的信号源，返回信号源列表和检查间隔
func BuildSources(cfg *config.Config, feed CandleFeed) ([]signal.Source, map[string]time.Duration, error) {
	var sources []signal.Source
	intervals := make(map[string]time.Duration)

	for _, name := range Catalog {
		gcfg := cfg.Signals.Generators[name]
		if !gcfg.IsEnabled() {
			continue
		}
		src, err := NewSource(name, feed, gcfg)
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, src)

		interval := gcfg.Interval
		if interval <= 0 {
			interval = config.DefaultGeneratorInterval
		}
		intervals[name] = time.Duration(interval) * time.Second
		logger.Info("✅ 已启用信号源 %s，检查间隔 %ds", name, interval)
	}

	for _, name := range cfg.GeneratorNames() {
		if !inCatalog(name) {
			logger.Warn("⚠️ 忽略未知信号源配置: %s", name)
		}
	}

	if len(sources) == 0 {
		logger.Warn("⚠️ 没有启用任何信号源")
	}
	return sources, intervals, nil
}

func inCatalog(name string) bool {
	for _, n := range Catalog {
		if n == name {
			return true
		}
	}
	return false
}
