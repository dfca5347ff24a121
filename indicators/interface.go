// Package indicators 信号源使用的技术指标
package indicators

// Candle K线数据
type Candle struct {
	Time   int64   // 开盘时间（毫秒）
	Open   float64 // 开盘价
	High   float64 // 最高价
	Low    float64 // 最低价
	Close  float64 // 收盘价
	Volume float64 // 成交量
}

// Indicator 单值指标接口
type Indicator interface {
	// Name 指标名称
	Name() string
	// Calculate 计算指标值
	Calculate(candles []Candle) []float64
	// Period 计算所需的最少K线数
	Period() int
}

// Last 返回序列最后一个值，序列为空时 ok=false
func Last(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return values[len(values)-1], true
}

// LastTwo 返回序列最后两个值（前一个、当前）
func LastTwo(values []float64) (prev, cur float64, ok bool) {
	if len(values) < 2 {
		return 0, 0, false
	}
	return values[len(values)-2], values[len(values)-1], true
}
