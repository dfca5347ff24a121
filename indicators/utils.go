package indicators

import "math"

// ========== 基础计算工具 ==========

// SMA 简单移动平均
// 返回长度为 len(values)-period+1 的序列，数据不足返回 nil
func SMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}

	result := make([]float64, len(values)-period+1)
	sum := 0.0

	for i := 0; i < period; i++ {
		sum += values[i]
	}
	result[0] = sum / float64(period)

	// 滑动计算后续 SMA
	for i := period; i < len(values); i++ {
		sum = sum - values[i-period] + values[i]
		result[i-period+1] = sum / float64(period)
	}

	return result
}

// EMA 指数移动平均
// alpha = 2/(span+1)，以第一个值为起点递推，输出与输入等长
func EMA(values []float64, span int) []float64 {
	if span <= 0 || len(values) == 0 {
		return nil
	}

	alpha := 2.0 / (float64(span) + 1.0)
	result := make([]float64, len(values))
	result[0] = values[0]
	for i := 1; i < len(values); i++ {
		result[i] = alpha*values[i] + (1-alpha)*result[i-1]
	}
	return result
}

// ClosePrices 提取收盘价
func ClosePrices(candles []Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}

// Volumes 提取成交量
func Volumes(candles []Candle) []float64 {
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	return volumes
}

// Lowest K线最低价中的最小值
func Lowest(candles []Candle) float64 {
	if len(candles) == 0 {
		return math.NaN()
	}
	low := candles[0].Low
	for _, c := range candles[1:] {
		if c.Low < low {
			low = c.Low
		}
	}
	return low
}

// Highest K线最高价中的最大值
func Highest(candles []Candle) float64 {
	if len(candles) == 0 {
		return math.NaN()
	}
	high := candles[0].High
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
	}
	return high
}

// Mean 平均值
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// CrossOver 上穿：前一根 a<=b，当前 a>b
func CrossOver(prevA, prevB, curA, curB float64) bool {
	return prevA <= prevB && curA > curB
}

// CrossUnder 下穿：前一根 a>=b，当前 a<b
func CrossUnder(prevA, prevB, curA, curB float64) bool {
	return prevA >= prevB && curA < curB
}

// Round 四舍五入到指定小数位
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
