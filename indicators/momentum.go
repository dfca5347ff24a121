package indicators

import "math"

// ========== 动量指标 ==========

// RSIMode RSI 平滑方式
type RSIMode int

const (
	// RSIRolling 涨跌幅取最近 period 根的简单平均
	RSIRolling RSIMode = iota
	// RSIExponential 涨跌幅按 span=period 做指数平均
	RSIExponential
)

// RSI 相对强弱指数
type RSI struct {
	period int
	mode   RSIMode
}

// NewRSI 创建简单平均 RSI
func NewRSI(period int) *RSI {
	return &RSI{period: period, mode: RSIRolling}
}

// NewEMARSI 创建指数平均 RSI（短线剥头皮使用）
func NewEMARSI(period int) *RSI {
	return &RSI{period: period, mode: RSIExponential}
}

// Name 指标名称
func (r *RSI) Name() string {
	if r.mode == RSIExponential {
		return "EMA_RSI"
	}
	return "RSI"
}

// Period 所需周期数
func (r *RSI) Period() int {
	return r.period + 1
}

// Calculate 计算 RSI
func (r *RSI) Calculate(candles []Candle) []float64 {
	if r.mode == RSIExponential {
		return EMARSI(ClosePrices(candles), r.period)
	}
	return RollingRSI(ClosePrices(candles), r.period)
}

// gainsLosses 逐根计算上涨和下跌幅度，第一根记为 0
func gainsLosses(closes []float64) ([]float64, []float64) {
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else if change < 0 {
			losses[i] = -change
		}
	}
	return gains, losses
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			// 价格完全不变时没有意义
			return math.NaN()
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// RollingRSI 简单平均 RSI
// 输出对齐 closes[period:]，数据不足 period+1 根返回 nil
func RollingRSI(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	gains, losses := gainsLosses(closes)
	// 第一根没有涨跌幅，从第二根开始取窗口
	avgGain := SMA(gains[1:], period)
	avgLoss := SMA(losses[1:], period)

	result := make([]float64, len(avgGain))
	for i := range avgGain {
		result[i] = rsiValue(avgGain[i], avgLoss[i])
	}
	return result
}

// EMARSI 指数平均 RSI，输出与 closes 等长
func EMARSI(closes []float64, span int) []float64 {
	if span <= 0 || len(closes) < 2 {
		return nil
	}

	gains, losses := gainsLosses(closes)
	avgGain := EMA(gains, span)
	avgLoss := EMA(losses, span)

	result := make([]float64, len(closes))
	for i := range closes {
		result[i] = rsiValue(avgGain[i], avgLoss[i])
	}
	return result
}
