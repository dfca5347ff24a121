package indicators

// ========== 趋势指标 ==========

// MACDResult MACD 计算结果，三条序列与输入等长
type MACDResult struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD 指数平滑异同移动平均
func MACD(closes []float64, fast, slow, signal int) *MACDResult {
	if len(closes) == 0 || fast <= 0 || slow <= 0 || signal <= 0 {
		return nil
	}

	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)

	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}

	signalLine := EMA(line, signal)
	hist := make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - signalLine[i]
	}

	return &MACDResult{Line: line, Signal: signalLine, Histogram: hist}
}
