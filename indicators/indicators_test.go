package indicators

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("SMA 长度错误: 得到 %d, 期望 %d", len(got), len(want))
	}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("SMA[%d] = %v, 期望 %v", i, got[i], want[i])
		}
	}

	if SMA([]float64{1, 2}, 3) != nil {
		t.Error("数据不足时 SMA 应返回 nil")
	}
}

func TestEMA(t *testing.T) {
	// span=3 → alpha=0.5，以第一个值为起点
	got := EMA([]float64{1, 2, 3}, 3)
	want := []float64{1, 1.5, 2.25}
	for i := range want {
		if !almostEqual(got[i], want[i]) {
			t.Errorf("EMA[%d] = %v, 期望 %v", i, got[i], want[i])
		}
	}
}

func TestRollingRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
		isNaN  bool
	}{
		{name: "涨多跌少", closes: []float64{1, 2, 3, 2}, period: 3, want: 100 - 100/3.0},
		{name: "只涨不跌", closes: []float64{1, 2, 3, 4}, period: 3, want: 100},
		{name: "只跌不涨", closes: []float64{4, 3, 2, 1}, period: 3, want: 0},
		{name: "价格不变", closes: []float64{5, 5, 5, 5}, period: 3, isNaN: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rsi := RollingRSI(tt.closes, tt.period)
			got, ok := Last(rsi)
			if !ok {
				t.Fatal("RSI 不应为空")
			}
			if tt.isNaN {
				if !math.IsNaN(got) {
					t.Errorf("期望 NaN, 得到 %v", got)
				}
				return
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("RSI = %v, 期望 %v", got, tt.want)
			}
		})
	}

	if RollingRSI([]float64{1, 2, 3}, 3) != nil {
		t.Error("少于 period+1 根时应返回 nil")
	}
}

func TestEMARSI(t *testing.T) {
	rsi := EMARSI([]float64{1, 2, 3, 4, 5}, 7)
	if len(rsi) != 5 {
		t.Fatalf("EMA RSI 长度错误: %d", len(rsi))
	}
	if got := rsi[len(rsi)-1]; !almostEqual(got, 100) {
		t.Errorf("持续上涨 EMA RSI 应为 100, 得到 %v", got)
	}
	if !math.IsNaN(rsi[0]) {
		t.Errorf("第一根没有涨跌，应为 NaN, 得到 %v", rsi[0])
	}
}

func TestMACD(t *testing.T) {
	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 10
	}
	res := MACD(flat, 12, 26, 9)
	if res == nil {
		t.Fatal("MACD 不应为空")
	}
	if h, _ := Last(res.Histogram); !almostEqual(h, 0) {
		t.Errorf("价格不变时柱状图应为 0, 得到 %v", h)
	}

	rising := make([]float64, 60)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	res = MACD(rising, 12, 26, 9)
	if line, _ := Last(res.Line); line <= 0 {
		t.Errorf("持续上涨 MACD 线应为正, 得到 %v", line)
	}
}

func TestCross(t *testing.T) {
	if !CrossOver(1, 2, 3, 2) {
		t.Error("应识别为上穿")
	}
	if !CrossOver(2, 2, 3, 2) {
		t.Error("前一根相等也应识别为上穿")
	}
	if CrossOver(3, 2, 4, 2) {
		t.Error("一直在上方不是上穿")
	}
	if !CrossUnder(3, 2, 1, 2) {
		t.Error("应识别为下穿")
	}
}

func TestLowestHighest(t *testing.T) {
	candles := []Candle{
		{High: 10, Low: 8},
		{High: 12, Low: 7},
		{High: 11, Low: 9},
	}
	if got := Lowest(candles); got != 7 {
		t.Errorf("最低价 = %v, 期望 7", got)
	}
	if got := Highest(candles); got != 12 {
		t.Errorf("最高价 = %v, 期望 12", got)
	}
	if !math.IsNaN(Lowest(nil)) {
		t.Error("空K线最低价应为 NaN")
	}
}
