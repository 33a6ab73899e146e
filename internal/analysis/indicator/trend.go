package indicator

import "github.com/markcheno/go-talib"

// MACDValue 是 MACD 的三条线。
type MACDValue struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD 用首值种子 EMA 计算 fast-slow 差值及其 signal 线，需要 slow+signal 根 K 线。
func MACD(closes []float64, fast, slow, signal int) (MACDValue, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(closes) < slow+signal {
		return MACDValue{}, false
	}
	fastSeries := EMASeries(closes, fast)
	slowSeries := EMASeries(closes, slow)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fastSeries[i] - slowSeries[i]
	}
	sig, ok := EMA(line, signal)
	if !ok {
		return MACDValue{}, false
	}
	m := line[len(line)-1]
	return MACDValue{MACD: m, Signal: sig, Histogram: m - sig}, true
}

// Directional 是 ADX 与 ±DI。
type Directional struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADX 基于 Wilder 平滑的 +DM/-DM 与真实波幅，需要 2*period 根 K 线。
func ADX(highs, lows, closes []float64, period int) (Directional, bool) {
	n := len(closes)
	if period <= 1 || n < 2*period || len(highs) != n || len(lows) != n {
		return Directional{}, false
	}
	adx := talib.Adx(highs, lows, closes, period)
	plus := talib.PlusDI(highs, lows, closes, period)
	minus := talib.MinusDI(highs, lows, closes, period)
	return Directional{
		ADX:     clamp(adx[n-1], 0, 100),
		PlusDI:  plus[n-1],
		MinusDI: minus[n-1],
	}, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
