package indicator

import (
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// Bands 是布林带取值，Width = (upper-lower)/middle。
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
	Width  float64
}

// Bollinger 以 SMA 为中轨、总体标准差乘 k 为带宽。
func Bollinger(closes []float64, period int, k float64) (Bands, bool) {
	if period <= 0 || len(closes) < period || k < 0 {
		return Bands{}, false
	}
	window := closes[len(closes)-period:]
	middle, _ := SMA(window, period)
	_, std := stat.PopMeanStdDev(window, nil)
	b := Bands{
		Upper:  middle + k*std,
		Middle: middle,
		Lower:  middle - k*std,
	}
	if middle > 0 {
		b.Width = (b.Upper - b.Lower) / middle
	}
	return b, true
}

// ATR 返回最近 period 个真实波幅的均值，需要 period+1 根 K 线。
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	series := trueRanges(highs, lows, closes)
	if period <= 0 || len(series) < period {
		return 0, false
	}
	return stat.Mean(series[len(series)-period:], nil), true
}

// ATRSeries 返回滚动 ATR 序列（第 i 个值对应 closes[period+i]）。
func ATRSeries(highs, lows, closes []float64, period int) []float64 {
	tr := trueRanges(highs, lows, closes)
	if period <= 0 || len(tr) < period {
		return nil
	}
	out := talib.Sma(tr, period)
	return out[period-1:]
}

// trueRanges 返回从第二根 K 线开始的真实波幅。
func trueRanges(highs, lows, closes []float64) []float64 {
	n := len(closes)
	if n < 2 || len(highs) != n || len(lows) != n {
		return nil
	}
	return talib.TRange(highs, lows, closes)[1:]
}

// Volatility 返回最近 window 个收盘价的 std/mean，以百分比表示。
func Volatility(closes []float64, window int) (float64, bool) {
	if window < 2 || len(closes) < window {
		return 0, false
	}
	mean, std := stat.PopMeanStdDev(closes[len(closes)-window:], nil)
	if mean == 0 {
		return 0, false
	}
	return std / mean * 100, true
}

// VolatilityPercentile 返回最新 ATR/价格 在最近 window 个取值中的百分位 (0-100)。
func VolatilityPercentile(highs, lows, closes []float64, atrPeriod, window int) (float64, bool) {
	atr := ATRSeries(highs, lows, closes, atrPeriod)
	if len(atr) < 2 {
		return 0, false
	}
	offset := len(closes) - len(atr)
	ratios := make([]float64, len(atr))
	for i, v := range atr {
		price := closes[offset+i]
		if price <= 0 {
			return 0, false
		}
		ratios[i] = v / price
	}
	if window > 1 && len(ratios) > window {
		ratios = ratios[len(ratios)-window:]
	}
	latest := ratios[len(ratios)-1]
	below := 0
	for _, r := range ratios {
		if r <= latest {
			below++
		}
	}
	return 100 * float64(below) / float64(len(ratios)), true
}
