package indicator

import (
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// RSI 使用最近 period 个价差的正负均值；平均亏损为 0 时返回 100。
func RSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	gains := make([]float64, period)
	losses := make([]float64, period)
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i-start] = delta
		} else {
			losses[i-start] = -delta
		}
	}
	avgGain := stat.Mean(gains, nil)
	avgLoss := stat.Mean(losses, nil)
	if avgLoss == 0 {
		return 100, true
	}
	return 100 - 100/(1+avgGain/avgLoss), true
}

// StochasticValue 保存 %K 与 %D，二者可独立缺失。
type StochasticValue struct {
	K   float64
	KOK bool
	D   float64
	DOK bool
}

// Stochastic 计算 %K 及其 dPeriod 均线 %D。%D 基于滚动 %K 序列，需要 k+d-1 根 K 线。
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) StochasticValue {
	var out StochasticValue
	series := StochasticKSeries(highs, lows, closes, kPeriod)
	if len(series) == 0 {
		return out
	}
	out.K, out.KOK = series[len(series)-1], true
	if dPeriod > 0 && len(series) >= dPeriod {
		out.D, out.DOK = stat.Mean(series[len(series)-dPeriod:], nil), true
	}
	return out
}

// StochasticKSeries 返回从第 kPeriod 根开始的 %K 序列，区间为 0 时取 50。
func StochasticKSeries(highs, lows, closes []float64, kPeriod int) []float64 {
	n := len(closes)
	if kPeriod <= 0 || n < kPeriod || len(highs) != n || len(lows) != n {
		return nil
	}
	hh := rollingMax(highs, kPeriod)
	ll := rollingMin(lows, kPeriod)
	out := make([]float64, 0, n-kPeriod+1)
	for i := kPeriod - 1; i < n; i++ {
		rng := hh[i] - ll[i]
		if rng == 0 {
			out = append(out, 50)
			continue
		}
		out = append(out, 100*(closes[i]-ll[i])/rng)
	}
	return out
}

// CCI 计算商品通道指数；平均偏差为 0 时为 0。
func CCI(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period || len(highs) != n || len(lows) != n {
		return 0, false
	}
	out := talib.Cci(highs[n-period:], lows[n-period:], closes[n-period:], period)
	return out[len(out)-1], true
}

// WilliamsR 返回 [-100, 0] 的威廉指标；区间为 0 时为 -50。
func WilliamsR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period || len(highs) != n || len(lows) != n {
		return 0, false
	}
	hh, ll := extremes(highs[n-period:], lows[n-period:])
	if hh == ll {
		return -50, true
	}
	out := talib.WillR(highs[n-period:], lows[n-period:], closes[n-period:], period)
	return out[len(out)-1], true
}

func rollingMax(values []float64, period int) []float64 {
	if period >= 2 {
		return talib.Max(values, period)
	}
	return append([]float64(nil), values...)
}

func rollingMin(values []float64, period int) []float64 {
	if period >= 2 {
		return talib.Min(values, period)
	}
	return append([]float64(nil), values...)
}

func extremes(highs, lows []float64) (hh, ll float64) {
	hh, ll = highs[0], lows[0]
	for i := range highs {
		if highs[i] > hh {
			hh = highs[i]
		}
		if lows[i] < ll {
			ll = lows[i]
		}
	}
	return hh, ll
}
