package indicator

import "github.com/markcheno/go-talib"

// SMA 返回最近 period 个值的简单均值。
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	out := talib.Sma(values[len(values)-period:], period)
	return out[len(out)-1], true
}

// EMA 返回指数均线最新值，乘数 2/(period+1)，以首个值作种子。
func EMA(values []float64, period int) (float64, bool) {
	series := EMASeries(values, period)
	if series == nil {
		return 0, false
	}
	return series[len(series)-1], true
}

// EMASeries 返回与 values 等长的 EMA 序列；len(values) < period 时返回 nil。
// talib.Ema 以 SMA 作种子，这里需要首值种子，因此单独实现递推。
func EMASeries(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	m := 2.0 / float64(period+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*m + out[i-1]*(1-m)
	}
	return out
}
