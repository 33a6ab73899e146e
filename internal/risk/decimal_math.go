package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/snackshell/KeenAI-Quant/internal/types"
)

var decimalZero = decimal.Zero

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }
func decimalLT(a, b float64) bool  { return decimalCompare(a, b) < 0 }
func decimalGT(a, b float64) bool  { return decimalCompare(a, b) > 0 }

// truncate 向零截断到 places 位小数，保证结果不超过原值。
func truncate(val float64, places int32) float64 {
	return decToFloat(decFromFloat(val).Truncate(places))
}

func round(val float64, places int32) float64 {
	return decToFloat(decFromFloat(val).Round(places))
}

// StopHit 判断 K 线区间是否触及止损：多头看 low<=stop，空头看 high>=stop。
func StopHit(dir types.Direction, high, low, stop float64) bool {
	if stop <= 0 {
		return false
	}
	switch dir {
	case types.Sell:
		return decimalGTE(high, stop)
	case types.Buy:
		return decimalLTE(low, stop)
	default:
		return false
	}
}

// TargetHit 判断 K 线区间是否触及止盈：多头看 high>=tp，空头看 low<=tp。
func TargetHit(dir types.Direction, high, low, target float64) bool {
	if target <= 0 {
		return false
	}
	switch dir {
	case types.Sell:
		return decimalLTE(low, target)
	case types.Buy:
		return decimalGTE(high, target)
	default:
		return false
	}
}

// stopOnCorrectSide：多头止损须低于入场价，空头须高于入场价。
func stopOnCorrectSide(dir types.Direction, entry, stop float64) bool {
	switch dir {
	case types.Buy:
		return decimalLT(stop, entry)
	case types.Sell:
		return decimalGT(stop, entry)
	default:
		return false
	}
}

func targetOnCorrectSide(dir types.Direction, entry, target float64) bool {
	switch dir {
	case types.Buy:
		return decimalGT(target, entry)
	case types.Sell:
		return decimalLT(target, entry)
	default:
		return false
	}
}
