package risk

// KellyFraction 返回半凯利仓位比例，限制在 [0, MaxPositionSize]。avgLoss 为 0 时返回 0。
func (a *Assessor) KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss == 0 || avgWin == 0 {
		return 0
	}
	b := avgWin / avgLoss
	if b < 0 {
		b = -b
	}
	f := (winRate*b - (1 - winRate)) / b * 0.5
	if f < 0 {
		return 0
	}
	if f > a.cfg.MaxPositionSize {
		return a.cfg.MaxPositionSize
	}
	return f
}

// Limits 是账户级仓位边界。
type Limits struct {
	MaxPositionValue float64 `json:"max_position_value"`
	MaxRiskPerTrade  float64 `json:"max_risk_per_trade"`
	MaxExposureValue float64 `json:"max_exposure_value"`
	MinPositionValue float64 `json:"min_position_value"`
}

func (a *Assessor) Limits(balance float64) Limits {
	return Limits{
		MaxPositionValue: balance * a.cfg.MaxPositionSize,
		MaxRiskPerTrade:  balance * a.cfg.RiskPerTrade,
		MaxExposureValue: balance * a.cfg.MaxExposure,
		MinPositionValue: balance * 0.01,
	}
}
