package types

import "time"

// Position 是一笔未平仓持仓（实盘快照或回测模拟）。
type Position struct {
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	MarkPrice  float64   `json:"mark_price,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
	Strategy   string    `json:"strategy,omitempty"`
}

// Notional 按标记价计算名义价值，未提供标记价时使用开仓价。
func (p Position) Notional() float64 {
	if p.MarkPrice > 0 {
		return p.Size * p.MarkPrice
	}
	return p.Size * p.EntryPrice
}

// UnrealizedPnL 以 price 估算浮动盈亏。
func (p Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Size * p.Direction.Sign()
}

// Account 是外部提供的账户快照。
type Account struct {
	Balance          float64    `json:"balance"`
	Equity           float64    `json:"equity"`
	MarginUsed       float64    `json:"margin_used"`
	MarginAvailable  float64    `json:"margin_available"`
	UnrealizedPnL    float64    `json:"unrealized_pnl"`
	RealizedPnLToday float64    `json:"realized_pnl_today"`
	Positions        []Position `json:"positions"`
}

// TotalExposure 汇总所有持仓的名义价值。
func (a Account) TotalExposure() float64 {
	total := 0.0
	for _, p := range a.Positions {
		total += p.Notional()
	}
	return total
}

// PositionsFor 返回某个品种的持仓。
func (a Account) PositionsFor(instrument string) []Position {
	var out []Position
	for _, p := range a.Positions {
		if p.Instrument == instrument {
			out = append(out, p)
		}
	}
	return out
}
