package types

import "time"

// 平仓原因。
const (
	ExitStopLoss   = "stop_loss"
	ExitTakeProfit = "take_profit"
	ExitSignal     = "opposite_signal"
	ExitEndOfData  = "end_of_data"
)

// Trade 是一笔已平仓交易，创建后不再修改。
type Trade struct {
	ID         int       `json:"id"`
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Strategy   string    `json:"strategy,omitempty"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Size       float64   `json:"size"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	Slippage   float64   `json:"slippage"`
	ExitReason string    `json:"exit_reason"`
}

// Duration 返回持仓时长。
func (t Trade) Duration() time.Duration {
	if t.ExitTime.IsZero() {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}

// IsWin 仅 PnL > 0 计为盈利。
func (t Trade) IsWin() bool { return t.PnL > 0 }
