package types

import (
	"fmt"
	"strings"
	"time"
)

// Direction 交易方向。
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// ParseDirection 接受 buy/long/sell/short/hold（大小写不敏感）。
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return Buy, nil
	case "sell", "short":
		return Sell, nil
	case "hold", "":
		return Hold, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

func (d Direction) Opposite() Direction {
	switch d {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return Hold
	}
}

// Sign returns +1 for BUY, -1 for SELL, 0 otherwise.
func (d Direction) Sign() float64 {
	switch d {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// TradingSignal 是策略输出、经风控定价后的候选交易。
type TradingSignal struct {
	Instrument string    `json:"instrument"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Size       float64   `json:"size"`
	Reasoning  string    `json:"reasoning"`
	Strategy   string    `json:"strategy"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate 检查 confidence ∈ [0,1]；Size 一旦设置必须为正。
func (s TradingSignal) Validate() error {
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %v", s.Confidence)
	}
	if s.Size < 0 {
		return fmt.Errorf("size must be positive, got %v", s.Size)
	}
	if s.Direction != Buy && s.Direction != Sell && s.Direction != Hold {
		return fmt.Errorf("invalid direction %q", s.Direction)
	}
	return nil
}

// IsActionable 仅 BUY/SELL 信号可下单。
func (s TradingSignal) IsActionable() bool {
	return s.Direction == Buy || s.Direction == Sell
}

// RiskReward 返回 |tp-entry| / |entry-sl|，风险为 0 时返回 0。
func (s TradingSignal) RiskReward() float64 {
	risk := s.EntryPrice - s.StopLoss
	if risk < 0 {
		risk = -risk
	}
	if risk <= 0 {
		return 0
	}
	reward := s.TakeProfit - s.EntryPrice
	if reward < 0 {
		reward = -reward
	}
	return reward / risk
}
