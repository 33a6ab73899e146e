package model

import (
	"gorm.io/datatypes"
)

type DecisionModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Instrument    string         `gorm:"column:instrument;index:idx_decisions_instrument,priority:1"`
	Stage         string         `gorm:"column:stage"`
	Regime        string         `gorm:"column:regime"`
	Direction     string         `gorm:"column:direction"`
	Strategy      string         `gorm:"column:strategy"`
	Confidence    float64        `gorm:"column:confidence"`
	EntryPrice    float64        `gorm:"column:entry_price"`
	StopLoss      float64        `gorm:"column:stop_loss"`
	TakeProfit    float64        `gorm:"column:take_profit"`
	Size          float64        `gorm:"column:size"`
	Approved      bool           `gorm:"column:approved"`
	Halted        bool           `gorm:"column:halted"`
	Reason        string         `gorm:"column:reason"`
	Payload       datatypes.JSON `gorm:"column:payload;type:TEXT"`
	DecidedAtUnix int64          `gorm:"column:decided_at"`
	CreatedAtUnix int64          `gorm:"column:created_at;index:idx_decisions_instrument,priority:2"`
}

func (DecisionModel) TableName() string { return "decisions" }

type TradeModel struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Instrument   string  `gorm:"column:instrument;index"`
	Strategy     string  `gorm:"column:strategy"`
	Direction    string  `gorm:"column:direction"`
	PnL          float64 `gorm:"column:pnl"`
	ClosedAtUnix int64   `gorm:"column:closed_at;index"`
}

func (TradeModel) TableName() string { return "live_trades" }

type BreakerEventModel struct {
	ID           int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Breaker      string  `gorm:"column:breaker"`
	FromState    string  `gorm:"column:from_state"`
	ToState      string  `gorm:"column:to_state"`
	Trigger      string  `gorm:"column:trigger_name"`
	Reason       string  `gorm:"column:reason"`
	TriggerValue float64 `gorm:"column:trigger_value"`
	Threshold    float64 `gorm:"column:threshold"`
	AtUnix       int64   `gorm:"column:at;index"`
}

func (BreakerEventModel) TableName() string { return "breaker_events" }
