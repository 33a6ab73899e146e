package store

import (
	"context"
	"encoding/json"
	"time"
)

// DecisionRecord 是一次实时决策周期的流水。
type DecisionRecord struct {
	ID         string          `json:"id"`
	Instrument string          `json:"instrument"`
	Stage      string          `json:"stage"`
	Regime     string          `json:"regime"`
	Direction  string          `json:"direction,omitempty"`
	Strategy   string          `json:"strategy,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	EntryPrice float64         `json:"entry_price,omitempty"`
	StopLoss   float64         `json:"stop_loss,omitempty"`
	TakeProfit float64         `json:"take_profit,omitempty"`
	Size       float64         `json:"size,omitempty"`
	Approved   bool            `json:"approved"`
	Halted     bool            `json:"halted"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DecidedAt  time.Time       `json:"decided_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TradeRecord 是外部上报的一笔已平仓交易。
type TradeRecord struct {
	ID         int64     `json:"id"`
	Instrument string    `json:"instrument"`
	Strategy   string    `json:"strategy"`
	Direction  string    `json:"direction,omitempty"`
	PnL        float64   `json:"pnl"`
	ClosedAt   time.Time `json:"closed_at"`
}

// BreakerEventRecord 记录熔断器状态迁移。
type BreakerEventRecord struct {
	ID           int64     `json:"id"`
	Breaker      string    `json:"breaker"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Trigger      string    `json:"trigger,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	TriggerValue float64   `json:"trigger_value,omitempty"`
	Threshold    float64   `json:"threshold,omitempty"`
	At           time.Time `json:"at"`
}

// Journal 持久化实时决策、成交与熔断事件。
type Journal interface {
	AppendDecision(ctx context.Context, rec DecisionRecord) (string, error)
	ListDecisions(ctx context.Context, instrument string, limit int) ([]DecisionRecord, error)
	AppendTrade(ctx context.Context, rec TradeRecord) error
	ListTrades(ctx context.Context, instrument string, limit int) ([]TradeRecord, error)
	AppendBreakerEvent(ctx context.Context, rec BreakerEventRecord) error
	ListBreakerEvents(ctx context.Context, since time.Time, limit int) ([]BreakerEventRecord, error)
	Close() error
}
