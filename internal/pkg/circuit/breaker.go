package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// ErrTradingHalted 表示熔断器已跳闸，所有交易被否决直到人工复位。
var ErrTradingHalted = errors.New("trading halted by circuit breaker")

type State int

const (
	StateActive State = iota
	StateTripped
	StateManualOverride
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateTripped:
		return "TRIPPED"
	case StateManualOverride:
		return "MANUAL_OVERRIDE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText 让 JSON/YAML 输出状态名。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// 跳闸原因。
const (
	TriggerDailyLoss         = "daily_loss"
	TriggerDrawdown          = "drawdown"
	TriggerConsecutiveLosses = "consecutive_losses"
)

// Event 是一次跳闸记录，比例类数值以百分比表示。
type Event struct {
	Time         time.Time `json:"time"`
	Trigger      string    `json:"trigger"`
	Reason       string    `json:"reason"`
	TriggerValue float64   `json:"trigger_value"`
	Threshold    float64   `json:"threshold"`
}

type Settings struct {
	MaxDailyLoss         float64
	MaxDrawdown          float64
	MaxConsecutiveLosses int
	HistoryLimit         int
}

func SettingsFromConfig(cfg config.BreakerConfig) Settings {
	return Settings{
		MaxDailyLoss:         cfg.MaxDailyLoss,
		MaxDrawdown:          cfg.MaxDrawdown,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		HistoryLimit:         cfg.HistoryLimit,
	}
}

// StateChangeHandler 在状态变化后异步调用；ev 仅在跳闸时非空。
type StateChangeHandler func(name string, from, to State, ev *Event)

type Option func(*CircuitBreaker)

// WithClock 注入时钟；回测中使用 K 线时间，保证日切与事件时间可复现。
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChangeHandler 设置状态变化回调。
func WithStateChangeHandler(h StateChangeHandler) Option {
	return func(cb *CircuitBreaker) { cb.onStateChange = h }
}

// CircuitBreaker 是交易会话级的安全闸。TRIPPED 只能通过 Reset 人工恢复；
// 日切重置当日起始余额与连亏计数，但不清除 TRIPPED。
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	cfg           Settings
	state         State
	overrideFrom  State
	day           string
	startBalance  float64
	hasStart      bool
	peakEquity    float64
	consecutive   int
	history       []Event
	now           func() time.Time
	onStateChange StateChangeHandler
}

func NewCircuitBreaker(name string, cfg Settings, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateActive,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

func (cb *CircuitBreaker) SetStateChangeHandler(handler StateChangeHandler) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = handler
}

// State 返回当前状态。
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow 在非 TRIPPED 时返回 true。
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != StateTripped
}

// Check 用账户快照评估日亏损、回撤与连亏条件。允许交易时返回 nil，否则返回包装了原因的 ErrTradingHalted。
func (cb *CircuitBreaker) Check(account types.Account) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateTripped:
		return cb.haltedErr()
	case StateManualOverride:
		return nil
	}
	cb.rollover()
	if !cb.hasStart {
		// 当日首次检查前可能已有平仓，起始余额需扣回当日已实现盈亏。
		cb.startBalance = account.Balance - account.RealizedPnLToday
		cb.hasStart = true
	}
	if account.Equity > cb.peakEquity {
		cb.peakEquity = account.Equity
	}

	if cb.startBalance > 0 && account.RealizedPnLToday < 0 {
		loss := -account.RealizedPnLToday / cb.startBalance
		if loss > cb.cfg.MaxDailyLoss {
			cb.trip(TriggerDailyLoss, "daily loss limit exceeded", loss*100, cb.cfg.MaxDailyLoss*100)
			return cb.haltedErr()
		}
	}
	if cb.peakEquity > 0 {
		dd := (cb.peakEquity - account.Equity) / cb.peakEquity
		if dd > cb.cfg.MaxDrawdown {
			cb.trip(TriggerDrawdown, "maximum drawdown exceeded", dd*100, cb.cfg.MaxDrawdown*100)
			return cb.haltedErr()
		}
	}
	if cb.checkConsecutive() {
		return cb.haltedErr()
	}
	return nil
}

// RecordTrade 在每笔平仓后调用：亏损连亏数加一，盈利或持平清零，并重新评估连亏条件。
func (cb *CircuitBreaker) RecordTrade(pnl float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollover()
	if pnl < 0 {
		cb.consecutive++
	} else {
		cb.consecutive = 0
	}
	if cb.state == StateActive {
		cb.checkConsecutive()
	}
}

// Reset 人工复位：TRIPPED → ACTIVE 并清零连亏。其他状态下无操作，返回 false。
func (cb *CircuitBreaker) Reset() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateTripped {
		return false
	}
	cb.consecutive = 0
	cb.peakEquity = 0
	cb.transition(StateActive, nil)
	return true
}

// EnableOverride 进入 MANUAL_OVERRIDE，绕过所有检查。
func (cb *CircuitBreaker) EnableOverride() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateManualOverride {
		return
	}
	cb.overrideFrom = cb.state
	cb.transition(StateManualOverride, nil)
}

// DisableOverride 退出 MANUAL_OVERRIDE，回到进入前的状态（TRIPPED 仍需 Reset）。
func (cb *CircuitBreaker) DisableOverride() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateManualOverride {
		return false
	}
	cb.transition(cb.overrideFrom, nil)
	return true
}

// Snapshot 是对外展示的状态。
type Snapshot struct {
	Name                 string  `json:"name"`
	State                State   `json:"state"`
	TradingAllowed       bool    `json:"trading_allowed"`
	Day                  string  `json:"day,omitempty"`
	StartingBalance      float64 `json:"starting_balance_today"`
	PeakEquity           float64 `json:"peak_equity"`
	ConsecutiveLosses    int     `json:"consecutive_losses"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	History              []Event `json:"trip_history"`
}

func (cb *CircuitBreaker) Status() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:                 cb.name,
		State:                cb.state,
		TradingAllowed:       cb.state != StateTripped,
		Day:                  cb.day,
		StartingBalance:      cb.startBalance,
		PeakEquity:           cb.peakEquity,
		ConsecutiveLosses:    cb.consecutive,
		MaxConsecutiveLosses: cb.cfg.MaxConsecutiveLosses,
		MaxDailyLoss:         cb.cfg.MaxDailyLoss,
		MaxDrawdown:          cb.cfg.MaxDrawdown,
		History:              append([]Event(nil), cb.history...),
	}
}

func (cb *CircuitBreaker) rollover() {
	day := cb.now().UTC().Format("2006-01-02")
	if day == cb.day {
		return
	}
	cb.day = day
	cb.hasStart = false
	cb.startBalance = 0
	cb.consecutive = 0
}

func (cb *CircuitBreaker) checkConsecutive() bool {
	limit := cb.cfg.MaxConsecutiveLosses
	if limit <= 0 || cb.consecutive < limit {
		return false
	}
	cb.trip(TriggerConsecutiveLosses, "maximum consecutive losses reached", float64(cb.consecutive), float64(limit))
	return true
}

func (cb *CircuitBreaker) trip(trigger, reason string, value, threshold float64) {
	ev := Event{
		Time:         cb.now().UTC(),
		Trigger:      trigger,
		Reason:       reason,
		TriggerValue: value,
		Threshold:    threshold,
	}
	cb.history = append(cb.history, ev)
	if limit := cb.cfg.HistoryLimit; limit > 0 && len(cb.history) > limit {
		cb.history = append(cb.history[:0], cb.history[len(cb.history)-limit:]...)
	}
	cb.transition(StateTripped, &ev)
}

func (cb *CircuitBreaker) haltedErr() error {
	if n := len(cb.history); n > 0 {
		return fmt.Errorf("%w: %s", ErrTradingHalted, cb.history[n-1].Reason)
	}
	return ErrTradingHalted
}

func (cb *CircuitBreaker) transition(to State, ev *Event) {
	from := cb.state
	cb.state = to
	if from == to {
		return
	}
	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, from, to, ev)
		return
	}
	if ev != nil {
		logger.Warnf("CircuitBreaker %s state change: %s -> %s (%s: %.2f > %.2f)",
			cb.name, from, to, ev.Reason, ev.TriggerValue, ev.Threshold)
		return
	}
	logger.Infof("CircuitBreaker %s state change: %s -> %s", cb.name, from, to)
}
