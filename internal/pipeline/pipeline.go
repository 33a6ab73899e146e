// Package pipeline 把指标、策略编排、风控与熔断串成一个交易会话。
// 会话独占策略状态与熔断器，回测每次运行都新建一个会话。
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/indicator"
	"github.com/snackshell/KeenAI-Quant/internal/analysis/regime"
	"github.com/snackshell/KeenAI-Quant/internal/decision"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/pkg/circuit"
	"github.com/snackshell/KeenAI-Quant/internal/risk"
	"github.com/snackshell/KeenAI-Quant/internal/strategy"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// Stage 表示一次评估停在哪个阶段。
type Stage string

const (
	StageContext  Stage = "context"
	StageStrategy Stage = "strategy"
	StageRisk     Stage = "risk"
	StageBreaker  Stage = "breaker"
	StageApproved Stage = "approved"
)

// StageError 封装某个阶段的失败。
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return string(e.Stage)
	}
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Evaluation 是一个决策周期的完整记录。
type Evaluation struct {
	Instrument string               `json:"instrument"`
	Time       time.Time            `json:"time"`
	Price      float64              `json:"price"`
	Stage      Stage                `json:"stage"`
	Regime     regime.Regime        `json:"regime"`
	Indicators map[string]float64   `json:"indicators,omitempty"`
	Decision   decision.Decision    `json:"decision"`
	Signal     *types.TradingSignal `json:"signal,omitempty"`
	Validation *risk.Validation     `json:"validation,omitempty"`
	Halted     bool                 `json:"halted"`
	Approved   bool                 `json:"approved"`
	Reason     string               `json:"reason"`
}

// Pipeline 是一个交易会话：ContextBuilder → Orchestrator → Assessor → CircuitBreaker。
type Pipeline struct {
	name         string
	builder      strategy.ContextBuilder
	orchestrator *decision.Orchestrator
	assessor     *risk.Assessor
	breaker      *circuit.CircuitBreaker
	book         *strategy.StateBook

	mu  sync.Mutex
	log *slog.Logger
}

// New 创建会话，StateBook 总是新建。
func New(name string, builder strategy.ContextBuilder, orch *decision.Orchestrator, assessor *risk.Assessor, breaker *circuit.CircuitBreaker) *Pipeline {
	return &Pipeline{
		name:         name,
		builder:      builder,
		orchestrator: orch,
		assessor:     assessor,
		breaker:      breaker,
		book:         strategy.NewStateBook(),
		log:          logger.With("pipeline", "session", name),
	}
}

func (p *Pipeline) Name() string                         { return p.name }
func (p *Pipeline) Orchestrator() *decision.Orchestrator { return p.orchestrator }
func (p *Pipeline) Assessor() *risk.Assessor             { return p.assessor }
func (p *Pipeline) Breaker() *circuit.CircuitBreaker     { return p.breaker }

// Reset 清空策略状态；熔断器只能通过 Breaker().Reset() 人工复位。
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.book.Reset()
}

// Evaluate 依次执行全部阶段。K 线不足时返回包装了 indicator.ErrInsufficientData 的 *StageError。
func (p *Pipeline) Evaluate(candles []market.Candle, account types.Account) (Evaluation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev, err := p.decide(candles, account)
	if err != nil {
		return ev, err
	}
	if ev.Decision.Signal == nil {
		if err := p.breaker.Check(account); err != nil {
			ev.Halted = true
		}
		return ev, nil
	}
	p.approve(&ev, *ev.Decision.Signal, account)
	return ev, nil
}

// Decide 只执行指标与策略阶段，不触碰风控与熔断。回测在处理反向持仓后再调用 Approve。
func (p *Pipeline) Decide(candles []market.Candle, account types.Account) (Evaluation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decide(candles, account)
}

// Approve 对信号定仓并做风控校验与熔断检查，结果写回 ev。
func (p *Pipeline) Approve(ev *Evaluation, sig types.TradingSignal, account types.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.approve(ev, sig, account)
}

// Observe 用最新账户快照推进熔断器（峰值权益、日亏损），返回是否被熔断。
func (p *Pipeline) Observe(account types.Account) error {
	return p.breaker.Check(account)
}

// RecordTrade 在平仓后更新熔断器连亏计数与来源策略的统计。
func (p *Pipeline) RecordTrade(strategyName string, pnl float64) {
	p.breaker.RecordTrade(pnl)
	if s, ok := p.orchestrator.Strategy(strategyName); ok {
		s.RecordOutcome(pnl)
	}
}

func (p *Pipeline) decide(candles []market.Candle, account types.Account) (Evaluation, error) {
	ctx, err := p.builder.Build(candles, account)
	if err != nil {
		ev := Evaluation{Stage: StageContext, Reason: err.Error()}
		if n := len(candles); n > 0 {
			ev.Instrument = candles[n-1].Symbol
			ev.Time = candles[n-1].Time()
			ev.Price = candles[n-1].Close
		}
		return ev, &StageError{Stage: StageContext, Err: err}
	}
	d := p.orchestrator.Evaluate(ctx, p.book)
	return Evaluation{
		Instrument: ctx.Instrument,
		Time:       ctx.Time,
		Price:      ctx.Price,
		Stage:      StageStrategy,
		Regime:     ctx.Regime,
		Indicators: ctx.Indicators.Values,
		Decision:   d,
		Reason:     d.Reason,
	}, nil
}

func (p *Pipeline) approve(ev *Evaluation, sig types.TradingSignal, account types.Account) {
	sized := p.assessor.Price(sig, account, ev.Indicators[indicator.KeyATR])
	validation := p.assessor.Validate(sized, account)
	ev.Signal = &sized
	ev.Validation = &validation

	breakerErr := p.breaker.Check(account)
	ev.Halted = breakerErr != nil
	switch {
	case !validation.Approved:
		ev.Stage = StageRisk
		ev.Reason = fmt.Sprintf("rejected by %s check: %s", validation.Check, validation.Reason)
	case breakerErr != nil:
		ev.Stage = StageBreaker
		ev.Reason = breakerErr.Error()
	default:
		ev.Stage = StageApproved
		ev.Approved = true
		ev.Reason = fmt.Sprintf("%s %s size %.4f approved", sized.Direction, sized.Instrument, sized.Size)
		p.log.Debug("signal approved", "instrument", sized.Instrument, "direction", sized.Direction,
			"size", sized.Size, "strategy", sized.Strategy)
	}
}

// IsInsufficientData 判断错误是否源于历史不足。
func IsInsufficientData(err error) bool {
	return errors.Is(err, indicator.ErrInsufficientData)
}
