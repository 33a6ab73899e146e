// Package agent 承载实时决策服务：外部推送 K 线与账户快照，服务驱动交易会话、
// 记录流水并广播事件。下单由外部执行方完成。
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/indicator"
	"github.com/snackshell/KeenAI-Quant/internal/analysis/regime"
	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/decision"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/metrics"
	"github.com/snackshell/KeenAI-Quant/internal/pipeline"
	"github.com/snackshell/KeenAI-Quant/internal/pkg/circuit"
	"github.com/snackshell/KeenAI-Quant/internal/risk"
	"github.com/snackshell/KeenAI-Quant/internal/store"
	"github.com/snackshell/KeenAI-Quant/internal/strategy"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// ErrInvalidRequest 表示调用方输入不合法（HTTP 层映射为 400）。
var ErrInvalidRequest = errors.New("invalid request")

const journalTimeout = 3 * time.Second

// 事件类型。
const (
	EventDecision = "decision"
	EventTrade    = "trade"
	EventBreaker  = "breaker"
	EventStrategy = "strategy"
)

// Event 是推送给订阅方的实时事件。
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data"`
}

// Publisher 接收实时事件，例如 websocket hub。
type Publisher interface {
	Publish(Event)
}

type LiveServiceParams struct {
	Config    *config.Config
	Journal   store.Journal
	Metrics   *metrics.Metrics
	Publisher Publisher
	Clock     func() time.Time
}

// LiveService 独占一个 "live" 交易会话。
type LiveService struct {
	session   *pipeline.Pipeline
	journal   store.Journal
	metrics   *metrics.Metrics
	publisher Publisher
	now       func() time.Time
	log       *slog.Logger

	acctMu      sync.RWMutex
	lastAccount *types.Account
}

func NewLiveService(p LiveServiceParams) (*LiveService, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	assessor := risk.NewAssessor(risk.SettingsFromConfig(cfg.Risk))
	strategies, err := strategy.Build(cfg.Strategies, assessor)
	if err != nil {
		return nil, fmt.Errorf("build strategies: %w", err)
	}
	now := p.Clock
	if now == nil {
		now = time.Now
	}
	s := &LiveService{
		journal:   p.Journal,
		metrics:   p.Metrics,
		publisher: p.Publisher,
		now:       now,
		log:       logger.With("live"),
	}
	builder := strategy.ContextBuilder{
		Indicators: indicator.SettingsFromConfig(cfg.Indicators),
		Classifier: regime.NewClassifier(regime.SettingsFromConfig(cfg.Regime, cfg.Indicators)),
		Window:     cfg.Backtest.Window,
	}
	breaker := circuit.NewCircuitBreaker("live", circuit.SettingsFromConfig(cfg.CircuitBreaker),
		circuit.WithClock(now), circuit.WithStateChangeHandler(s.onBreakerChange))
	s.session = pipeline.New("live", builder,
		decision.New(strategies, cfg.Orchestrator),
		assessor,
		breaker,
	)
	return s, nil
}

// EvaluateRequest 是一次实时决策的输入。
type EvaluateRequest struct {
	Instrument string          `json:"instrument"`
	Timeframe  string          `json:"timeframe,omitempty"`
	Candles    []market.Candle `json:"candles"`
	Account    types.Account   `json:"account"`
}

// Evaluate 运行完整决策流程并写入流水。历史不足返回的错误满足 pipeline.IsInsufficientData。
func (s *LiveService) Evaluate(ctx context.Context, req EvaluateRequest) (pipeline.Evaluation, error) {
	instrument := strings.ToUpper(strings.TrimSpace(req.Instrument))
	if instrument == "" {
		return pipeline.Evaluation{}, fmt.Errorf("%w: instrument is required", ErrInvalidRequest)
	}
	if len(req.Candles) == 0 {
		return pipeline.Evaluation{}, fmt.Errorf("%w: candles are required", ErrInvalidRequest)
	}
	candles := make([]market.Candle, len(req.Candles))
	for i, c := range req.Candles {
		c.Symbol = instrument
		if c.Timeframe == "" {
			c.Timeframe = req.Timeframe
		}
		candles[i] = c
	}
	if err := market.ValidateSeries(candles); err != nil {
		return pipeline.Evaluation{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	s.rememberAccount(req.Account)
	ev, err := s.session.Evaluate(candles, req.Account)
	if ev.Instrument == "" {
		ev.Instrument = instrument
	}
	if err != nil {
		return ev, err
	}
	if s.metrics != nil {
		s.metrics.ObserveEvaluation(ev)
	}
	s.appendDecision(ctx, ev)
	s.publish(EventDecision, ev)
	if ev.Approved {
		s.log.Info("signal approved", "instrument", instrument, "strategy", ev.Signal.Strategy,
			"direction", ev.Signal.Direction, "size", ev.Signal.Size)
	}
	return ev, nil
}

func (s *LiveService) appendDecision(ctx context.Context, ev pipeline.Evaluation) {
	if s.journal == nil {
		return
	}
	rec := store.DecisionRecord{
		Instrument: ev.Instrument,
		Stage:      string(ev.Stage),
		Regime:     string(ev.Regime.Type),
		Approved:   ev.Approved,
		Halted:     ev.Halted,
		Reason:     ev.Reason,
		DecidedAt:  ev.Time,
	}
	if sig := ev.Signal; sig != nil {
		rec.Direction = string(sig.Direction)
		rec.Strategy = sig.Strategy
		rec.Confidence = sig.Confidence
		rec.EntryPrice = sig.EntryPrice
		rec.StopLoss = sig.StopLoss
		rec.TakeProfit = sig.TakeProfit
		rec.Size = sig.Size
	}
	if payload, err := json.Marshal(ev); err == nil {
		rec.Payload = payload
	}
	ctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()
	if _, err := s.journal.AppendDecision(ctx, rec); err != nil {
		s.log.Warn("journal decision failed", "instrument", ev.Instrument, "err", err)
	}
}

// TradeReport 是外部执行方上报的平仓结果。
type TradeReport struct {
	Instrument string          `json:"instrument"`
	Strategy   string          `json:"strategy"`
	Direction  types.Direction `json:"direction,omitempty"`
	PnL        float64         `json:"pnl"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// RecordTrade 把平仓盈亏交给熔断器与来源策略，并写入流水。
func (s *LiveService) RecordTrade(ctx context.Context, rep TradeReport) error {
	if math.IsNaN(rep.PnL) || math.IsInf(rep.PnL, 0) {
		return fmt.Errorf("%w: pnl must be finite", ErrInvalidRequest)
	}
	if strings.TrimSpace(rep.Strategy) == "" {
		return fmt.Errorf("%w: strategy is required", ErrInvalidRequest)
	}
	if rep.ClosedAt.IsZero() {
		rep.ClosedAt = s.now().UTC()
	}
	rep.Instrument = strings.ToUpper(strings.TrimSpace(rep.Instrument))
	s.session.RecordTrade(rep.Strategy, rep.PnL)
	if s.metrics != nil {
		s.metrics.ObserveTrade(rep.Strategy, rep.PnL)
	}
	if s.journal != nil {
		ctx, cancel := context.WithTimeout(ctx, journalTimeout)
		defer cancel()
		err := s.journal.AppendTrade(ctx, store.TradeRecord{
			Instrument: rep.Instrument,
			Strategy:   rep.Strategy,
			Direction:  string(rep.Direction),
			PnL:        rep.PnL,
			ClosedAt:   rep.ClosedAt,
		})
		if err != nil {
			return fmt.Errorf("journal trade: %w", err)
		}
	}
	s.publish(EventTrade, rep)
	return nil
}

func (s *LiveService) rememberAccount(acct types.Account) {
	s.acctMu.Lock()
	s.lastAccount = &acct
	s.acctMu.Unlock()
}

// RiskReport 汇总风控参数、账户级仓位边界，以及最近一次决策时的账户风险概览。
type RiskReport struct {
	Settings risk.Settings `json:"settings"`
	Balance  float64       `json:"balance"`
	Limits   risk.Limits   `json:"limits"`
	Account  *risk.Metrics `json:"account,omitempty"`
}

// RiskStatus 按 balance 计算仓位边界；balance<=0 时使用最近一次决策的账户余额。
func (s *LiveService) RiskStatus(balance float64) RiskReport {
	assessor := s.session.Assessor()
	s.acctMu.RLock()
	last := s.lastAccount
	s.acctMu.RUnlock()

	report := RiskReport{Settings: assessor.Settings()}
	if last != nil {
		m := assessor.Metrics(*last)
		report.Account = &m
		if balance <= 0 {
			balance = last.Balance
		}
	}
	if balance > 0 {
		report.Balance = balance
		report.Limits = assessor.Limits(balance)
	}
	return report
}

func (s *LiveService) BreakerStatus() circuit.Snapshot {
	return s.session.Breaker().Status()
}

// ResetBreaker 人工复位，未处于 TRIPPED 时返回 false。
func (s *LiveService) ResetBreaker() bool {
	return s.session.Breaker().Reset()
}

// SetOverride 进入或退出 MANUAL_OVERRIDE，返回状态是否发生变化。
func (s *LiveService) SetOverride(enabled bool) bool {
	breaker := s.session.Breaker()
	if !enabled {
		return breaker.DisableOverride()
	}
	if breaker.State() == circuit.StateManualOverride {
		return false
	}
	breaker.EnableOverride()
	return true
}

func (s *LiveService) Strategies() []strategy.Stats {
	return s.session.Orchestrator().Stats()
}

func (s *LiveService) SetStrategyEnabled(name string, enabled bool) error {
	if err := s.session.Orchestrator().SetEnabled(name, enabled); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s.publish(EventStrategy, map[string]any{"strategy": name, "enabled": enabled})
	return nil
}

// ApplyConfig 根据热更新后的配置重新设置策略开关。
func (s *LiveService) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	enabled := map[string]bool{
		strategy.NameTrend:         cfg.Strategies.Trend.Enabled,
		strategy.NameMeanReversion: cfg.Strategies.MeanReversion.Enabled,
		strategy.NameBreakout:      cfg.Strategies.Breakout.Enabled,
	}
	orch := s.session.Orchestrator()
	for name, on := range enabled {
		st, ok := orch.Strategy(name)
		if !ok || st.Enabled() == on {
			continue
		}
		_ = orch.SetEnabled(name, on)
		s.publish(EventStrategy, map[string]any{"strategy": name, "enabled": on})
	}
}

func (s *LiveService) Journal() store.Journal { return s.journal }

// Close 关闭流水存储。
func (s *LiveService) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

func (s *LiveService) onBreakerChange(name string, from, to circuit.State, ev *circuit.Event) {
	if s.metrics != nil {
		s.metrics.BreakerChanged(name, from, to, ev)
	}
	rec := store.BreakerEventRecord{
		Breaker: name,
		From:    from.String(),
		To:      to.String(),
		At:      s.now().UTC(),
	}
	if ev != nil {
		rec.Trigger = ev.Trigger
		rec.Reason = ev.Reason
		rec.TriggerValue = ev.TriggerValue
		rec.Threshold = ev.Threshold
		rec.At = ev.Time
		s.log.Warn("breaker tripped", "trigger", ev.Trigger, "value", ev.TriggerValue, "threshold", ev.Threshold)
	} else {
		s.log.Info("breaker state changed", "from", from.String(), "to", to.String())
	}
	if s.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := s.journal.AppendBreakerEvent(ctx, rec); err != nil {
			s.log.Warn("journal breaker event failed", "err", err)
		}
	}
	s.publish(EventBreaker, rec)
}

func (s *LiveService) publish(kind string, data any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(Event{Type: kind, Time: s.now().UTC(), Data: data})
}
