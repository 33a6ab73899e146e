// Package decision 运行全部启用的策略，并把候选信号消解为至多一个交易信号。
package decision

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/strategy"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// Mode 选择冲突消解规则。
type Mode string

const (
	// ModeConfidence：同向取最高置信度，多空混合则取消。
	ModeConfidence Mode = "confidence"
	// ModeWeightedVote：按权重投票，面向多策略集成。
	ModeWeightedVote Mode = "weighted_vote"
)

// Outcome 是单个策略在本周期的输出。
type Outcome struct {
	Strategy string          `json:"strategy"`
	Result   strategy.Result `json:"result"`
}

// Decision 是消解后的结果。Signal 为 nil 表示不交易，Reason 说明原因。
type Decision struct {
	Signal   *types.TradingSignal `json:"signal,omitempty"`
	Reason   string               `json:"reason"`
	Outcomes []Outcome            `json:"outcomes,omitempty"`
	Votes    *VoteBreakdown       `json:"votes,omitempty"`
}

// Orchestrator 持有策略集合，本身不保存任何按品种的状态。
type Orchestrator struct {
	mu         sync.RWMutex
	strategies []strategy.Strategy
	mode       Mode
	weights    map[string]float64
	threshold  float64
	log        *slog.Logger
}

// New 按配置构造编排器。
func New(strategies []strategy.Strategy, cfg config.OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		strategies: strategies,
		mode:       Mode(strings.ToLower(strings.TrimSpace(cfg.Mode))),
		weights:    make(map[string]float64, len(cfg.Weights)),
		threshold:  cfg.VoteThreshold,
		log:        logger.With("orchestrator"),
	}
	if o.mode == "" {
		o.mode = ModeConfidence
	}
	for k, v := range cfg.Weights {
		o.weights[strings.ToLower(k)] = v
	}
	return o
}

func (o *Orchestrator) Mode() Mode { return o.mode }

// Strategies 返回注册的策略（副本）。
func (o *Orchestrator) Strategies() []strategy.Strategy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]strategy.Strategy(nil), o.strategies...)
}

// Strategy 按名称查找策略。
func (o *Orchestrator) Strategy(name string) (strategy.Strategy, bool) {
	for _, s := range o.Strategies() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// SetEnabled 启用或停用策略，未知名称返回错误。
func (o *Orchestrator) SetEnabled(name string, enabled bool) error {
	s, ok := o.Strategy(name)
	if !ok {
		return fmt.Errorf("unknown strategy %q", name)
	}
	s.SetEnabled(enabled)
	o.log.Info("strategy toggled", "strategy", name, "enabled", enabled)
	return nil
}

// Stats 汇总各策略统计，按名称排序。
func (o *Orchestrator) Stats() []strategy.Stats {
	list := o.Strategies()
	out := make([]strategy.Stats, 0, len(list))
	for _, s := range list {
		out = append(out, s.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run 对所有 ShouldTrade 通过的策略执行 Analyze，状态从 book 中按 (策略, 品种) 取得。
func (o *Orchestrator) Run(ctx strategy.MarketContext, book *strategy.StateBook) []Outcome {
	var outcomes []Outcome
	for _, s := range o.Strategies() {
		if !s.ShouldTrade(ctx.Instrument, ctx.Time) {
			continue
		}
		res := s.Analyze(ctx, book.For(s.Name(), ctx.Instrument))
		if res.Signal != nil {
			s.RecordSignal()
		}
		outcomes = append(outcomes, Outcome{Strategy: s.Name(), Result: res})
	}
	return outcomes
}

// Evaluate 运行策略并按当前模式消解冲突。
func (o *Orchestrator) Evaluate(ctx strategy.MarketContext, book *strategy.StateBook) Decision {
	outcomes := o.Run(ctx, book)
	d := o.Resolve(outcomes)
	d.Outcomes = outcomes
	if d.Signal != nil {
		o.log.Debug("signal resolved", "instrument", ctx.Instrument, "direction", d.Signal.Direction,
			"strategy", d.Signal.Strategy, "confidence", d.Signal.Confidence)
	}
	return d
}

// Resolve 消解一个周期的候选信号。
func (o *Orchestrator) Resolve(outcomes []Outcome) Decision {
	signals := make([]types.TradingSignal, 0, len(outcomes))
	for _, oc := range outcomes {
		if oc.Result.Signal != nil && oc.Result.Signal.IsActionable() {
			signals = append(signals, *oc.Result.Signal)
		}
	}
	if o.mode == ModeWeightedVote {
		sig, breakdown, reason := ResolveByVote(signals, o.weights, o.threshold)
		return Decision{Signal: sig, Reason: reason, Votes: breakdown}
	}
	sig, reason := ResolveByConfidence(signals)
	return Decision{Signal: sig, Reason: reason}
}

// ResolveByConfidence：0 个信号不交易；1 个原样返回；多空混合取消；同向取最高置信度（并列取先出现者），
// 不对价格或目标做平均。
func ResolveByConfidence(signals []types.TradingSignal) (*types.TradingSignal, string) {
	switch len(signals) {
	case 0:
		return nil, "no signals"
	case 1:
		s := signals[0]
		return &s, "single signal from " + s.Strategy
	}
	buys, sells := splitByDirection(signals)
	if len(buys) > 0 && len(sells) > 0 {
		return nil, fmt.Sprintf("conflicting signals: %d BUY vs %d SELL", len(buys), len(sells))
	}
	side := buys
	if len(side) == 0 {
		side = sells
	}
	best := highestConfidence(side)
	return &best, fmt.Sprintf("%d %s signals, highest confidence from %s", len(side), best.Direction, best.Strategy)
}

func splitByDirection(signals []types.TradingSignal) (buys, sells []types.TradingSignal) {
	for _, s := range signals {
		switch s.Direction {
		case types.Buy:
			buys = append(buys, s)
		case types.Sell:
			sells = append(sells, s)
		}
	}
	return buys, sells
}

func highestConfidence(signals []types.TradingSignal) types.TradingSignal {
	best := signals[0]
	for _, s := range signals[1:] {
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	return best
}
