// Package strategy 定义信号策略接口及三类内置策略（趋势跟随、均值回归、通道突破）。
package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/risk"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// 内置策略名，与 orchestrator.weights 的键一致。
const (
	NameTrend         = "trend_following"
	NameMeanReversion = "mean_reversion"
	NameBreakout      = "breakout"
)

// Strategy 是所有策略的公共能力。Analyze 只能修改传入的 State。
type Strategy interface {
	Name() string
	Instruments() []string
	MinConfidence() float64
	Analyze(ctx MarketContext, st *State) Result
	ShouldTrade(instrument string, at time.Time) bool

	Enabled() bool
	SetEnabled(enabled bool)
	RecordSignal()
	RecordOutcome(pnl float64)
	Stats() Stats
}

// StopPricer 推导止损与止盈价位，由 *risk.Assessor 实现。
type StopPricer interface {
	StopFromATR(entry, atr, multiplier float64, dir types.Direction) (float64, error)
	TakeProfit(entry, stop, ratio float64, dir types.Direction) (float64, error)
}

// Result 是一次分析的输出。Signal 为 nil 表示不交易。
type Result struct {
	Signal     *types.TradingSignal `json:"signal,omitempty"`
	Confidence float64              `json:"confidence"`
	Reasoning  string               `json:"reasoning"`
	Metadata   map[string]float64   `json:"metadata,omitempty"`
}

func skip(format string, args ...any) Result {
	return Result{Reasoning: fmt.Sprintf(format, args...)}
}

// Stats 是策略维度的累计表现。
type Stats struct {
	Name      string  `json:"name"`
	Enabled   bool    `json:"enabled"`
	Signals   int     `json:"signals"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	BreakEven int     `json:"break_even"`
	TotalPnL  float64 `json:"total_pnl"`
}

// WinRate 返回胜率（保本单计入分母），无成交时为 0。
func (s Stats) WinRate() float64 {
	closed := s.Wins + s.Losses + s.BreakEven
	if closed == 0 {
		return 0
	}
	return float64(s.Wins) / float64(closed)
}

// base 承载开关、品种过滤、交易时段与统计。
type base struct {
	name          string
	instruments   map[string]struct{}
	instrumentSeq []string
	minConfidence float64
	hours         Window
	pricer        StopPricer

	mu      sync.RWMutex
	enabled bool
	stats   Stats
}

// newBase 在 pricer 为 nil 时使用默认风控参数的 Assessor。
func newBase(name string, cfg config.StrategyCommon, pricer StopPricer) (*base, error) {
	hours, err := ParseWindow(cfg.HoursStart, cfg.HoursEnd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if pricer == nil {
		pricer = risk.NewAssessor(risk.DefaultSettings())
	}
	b := &base{
		name:          name,
		instruments:   make(map[string]struct{}, len(cfg.Instruments)),
		minConfidence: cfg.MinConfidence,
		hours:         hours,
		pricer:        pricer,
		enabled:       cfg.Enabled,
	}
	for _, inst := range cfg.Instruments {
		if _, ok := b.instruments[inst]; ok {
			continue
		}
		b.instruments[inst] = struct{}{}
		b.instrumentSeq = append(b.instrumentSeq, inst)
	}
	return b, nil
}

func (b *base) Name() string           { return b.name }
func (b *base) MinConfidence() float64 { return b.minConfidence }

func (b *base) Instruments() []string {
	return append([]string(nil), b.instrumentSeq...)
}

func (b *base) supports(instrument string) bool {
	_, ok := b.instruments[instrument]
	return ok
}

// ShouldTrade 要求品种受支持、策略启用且时间落在交易时段内（UTC）。
func (b *base) ShouldTrade(instrument string, at time.Time) bool {
	if !b.supports(instrument) || !b.Enabled() {
		return false
	}
	return b.hours.Contains(at)
}

func (b *base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

func (b *base) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	b.mu.Unlock()
}

func (b *base) RecordSignal() {
	b.mu.Lock()
	b.stats.Signals++
	b.mu.Unlock()
}

// RecordOutcome 由平仓回调调用：pnl>0 计盈利，pnl<0 计亏损，pnl==0 记为保本，
// 与熔断器连亏计数的口径一致。
func (b *base) RecordOutcome(pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case pnl > 0:
		b.stats.Wins++
	case pnl < 0:
		b.stats.Losses++
	default:
		b.stats.BreakEven++
	}
	b.stats.TotalPnL += pnl
}

func (b *base) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := b.stats
	out.Name = b.name
	out.Enabled = b.enabled
	return out
}

func (b *base) signal(ctx MarketContext, dir types.Direction, confidence, stop, target float64, reasoning string) *types.TradingSignal {
	return &types.TradingSignal{
		Instrument: ctx.Instrument,
		Direction:  dir,
		Confidence: clampUnit(confidence),
		EntryPrice: ctx.Price,
		StopLoss:   stop,
		TakeProfit: target,
		Reasoning:  reasoning,
		Strategy:   b.name,
		Timestamp:  ctx.Time,
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
