package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/indicator"
	"github.com/snackshell/KeenAI-Quant/internal/analysis/regime"
	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/decision"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/performance"
	"github.com/snackshell/KeenAI-Quant/internal/pipeline"
	"github.com/snackshell/KeenAI-Quant/internal/pkg/circuit"
	"github.com/snackshell/KeenAI-Quant/internal/risk"
	"github.com/snackshell/KeenAI-Quant/internal/strategy"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// Config 是单次回测的参数。余额、预热、窗口与周期为零值时取配置默认；滑点与手续费按原值使用。
type Config struct {
	Instrument     string    `json:"instrument" yaml:"instrument"`
	Timeframe      string    `json:"timeframe" yaml:"timeframe"`
	Strategies     []string  `json:"strategies,omitempty" yaml:"strategies,omitempty"`
	Start          time.Time `json:"start,omitempty" yaml:"start,omitempty"`
	End            time.Time `json:"end,omitempty" yaml:"end,omitempty"`
	InitialBalance float64   `json:"initial_balance" yaml:"initial_balance"`
	Slippage       float64   `json:"slippage" yaml:"slippage"`
	Commission     float64   `json:"commission" yaml:"commission"`
	LatencyMS      int       `json:"latency_ms" yaml:"latency_ms"`
	Warmup         int       `json:"warmup" yaml:"warmup"`
	Window         int       `json:"window" yaml:"window"`
}

// ConfigFromSettings 以配置文件的 backtest 段为默认值。
func ConfigFromSettings(cfg config.BacktestConfig, instrument string) Config {
	return Config{
		Instrument:     instrument,
		Timeframe:      cfg.Timeframe,
		InitialBalance: cfg.InitialBalance,
		Slippage:       cfg.Slippage,
		Commission:     cfg.Commission,
		LatencyMS:      cfg.LatencyMS,
		Warmup:         cfg.Warmup,
		Window:         cfg.Window,
	}
}

func (c Config) withDefaults(def config.BacktestConfig) Config {
	if c.InitialBalance <= 0 {
		c.InitialBalance = def.InitialBalance
	}
	if c.Warmup <= 0 {
		c.Warmup = def.Warmup
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if strings.TrimSpace(c.Timeframe) == "" {
		c.Timeframe = def.Timeframe
	}
	return c
}

// EquityPoint 是权益曲线上的一个点。
type EquityPoint struct {
	Time    time.Time `json:"time" yaml:"time"`
	Equity  float64   `json:"equity" yaml:"equity"`
	Balance float64   `json:"balance" yaml:"balance"`
	Halted  bool      `json:"halted,omitempty" yaml:"halted,omitempty"` // 该 K 线结束时熔断器禁止开仓
}

// Rejection 记录被风控或熔断拦下的信号。
type Rejection struct {
	Time     time.Time      `json:"time" yaml:"time"`
	Strategy string         `json:"strategy" yaml:"strategy"`
	Stage    pipeline.Stage `json:"stage" yaml:"stage"`
	Reason   string         `json:"reason" yaml:"reason"`
}

// Result 在一次回测结束后生成，之后只读。
type Result struct {
	Config         Config              `json:"config" yaml:"config"`
	Trades         []types.Trade       `json:"trades" yaml:"trades"`
	Equity         []EquityPoint       `json:"equity" yaml:"equity"`
	Metrics        performance.Metrics `json:"metrics" yaml:"metrics"`
	FinalBalance   float64             `json:"final_balance" yaml:"final_balance"`
	TotalReturnPct float64             `json:"total_return_pct" yaml:"total_return_pct"`
	Candles        int                 `json:"candles" yaml:"candles"`
	Signals        int                 `json:"signals" yaml:"signals"`
	Rejections     []Rejection         `json:"rejections,omitempty" yaml:"rejections,omitempty"`
	BreakerEvents  []circuit.Event     `json:"breaker_events,omitempty" yaml:"breaker_events,omitempty"`
	BreakerState   circuit.State       `json:"breaker_state" yaml:"-"`
	HaltedBars     int                 `json:"halted_bars" yaml:"halted_bars"`
	StrategyStats  []strategy.Stats    `json:"strategy_stats,omitempty" yaml:"strategy_stats,omitempty"`
}

// EquityCurve 返回权益序列。
func (r Result) EquityCurve() []float64 {
	out := make([]float64, len(r.Equity))
	for i, p := range r.Equity {
		out[i] = p.Equity
	}
	return out
}

// Engine 用配置文件中的指标、策略、风控、熔断参数为每次运行构造全新的交易会话。
type Engine struct {
	cfg      config.Config
	assessor *risk.Assessor
	factory  StrategyFactory
	log      *slog.Logger
}

// EngineOption 调整 Engine。
type EngineOption func(*Engine)

// WithStrategyFactory 替换默认的配置策略工厂。
func WithStrategyFactory(f StrategyFactory) EngineOption {
	return func(e *Engine) {
		if f != nil {
			e.factory = f
		}
	}
}

func NewEngine(cfg *config.Config, opts ...EngineOption) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{cfg: *cfg, log: logger.With("backtest")}
	e.assessor = risk.NewAssessor(risk.SettingsFromConfig(e.cfg.Risk))
	e.factory = ConfigStrategyFactory{Strategies: e.cfg.Strategies, Pricer: e.assessor}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Defaults 返回回测默认参数。
func (e *Engine) Defaults() config.BacktestConfig { return e.cfg.Backtest }

// NewSession 构造一次运行私有的会话：新策略实例、新 StateBook、使用 clock 的熔断器。
func (e *Engine) NewSession(names []string, window int, clock func() time.Time) (*pipeline.Pipeline, error) {
	selected, err := e.factory.NewStrategies(names)
	if err != nil {
		return nil, err
	}
	builder := strategy.ContextBuilder{
		Indicators: indicator.SettingsFromConfig(e.cfg.Indicators),
		Classifier: regime.NewClassifier(regime.SettingsFromConfig(e.cfg.Regime, e.cfg.Indicators)),
		Window:     window,
	}
	breaker := circuit.NewCircuitBreaker("backtest", circuit.SettingsFromConfig(e.cfg.CircuitBreaker), circuit.WithClock(clock))
	return pipeline.New("backtest", builder,
		decision.New(selected, e.cfg.Orchestrator),
		e.assessor,
		breaker,
	), nil
}

// Run 在 candles 上单遍回放决策流程。相同输入总是产生相同结果。
func (e *Engine) Run(ctx context.Context, cfg Config, candles []market.Candle) (Result, error) {
	cfg = cfg.withDefaults(e.cfg.Backtest)
	series, err := prepareSeries(cfg, candles)
	if err != nil {
		return Result{}, err
	}
	var now time.Time
	session, err := e.NewSession(cfg.Strategies, cfg.Window, func() time.Time { return now })
	if err != nil {
		return Result{}, err
	}
	r := &replay{
		cfg:     cfg,
		session: session,
		balance: cfg.InitialBalance,
		nextBar: fillsOnNextBar(cfg),
		result:  Result{Config: cfg, Candles: len(series)},
	}
	r.result.Equity = append(r.result.Equity, EquityPoint{Time: series[0].Time(), Equity: cfg.InitialBalance, Balance: cfg.InitialBalance})
	e.log.Debug("backtest started", "instrument", cfg.Instrument, "candles", len(series), "next_bar_fill", r.nextBar)

	for i, c := range series {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		now = c.Time()
		if i < cfg.Warmup {
			continue
		}
		if err := r.step(series, i); err != nil {
			return Result{}, err
		}
	}
	r.finish(series[len(series)-1])

	out := r.result
	out.FinalBalance = r.balance
	out.TotalReturnPct = (r.balance - cfg.InitialBalance) / cfg.InitialBalance * 100
	out.Metrics = performance.Analyze(out.Trades, out.EquityCurve(), cfg.InitialBalance)
	out.Metrics.KellyFraction = e.assessor.KellyFraction(out.Metrics.WinRate, out.Metrics.AvgWin, out.Metrics.AvgLoss)
	status := session.Breaker().Status()
	out.BreakerEvents = status.History
	out.BreakerState = status.State
	out.StrategyStats = session.Orchestrator().Stats()
	e.log.Info("backtest finished", "instrument", cfg.Instrument, "trades", len(out.Trades),
		"final_balance", out.FinalBalance, "return_pct", out.TotalReturnPct)
	return out, nil
}

func prepareSeries(cfg Config, candles []market.Candle) ([]market.Candle, error) {
	if strings.TrimSpace(cfg.Instrument) == "" {
		return nil, errors.New("instrument is required")
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive, got %v", cfg.InitialBalance)
	}
	if cfg.Slippage < 0 || cfg.Commission < 0 {
		return nil, fmt.Errorf("slippage and commission must be >= 0, got %v / %v", cfg.Slippage, cfg.Commission)
	}
	series := make([]market.Candle, 0, len(candles))
	for _, c := range candles {
		t := c.Time()
		if !cfg.Start.IsZero() && t.Before(cfg.Start) {
			continue
		}
		if !cfg.End.IsZero() && t.After(cfg.End) {
			continue
		}
		c.Symbol = cfg.Instrument
		series = append(series, c)
	}
	if len(series) == 0 {
		return nil, errors.New("no candles in range")
	}
	if err := market.ValidateSeries(series); err != nil {
		return nil, err
	}
	return series, nil
}

// fillsOnNextBar：延迟不短于一根 K 线时，信号在下一根开盘成交，否则在决策 K 线收盘成交。
func fillsOnNextBar(cfg Config) bool {
	if cfg.LatencyMS <= 0 {
		return false
	}
	tf, err := market.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return false
	}
	return int64(cfg.LatencyMS) >= tf.DurationMillis()
}

// openPosition 是回测中唯一的模拟持仓。
type openPosition struct {
	types.Position
	quote float64
}

type replay struct {
	cfg     Config
	session *pipeline.Pipeline
	balance float64
	nextBar bool

	pos      *openPosition
	pending  *types.TradingSignal
	day      string
	realized float64
	tradeID  int

	result Result
}

func (r *replay) step(series []market.Candle, i int) error {
	c := series[i]
	if day := c.Time().Format("2006-01-02"); day != r.day {
		r.day = day
		r.realized = 0
	}
	if r.pending != nil {
		sig := *r.pending
		r.pending = nil
		r.execute(sig, c.Open, c.Time())
	}
	r.checkExits(c)

	start := 0
	if r.cfg.Window > 0 && i+1 > r.cfg.Window {
		start = i + 1 - r.cfg.Window
	}
	ev, err := r.session.Decide(series[start:i+1], r.account(c.Close))
	switch {
	case pipeline.IsInsufficientData(err):
	case err != nil:
		return err
	case ev.Decision.Signal != nil:
		r.result.Signals++
		sig := *ev.Decision.Signal
		if r.nextBar {
			r.pending = &sig
		} else {
			r.execute(sig, c.Close, c.Time())
		}
	}

	acct := r.account(c.Close)
	point := EquityPoint{Time: c.Time(), Equity: acct.Equity, Balance: r.balance}
	if err := r.session.Observe(acct); err != nil {
		point.Halted = true
		r.result.HaltedBars++
	}
	r.result.Equity = append(r.result.Equity, point)
	return nil
}

// execute 处理一个已消解的信号：反向持仓先平，再经风控与熔断审批后开仓。同向持仓不加仓。
func (r *replay) execute(sig types.TradingSignal, price float64, at time.Time) {
	if r.pos != nil {
		if r.pos.Direction == sig.Direction {
			return
		}
		r.closePosition(price, at, types.ExitSignal)
	}
	quote := price
	sig.EntryPrice = r.slip(quote, sig.Direction, true)
	sig.Timestamp = at

	var ev pipeline.Evaluation
	r.session.Approve(&ev, sig, r.account(quote))
	if !ev.Approved {
		r.result.Rejections = append(r.result.Rejections, Rejection{Time: at, Strategy: sig.Strategy, Stage: ev.Stage, Reason: ev.Reason})
		return
	}
	approved := ev.Signal
	r.pos = &openPosition{
		Position: types.Position{
			Instrument: approved.Instrument,
			Direction:  approved.Direction,
			Size:       approved.Size,
			EntryPrice: approved.EntryPrice,
			StopLoss:   approved.StopLoss,
			TakeProfit: approved.TakeProfit,
			OpenedAt:   at,
			Strategy:   approved.Strategy,
		},
		quote: quote,
	}
}

// checkExits 用 K 线高低点判断止损/止盈，同一根内先判止损。开盘已越过价位时按开盘价成交。
func (r *replay) checkExits(c market.Candle) {
	if r.pos == nil {
		return
	}
	p := r.pos.Position
	switch {
	case risk.StopHit(p.Direction, c.High, c.Low, p.StopLoss):
		r.closePosition(gapFill(p.Direction, c.Open, p.StopLoss, true), c.Time(), types.ExitStopLoss)
	case risk.TargetHit(p.Direction, c.High, c.Low, p.TakeProfit):
		r.closePosition(gapFill(p.Direction, c.Open, p.TakeProfit, false), c.Time(), types.ExitTakeProfit)
	}
}

func gapFill(dir types.Direction, open, level float64, stop bool) float64 {
	long := dir == types.Buy
	switch {
	case stop && long && open < level, stop && !long && open > level:
		return open
	case !stop && long && open > level, !stop && !long && open < level:
		return open
	}
	return level
}

func (r *replay) closePosition(price float64, at time.Time, reason string) {
	p := r.pos.Position
	exit := r.slip(price, p.Direction, false)
	pnl := (exit - p.EntryPrice) * p.Size * p.Direction.Sign()
	commission := (p.EntryPrice + exit) * p.Size * r.cfg.Commission
	pnl -= commission

	r.tradeID++
	r.result.Trades = append(r.result.Trades, types.Trade{
		ID:         r.tradeID,
		Instrument: p.Instrument,
		Direction:  p.Direction,
		Strategy:   p.Strategy,
		EntryTime:  p.OpenedAt,
		ExitTime:   at,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exit,
		Size:       p.Size,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		PnL:        pnl,
		Commission: commission,
		Slippage:   (math.Abs(p.EntryPrice-r.pos.quote) + math.Abs(price-exit)) * p.Size,
		ExitReason: reason,
	})
	r.balance += pnl
	r.realized += pnl
	r.pos = nil
	r.session.RecordTrade(p.Strategy, pnl)
}

// slip 让成交价朝不利方向偏移：买入开仓/卖出平仓上移，反之下移。
func (r *replay) slip(price float64, dir types.Direction, entry bool) float64 {
	up := dir == types.Buy
	if !entry {
		up = !up
	}
	if up {
		return price * (1 + r.cfg.Slippage)
	}
	return price * (1 - r.cfg.Slippage)
}

// account 以 mark 估值构造账户快照，供风控与熔断使用。
func (r *replay) account(mark float64) types.Account {
	acct := types.Account{Balance: r.balance, Equity: r.balance, RealizedPnLToday: r.realized}
	if r.pos != nil {
		p := r.pos.Position
		p.MarkPrice = mark
		acct.UnrealizedPnL = p.UnrealizedPnL(mark)
		acct.Equity += acct.UnrealizedPnL
		acct.Positions = []types.Position{p}
		acct.MarginUsed = r.session.Assessor().RequiredMargin(p.Size, mark)
	}
	acct.MarginAvailable = acct.Equity - acct.MarginUsed
	return acct
}

// finish 在数据末尾按最后收盘价强制平仓，并把最后一个权益点改为已实现余额。
func (r *replay) finish(last market.Candle) {
	r.pending = nil
	if r.pos == nil {
		return
	}
	r.closePosition(last.Close, last.Time(), types.ExitEndOfData)
	if n := len(r.result.Equity); n > 1 {
		r.result.Equity[n-1].Equity = r.balance
		r.result.Equity[n-1].Balance = r.balance
	}
}
