package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/market"
)

// RunHook 在每次运行结束后调用，err 非空表示失败。
type RunHook func(run Run, result Result, err error, elapsed time.Duration)

type SimulatorConfig struct {
	Engine        *Engine
	CandleStore   *Store
	ResultStore   *ResultStore
	Fetcher       *Service // 可选：缺数据时先补齐
	MaxConcurrent int
	OnFinish      RunHook
}

// Simulator 把 RunRequest 变成持久化的回测任务：读缓存 K 线、回放、写结果。
type Simulator struct {
	engine   *Engine
	store    *Store
	results  *ResultStore
	fetcher  *Service
	onFinish RunHook
	log      *slog.Logger

	sem     chan struct{}
	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.CandleStore == nil {
		return nil, errors.New("candle store is required")
	}
	if cfg.ResultStore == nil {
		return nil, errors.New("result store is required")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		engine:   cfg.Engine,
		store:    cfg.CandleStore,
		results:  cfg.ResultStore,
		fetcher:  cfg.Fetcher,
		onFinish: cfg.OnFinish,
		log:      logger.With("simulator"),
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}, nil
}

func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

// Wait 阻塞直到所有后台运行结束。
func (s *Simulator) Wait() { s.wg.Wait() }

func (s *Simulator) Results() *ResultStore { return s.results }

func (s *Simulator) prepare(ctx context.Context, req RunRequest) (Run, Config, error) {
	cfg, err := req.Config(ConfigFromSettings(s.engine.Defaults(), ""))
	if err != nil {
		return Run{}, Config{}, err
	}
	if req.StartTS <= 0 || req.EndTS <= 0 {
		return Run{}, Config{}, errors.New("start_ts and end_ts are required")
	}
	tf, err := market.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return Run{}, Config{}, err
	}
	cfg.Timeframe = tf.Key
	if _, err := s.engine.factory.NewStrategies(cfg.Strategies); err != nil {
		return Run{}, Config{}, err
	}
	run := Run{
		ID:           uuid.NewString(),
		Instrument:   cfg.Instrument,
		Timeframe:    cfg.Timeframe,
		Status:       RunStatusPending,
		Notes:        req.Notes,
		Config:       cfg,
		FinalBalance: cfg.InitialBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.results.InsertRun(ctx, run); err != nil {
		return Run{}, Config{}, err
	}
	return run, cfg, nil
}

// StartRun 创建回测任务并立即返回，回放在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	run, cfg, err := s.prepare(s.baseCtx, req)
	if err != nil {
		return Run{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(s.baseCtx, run, cfg)
	}()
	return run, nil
}

// RunSync 同步执行一次回测，返回持久化后的 run 与完整结果。
func (s *Simulator) RunSync(ctx context.Context, req RunRequest) (Run, Result, error) {
	run, cfg, err := s.prepare(ctx, req)
	if err != nil {
		return Run{}, Result{}, err
	}
	result, err := s.execute(ctx, run, cfg)
	if err != nil {
		return run, Result{}, err
	}
	run, err = s.results.GetRun(ctx, run.ID)
	return run, result, err
}

func (s *Simulator) execute(ctx context.Context, run Run, cfg Config) (result Result, err error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		_ = s.results.UpdateRunStatus(context.Background(), run.ID, RunStatusFailed, "simulator stopped")
		return Result{}, ctx.Err()
	}
	defer func() { <-s.sem }()

	started := time.Now()
	defer func() {
		if err != nil {
			s.log.Warn("backtest run failed", "run", run.ID, "error", err)
			_ = s.results.UpdateRunStatus(context.Background(), run.ID, RunStatusFailed, err.Error())
		}
		if s.onFinish != nil {
			s.onFinish(run, result, err, time.Since(started))
		}
	}()

	if err := s.results.UpdateRunStatus(ctx, run.ID, RunStatusRunning, "loading candles"); err != nil {
		return Result{}, err
	}
	candles, engineCfg, err := s.loadCandles(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	result, err = s.engine.Run(ctx, engineCfg, candles)
	if err != nil {
		return Result{}, err
	}
	result.Config = cfg
	if err := s.results.SaveResult(ctx, run.ID, result); err != nil {
		return Result{}, fmt.Errorf("save result: %w", err)
	}
	s.log.Info("backtest run finished", "run", run.ID, "trades", len(result.Trades), "return_pct", result.TotalReturnPct)
	return result, nil
}

// loadCandles 在起点前多取 warmup 根 K 线，必要时先经 Fetcher 补齐缓存。
func (s *Simulator) loadCandles(ctx context.Context, cfg Config) ([]market.Candle, Config, error) {
	tf, err := market.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return nil, cfg, err
	}
	start := tf.Floor(cfg.Start.Add(-tf.Span(cfg.Warmup)).UnixMilli())
	end := tf.Floor(cfg.End.UnixMilli())
	if s.fetcher != nil {
		job, err := s.fetcher.Sync(ctx, FetchParams{Instrument: cfg.Instrument, Timeframe: tf.Key, Start: start, End: end})
		if err != nil {
			return nil, cfg, fmt.Errorf("sync candles: %w", err)
		}
		if job.Status == JobStatusPartial {
			s.log.Warn("candle cache still has gaps", "instrument", cfg.Instrument, "gaps", len(job.Missing))
		}
	}
	candles, err := s.store.RangeCandles(ctx, cfg.Instrument, tf.Key, start, end)
	if err != nil {
		return nil, cfg, err
	}
	if len(candles) <= cfg.Warmup {
		return nil, cfg, fmt.Errorf("only %d cached candles for %s %s, need more than warmup %d",
			len(candles), cfg.Instrument, tf.Key, cfg.Warmup)
	}
	engineCfg := cfg
	engineCfg.Start = time.UnixMilli(start).UTC()
	return candles, engineCfg, nil
}
