package app

import (
	"fmt"
	"strings"

	"github.com/snackshell/KeenAI-Quant/internal/agent"
	"github.com/snackshell/KeenAI-Quant/internal/backtest"
	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/metrics"
	"github.com/snackshell/KeenAI-Quant/internal/store"
	"github.com/snackshell/KeenAI-Quant/internal/store/gormstore"
	backtesthttp "github.com/snackshell/KeenAI-Quant/internal/transport/http/backtest"
	livehttp "github.com/snackshell/KeenAI-Quant/internal/transport/http/live"
)

func provideMetrics() *metrics.Metrics {
	return metrics.New(nil)
}

func provideJournal(cfg *config.Config) (store.Journal, func(), error) {
	journal, err := gormstore.NewGormStore(cfg.Store.DecisionDB)
	if err != nil {
		return nil, nil, fmt.Errorf("open decision journal: %w", err)
	}
	logger.Infof("✓ decision journal: %s", cfg.Store.DecisionDB)
	return journal, func() { _ = journal.Close() }, nil
}

func provideHub() *livehttp.Hub {
	return livehttp.NewHub()
}

func provideLiveService(cfg *config.Config, journal store.Journal, m *metrics.Metrics, hub *livehttp.Hub) (*agent.LiveService, error) {
	return agent.NewLiveService(agent.LiveServiceParams{
		Config:    cfg,
		Journal:   journal,
		Metrics:   m,
		Publisher: hub,
	})
}

// candleSources 按 market.source 构造远端数据源，目前支持 binance。
func candleSources(cfg config.MarketConfig) (map[string]backtest.CandleSource, string, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Source))
	switch name {
	case "", "binance":
		src := backtest.NewBinanceSource(cfg.RESTBaseURL)
		return map[string]backtest.CandleSource{src.Name(): src}, src.Name(), nil
	default:
		return nil, "", fmt.Errorf("unsupported market source %q", cfg.Source)
	}
}

func provideBacktestService(cfg *config.Config, m *metrics.Metrics) (*BacktestService, func(), error) {
	bt := &BacktestService{}
	st, err := backtest.NewStore(cfg.Backtest.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open candle store: %w", err)
	}
	bt.store = st
	results, err := backtest.NewResultStore(cfg.Backtest.DataDir)
	if err != nil {
		bt.Close()
		return nil, nil, fmt.Errorf("open result store: %w", err)
	}
	bt.results = results

	sources, defSource, err := candleSources(cfg.Market)
	if err != nil {
		bt.Close()
		return nil, nil, err
	}
	bt.svc, err = backtest.NewService(backtest.ServiceConfig{
		Store:           st,
		Sources:         sources,
		DefaultSource:   defSource,
		RateLimitPerMin: cfg.Market.RateLimitPerMin,
		MaxBatch:        cfg.Market.MaxBatch,
		MaxConcurrent:   cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		bt.Close()
		return nil, nil, err
	}
	bt.engine = backtest.NewEngine(cfg)
	bt.sim, err = backtest.NewSimulator(backtest.SimulatorConfig{
		Engine:        bt.engine,
		CandleStore:   st,
		ResultStore:   results,
		Fetcher:       bt.svc,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
		OnFinish:      m.ObserveRun,
	})
	if err != nil {
		bt.Close()
		return nil, nil, err
	}
	logger.Infof("✓ backtest data dir: %s (source=%s)", cfg.Backtest.DataDir, defSource)
	return bt, bt.Close, nil
}

func provideBacktestRouter(bt *BacktestService) (*backtesthttp.Router, error) {
	return backtesthttp.NewRouter(backtesthttp.Config{Service: bt.svc, Simulator: bt.sim})
}

func provideLiveRouter(live *agent.LiveService, journal store.Journal, hub *livehttp.Hub) *livehttp.Router {
	return livehttp.NewRouter(live, journal, hub)
}

func provideHTTPServer(cfg *config.Config, live *livehttp.Router, bt *backtesthttp.Router, m *metrics.Metrics) (*livehttp.Server, error) {
	return livehttp.NewServer(livehttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Live:     live,
		Backtest: bt,
		Metrics:  m.Handler(),
	})
}

func provideApp(cfg *config.Config, live *agent.LiveService, hub *livehttp.Hub, bt *BacktestService, server *livehttp.Server) *App {
	return &App{
		cfg:      cfg,
		live:     live,
		hub:      hub,
		backtest: bt,
		http:     server,
		Summary:  NewStartupSummary(cfg),
	}
}
