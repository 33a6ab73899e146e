package app

import (
	"context"
	"fmt"

	"github.com/snackshell/KeenAI-Quant/internal/agent"
	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	livehttp "github.com/snackshell/KeenAI-Quant/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动实时决策与回测 HTTP 服务。
type App struct {
	cfg      *config.Config
	live     *agent.LiveService
	hub      *livehttp.Hub
	backtest *BacktestService
	http     *livehttp.Server
	watcher  *config.Watcher
	cleanup  func()
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	a, cleanup, err := buildAppWithWire(cfg)
	if err != nil {
		return nil, err
	}
	a.cleanup = cleanup
	return a, nil
}

// Watch 热加载配置文件，变更后重新应用策略开关。
func (a *App) Watch(path string) error {
	w, err := config.Watch(path)
	if err != nil {
		return err
	}
	w.Subscribe(a.live.ApplyConfig)
	a.watcher = w
	return nil
}

// Run 启动 websocket hub 与 HTTP 服务，阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	a.backtest.Start(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close 释放存储。
func (a *App) Close() {
	if a == nil || a.cleanup == nil {
		return
	}
	a.cleanup()
	a.cleanup = nil
}

func (a *App) Config() *config.Config         { return a.cfg }
func (a *App) LiveService() *agent.LiveService { return a.live }
func (a *App) Backtest() *BacktestService      { return a.backtest }
func (a *App) HTTP() *livehttp.Server          { return a.http }
