package app

import (
	"context"

	"github.com/snackshell/KeenAI-Quant/internal/backtest"
)

// BacktestService 持有回测数据缓存、拉取服务、模拟器与结果库。
type BacktestService struct {
	store   *backtest.Store
	results *backtest.ResultStore
	svc     *backtest.Service
	sim     *backtest.Simulator
	engine  *backtest.Engine
}

// Start 绑定后台任务使用的上下文。
func (b *BacktestService) Start(ctx context.Context) {
	if b == nil {
		return
	}
	if b.svc != nil {
		b.svc.SetContext(ctx)
	}
	if b.sim != nil {
		b.sim.SetContext(ctx)
	}
}

// Close 等待进行中的回测后释放存储。
func (b *BacktestService) Close() {
	if b == nil {
		return
	}
	if b.sim != nil {
		b.sim.Wait()
	}
	if b.results != nil {
		_ = b.results.Close()
	}
	if b.store != nil {
		_ = b.store.Close()
	}
}

func (b *BacktestService) Service() *backtest.Service     { return b.svc }
func (b *BacktestService) Simulator() *backtest.Simulator { return b.sim }
func (b *BacktestService) Engine() *backtest.Engine       { return b.engine }
