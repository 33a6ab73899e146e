package backtest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/performance"
)

// Job 是批量回测中的一项，Name 用于结果比较。
type Job struct {
	Name    string
	Config  Config
	Candles []market.Candle
}

// BatchResult 保存各 Job 的结果（与输入同序）及按 Sharpe 的比较。
type BatchResult struct {
	Results    []Result               `json:"results"`
	Comparison performance.Comparison `json:"comparison"`
}

// RunBatch 并行执行相互独立的回测，每个 Job 都有自己的会话。任一失败即取消其余。
func (e *Engine) RunBatch(ctx context.Context, jobs []Job, limit int) (BatchResult, error) {
	results := make([]Result, len(jobs))
	group, groupCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}
	for i := range jobs {
		i := i
		group.Go(func() error {
			res, err := e.Run(groupCtx, jobs[i].Config, jobs[i].Candles)
			if err != nil {
				return fmt.Errorf("job %s: %w", jobs[i].Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return BatchResult{}, err
	}
	byName := make(map[string]performance.Metrics, len(jobs))
	for i, job := range jobs {
		name := job.Name
		if name == "" {
			name = fmt.Sprintf("job-%d", i)
		}
		byName[name] = results[i].Metrics
	}
	return BatchResult{Results: results, Comparison: performance.Compare(byName)}, nil
}
