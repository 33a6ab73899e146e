package strategy

import (
	"github.com/snackshell/KeenAI-Quant/internal/config"
)

// Build 按配置构造三类内置策略（包括已禁用的，以便运行期启用），止损止盈统一由 pricer 推导。
func Build(cfg config.StrategiesConfig, pricer StopPricer) ([]Strategy, error) {
	trend, err := NewTrendFollowing(cfg.Trend, pricer)
	if err != nil {
		return nil, err
	}
	meanRev, err := NewMeanReversion(cfg.MeanReversion, pricer)
	if err != nil {
		return nil, err
	}
	breakout, err := NewBreakout(cfg.Breakout, pricer)
	if err != nil {
		return nil, err
	}
	return []Strategy{trend, meanRev, breakout}, nil
}

// Select 仅保留 names 中列出的策略；names 为空时返回全部。
func Select(all []Strategy, names ...string) []Strategy {
	if len(names) == 0 {
		return all
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}
	var out []Strategy
	for _, s := range all {
		if _, ok := want[s.Name()]; ok {
			out = append(out, s)
		}
	}
	return out
}
