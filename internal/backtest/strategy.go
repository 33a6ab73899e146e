package backtest

import (
	"fmt"

	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/strategy"
)

// StrategyFactory 按 run 级别创建策略实例，每次调用都返回全新的对象。
type StrategyFactory interface {
	NewStrategies(names []string) ([]strategy.Strategy, error)
}

// ConfigStrategyFactory 使用配置文件中的三类内置策略。显式点名的策略会被强制启用。
type ConfigStrategyFactory struct {
	Strategies config.StrategiesConfig
	Pricer     strategy.StopPricer
}

func (f ConfigStrategyFactory) NewStrategies(names []string) ([]strategy.Strategy, error) {
	all, err := strategy.Build(f.Strategies, f.Pricer)
	if err != nil {
		return nil, err
	}
	selected := strategy.Select(all, names...)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no strategies match %v", names)
	}
	if len(names) > 0 {
		for _, s := range selected {
			s.SetEnabled(true)
		}
	}
	return selected, nil
}

// StrategyFactoryFunc 把普通函数适配为 StrategyFactory。
type StrategyFactoryFunc func(names []string) ([]strategy.Strategy, error)

func (f StrategyFactoryFunc) NewStrategies(names []string) ([]strategy.Strategy, error) {
	return f(names)
}
