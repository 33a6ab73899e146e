package app

import (
	"fmt"
	"strings"

	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/strategy"
)

type StartupSummary struct {
	HTTPAddr   string
	Strategies []StrategySummary
	Mode       string
	Risk       config.RiskConfig
	Breaker    config.BreakerConfig
	Backtest   config.BacktestConfig
	Journal    string
}

type StrategySummary struct {
	Name        string
	Enabled     bool
	Instruments []string
	Hours       string
}

func NewStartupSummary(cfg *config.Config) *StartupSummary {
	common := []struct {
		name string
		c    config.StrategyCommon
	}{
		{strategy.NameTrend, cfg.Strategies.Trend.StrategyCommon},
		{strategy.NameMeanReversion, cfg.Strategies.MeanReversion.StrategyCommon},
		{strategy.NameBreakout, cfg.Strategies.Breakout.StrategyCommon},
	}
	s := &StartupSummary{
		HTTPAddr: cfg.App.HTTPAddr,
		Mode:     cfg.Orchestrator.Mode,
		Risk:     cfg.Risk,
		Breaker:  cfg.CircuitBreaker,
		Backtest: cfg.Backtest,
		Journal:  cfg.Store.DecisionDB,
	}
	for _, item := range common {
		s.Strategies = append(s.Strategies, StrategySummary{
			Name:        item.name,
			Enabled:     item.c.Enabled,
			Instruments: item.c.Instruments,
			Hours:       item.c.HoursStart + "-" + item.c.HoursEnd,
		})
	}
	return s
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 72)
	b.WriteString(line + "\n")
	b.WriteString("启动配置摘要 (STARTUP SUMMARY)\n")
	b.WriteString(line + "\n")
	fmt.Fprintf(&b, "[HTTP] %s  (/api/live, /api/backtest, /metrics)\n", s.HTTPAddr)
	fmt.Fprintf(&b, "[策略 (STRATEGIES)] 编排模式: %s\n", s.Mode)
	for _, st := range s.Strategies {
		state := "off"
		if st.Enabled {
			state = "on"
		}
		fmt.Fprintf(&b, "  > %-16s %-3s hours=%s instruments=%s\n", st.Name, state, st.Hours, formatList(st.Instruments))
	}
	fmt.Fprintf(&b, "[风控 (RISK)] risk/trade=%.2f%% max_size=%.2f min_rr=%.2f max_exposure=%.2f leverage=%.0f\n",
		s.Risk.RiskPerTrade*100, s.Risk.MaxPositionSize, s.Risk.MinRiskReward, s.Risk.MaxExposure, s.Risk.Leverage)
	fmt.Fprintf(&b, "[熔断 (BREAKER)] daily_loss=%.2f%% drawdown=%.2f%% consecutive_losses=%d\n",
		s.Breaker.MaxDailyLoss*100, s.Breaker.MaxDrawdown*100, s.Breaker.MaxConsecutiveLosses)
	fmt.Fprintf(&b, "[回测 (BACKTEST)] balance=%.2f slippage=%.5f commission=%.5f latency=%dms warmup=%d data=%s\n",
		s.Backtest.InitialBalance, s.Backtest.Slippage, s.Backtest.Commission, s.Backtest.LatencyMS, s.Backtest.Warmup, s.Backtest.DataDir)
	fmt.Fprintf(&b, "[流水 (JOURNAL)] %s\n", s.Journal)
	b.WriteString(line)
	return b.String()
}

// Print 经日志输出摘要，跟随 log_path 落盘。
func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
