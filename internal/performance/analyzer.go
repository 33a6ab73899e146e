// Package performance 把成交列表与权益曲线归约为绩效指标。
package performance

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// TradingDaysPerYear 用于年化 Sharpe。
const TradingDaysPerYear = 252

// Metrics 汇总一次回测的表现。百分比字段以 % 表示，WinRate 为 0~1。
type Metrics struct {
	TotalReturnPct     float64 `json:"total_return_pct" yaml:"total_return_pct"`
	SharpeRatio        float64 `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	MaxDrawdownPct     float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	WinRate            float64 `json:"win_rate" yaml:"win_rate"`
	ProfitFactor       float64 `json:"profit_factor" yaml:"profit_factor"`
	AvgWin             float64 `json:"avg_win" yaml:"avg_win"`
	AvgLoss            float64 `json:"avg_loss" yaml:"avg_loss"`
	LargestWin         float64 `json:"largest_win" yaml:"largest_win"`
	LargestLoss        float64 `json:"largest_loss" yaml:"largest_loss"`
	TotalTrades        int     `json:"total_trades" yaml:"total_trades"`
	WinningTrades      int     `json:"winning_trades" yaml:"winning_trades"`
	LosingTrades       int     `json:"losing_trades" yaml:"losing_trades"`
	BreakEvenTrades    int     `json:"break_even_trades" yaml:"break_even_trades"`
	AvgDurationHours   float64 `json:"avg_trade_duration_hours" yaml:"avg_trade_duration_hours"`
	TotalCommission    float64 `json:"total_commission" yaml:"total_commission"`
	NetProfit          float64 `json:"net_profit" yaml:"net_profit"`
	ExpectancyPerTrade float64 `json:"expectancy_per_trade" yaml:"expectancy_per_trade"`
	// 半凯利建议仓位比例，由回测引擎按风控上限填写
	KellyFraction      float64 `json:"kelly_fraction" yaml:"kelly_fraction"`
}

// Analyze 计算全部指标。没有成交时返回全零指标。
func Analyze(trades []types.Trade, equity []float64, initial float64) Metrics {
	if len(trades) == 0 {
		return Metrics{}
	}
	var m Metrics
	if len(equity) > 0 && initial != 0 {
		m.TotalReturnPct = (equity[len(equity)-1] - initial) / initial * 100
	}
	m.SharpeRatio = Sharpe(Returns(equity))
	m.MaxDrawdownPct = MaxDrawdown(equity) * 100

	var (
		wins, losses        []float64
		grossWin, grossLoss float64
		durations           []float64
	)
	for _, t := range trades {
		switch {
		case t.IsWin():
			wins = append(wins, t.PnL)
			grossWin += t.PnL
		case t.PnL < 0:
			losses = append(losses, t.PnL)
			grossLoss += t.PnL
		default:
			m.BreakEvenTrades++
		}
		m.TotalCommission += t.Commission
		m.NetProfit += t.PnL
		if !t.ExitTime.IsZero() {
			durations = append(durations, t.Duration().Hours())
		}
	}
	m.TotalTrades = len(trades)
	m.WinningTrades = len(wins)
	m.LosingTrades = len(losses)
	m.WinRate = float64(len(wins)) / float64(len(trades))
	if grossLoss != 0 {
		m.ProfitFactor = grossWin / math.Abs(grossLoss)
	}
	if len(wins) > 0 {
		m.AvgWin = stat.Mean(wins, nil)
		m.LargestWin = floats.Max(wins)
	}
	if len(losses) > 0 {
		m.AvgLoss = stat.Mean(losses, nil)
		m.LargestLoss = floats.Min(losses)
	}
	if len(durations) > 0 {
		m.AvgDurationHours = stat.Mean(durations, nil)
	}
	m.ExpectancyPerTrade = m.NetProfit / float64(len(trades))
	return m
}

// Returns 计算逐步收益率 (e[i]-e[i-1])/e[i-1]，跳过前值为 0 的点。
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, (equity[i]-equity[i-1])/equity[i-1])
	}
	return out
}

// Sharpe = mean/std × sqrt(252)，std 为总体标准差；样本少于 2 或 std 为 0 时返回 0。
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// MaxDrawdown 返回 max((peak-equity)/peak)，为 0~1 的比例。
func MaxDrawdown(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	peak := equity[0]
	worst := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - e) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// Ranked 是 Compare 的单项结果。
type Ranked struct {
	Name    string  `json:"name"`
	Metrics Metrics `json:"metrics"`
}

// Comparison 按 Sharpe 与收益两种口径排序。
type Comparison struct {
	Best     string   `json:"best"`
	BySharpe []Ranked `json:"by_sharpe"`
	ByReturn []Ranked `json:"by_return"`
}

// Compare 以 Sharpe 最高者为最佳（并列按名称）。
func Compare(results map[string]Metrics) Comparison {
	if len(results) == 0 {
		return Comparison{}
	}
	list := make([]Ranked, 0, len(results))
	for name, m := range results {
		list = append(list, Ranked{Name: name, Metrics: m})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	bySharpe := append([]Ranked(nil), list...)
	sort.SliceStable(bySharpe, func(i, j int) bool {
		return bySharpe[i].Metrics.SharpeRatio > bySharpe[j].Metrics.SharpeRatio
	})
	byReturn := append([]Ranked(nil), list...)
	sort.SliceStable(byReturn, func(i, j int) bool {
		return byReturn[i].Metrics.TotalReturnPct > byReturn[j].Metrics.TotalReturnPct
	})
	return Comparison{Best: bySharpe[0].Name, BySharpe: bySharpe, ByReturn: byReturn}
}
