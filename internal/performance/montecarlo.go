package performance

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// MonteCarloResult 汇总多次随机重排的结果，收益均为比例。
type MonteCarloResult struct {
	MeanReturn      float64 `json:"mean_return"`
	StdReturn       float64 `json:"std_return"`
	VaR95           float64 `json:"var_95"`
	VaR99           float64 `json:"var_99"`
	MeanMaxDrawdown float64 `json:"mean_max_drawdown"`
	WinRate         float64 `json:"win_rate"`
	Simulations     int     `json:"simulations"`
}

// MonteCarlo 按历史胜率与单笔收益分布模拟资金路径。相同 seed 结果可复现。
type MonteCarlo struct {
	simulations int
	rng         *rand.Rand
}

func NewMonteCarlo(simulations int, seed int64) *MonteCarlo {
	if simulations <= 0 {
		simulations = 1000
	}
	return &MonteCarlo{simulations: simulations, rng: rand.New(rand.NewSource(seed))}
}

// Simulate 每笔交易以 winRate 概率盈利，幅度取 |N(avgReturn, stdReturn)|。
func (mc *MonteCarlo) Simulate(initial, avgReturn, stdReturn float64, numTrades int, winRate float64) MonteCarloResult {
	if initial <= 0 || numTrades <= 0 {
		return MonteCarloResult{WinRate: winRate, Simulations: mc.simulations}
	}
	returns := make([]float64, mc.simulations)
	drawdowns := make([]float64, mc.simulations)
	for i := 0; i < mc.simulations; i++ {
		balance, peak, worst := initial, initial, 0.0
		for n := 0; n < numTrades; n++ {
			r := math.Abs(mc.rng.NormFloat64()*stdReturn + avgReturn)
			if mc.rng.Float64() >= winRate {
				r = -r
			}
			balance *= 1 + r
			if balance > peak {
				peak = balance
			}
			if peak > 0 {
				worst = math.Max(worst, (peak-balance)/peak)
			}
		}
		returns[i] = (balance - initial) / initial
		drawdowns[i] = worst
	}
	mean, std := stat.PopMeanStdDev(returns, nil)
	sort.Float64s(returns)
	return MonteCarloResult{
		MeanReturn:      mean,
		StdReturn:       std,
		VaR95:           stat.Quantile(0.05, stat.Empirical, returns, nil),
		VaR99:           stat.Quantile(0.01, stat.Empirical, returns, nil),
		MeanMaxDrawdown: stat.Mean(drawdowns, nil),
		WinRate:         winRate,
		Simulations:     mc.simulations,
	}
}

// SimulateTrades 以 PnL/initial 作为单笔收益，从成交历史估计分布后模拟。
func (mc *MonteCarlo) SimulateTrades(initial float64, trades []types.Trade) MonteCarloResult {
	if len(trades) == 0 || initial <= 0 {
		return MonteCarloResult{}
	}
	returns := make([]float64, len(trades))
	wins := 0
	for i, t := range trades {
		returns[i] = t.PnL / initial
		if t.IsWin() {
			wins++
		}
	}
	mean, std := stat.PopMeanStdDev(returns, nil)
	return mc.Simulate(initial, math.Abs(mean), std, len(trades), float64(wins)/float64(len(trades)))
}
