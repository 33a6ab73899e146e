package decision

import (
	"fmt"
	"strings"

	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// VoteBreakdown 记录加权投票的明细，便于排查分歧。
type VoteBreakdown struct {
	Threshold   float64        `json:"threshold"`
	TotalWeight float64        `json:"total_weight"`
	BuyScore    float64        `json:"buy_score"`
	SellScore   float64        `json:"sell_score"`
	Votes       []StrategyVote `json:"votes,omitempty"`
}

type StrategyVote struct {
	Strategy   string          `json:"strategy"`
	Direction  types.Direction `json:"direction"`
	Confidence float64         `json:"confidence"`
	Weight     float64         `json:"weight"`
}

// ResolveByVote：score(side) = Σ(confidence×weight) / Σweight，分数更高且超过阈值的一侧胜出，
// 返回该侧置信度最高的信号。单个信号原样返回；未配置权重的策略按 1 计。
func ResolveByVote(signals []types.TradingSignal, weights map[string]float64, threshold float64) (*types.TradingSignal, *VoteBreakdown, string) {
	if len(signals) == 0 {
		return nil, nil, "no signals"
	}
	if len(signals) == 1 {
		s := signals[0]
		return &s, nil, "single signal from " + s.Strategy
	}
	bd := &VoteBreakdown{Threshold: threshold}
	for _, s := range signals {
		w := 1.0
		if v, ok := weights[strings.ToLower(s.Strategy)]; ok && v >= 0 {
			w = v
		}
		bd.TotalWeight += w
		switch s.Direction {
		case types.Buy:
			bd.BuyScore += s.Confidence * w
		case types.Sell:
			bd.SellScore += s.Confidence * w
		}
		bd.Votes = append(bd.Votes, StrategyVote{Strategy: s.Strategy, Direction: s.Direction, Confidence: s.Confidence, Weight: w})
	}
	if bd.TotalWeight <= 0 {
		return nil, bd, "all strategy weights are zero"
	}
	bd.BuyScore /= bd.TotalWeight
	bd.SellScore /= bd.TotalWeight

	var winner types.Direction
	score := 0.0
	switch {
	case bd.BuyScore > bd.SellScore:
		winner, score = types.Buy, bd.BuyScore
	case bd.SellScore > bd.BuyScore:
		winner, score = types.Sell, bd.SellScore
	default:
		return nil, bd, fmt.Sprintf("tied vote %.3f/%.3f", bd.BuyScore, bd.SellScore)
	}
	if score <= threshold {
		return nil, bd, fmt.Sprintf("%s score %.3f below threshold %.3f", winner, score, threshold)
	}
	buys, sells := splitByDirection(signals)
	side := buys
	if winner == types.Sell {
		side = sells
	}
	best := highestConfidence(side)
	return &best, bd, fmt.Sprintf("%s wins vote %.3f", winner, score)
}
