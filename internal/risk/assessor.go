// Package risk 负责仓位计算、止损止盈推导，以及下单前的风控校验。
package risk

import (
	"fmt"
	"math"

	"github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/types"
)

// Settings 是风控参数，均为相对账户余额的比例。
type Settings struct {
	RiskPerTrade    float64 `json:"risk_per_trade"`
	MaxPositionSize float64 `json:"max_position_size"`
	MinRiskReward   float64 `json:"min_risk_reward"`
	MaxExposure     float64 `json:"max_exposure"`
	Leverage        float64 `json:"leverage"`
	MinSize         float64 `json:"min_size"`
	StopATR         float64 `json:"stop_atr"`
}

func SettingsFromConfig(cfg config.RiskConfig) Settings {
	return Settings{
		RiskPerTrade:    cfg.RiskPerTrade,
		MaxPositionSize: cfg.MaxPositionSize,
		MinRiskReward:   cfg.MinRiskReward,
		MaxExposure:     cfg.MaxExposure,
		Leverage:        cfg.Leverage,
		MinSize:         cfg.MinSize,
		StopATR:         cfg.StopATR,
	}
}

func DefaultSettings() Settings {
	return SettingsFromConfig(config.Default().Risk)
}

// Validation 是风控校验结果；拒绝不是错误，Reason 给出第一条未通过的检查。
type Validation struct {
	Approved bool   `json:"approved"`
	Check    string `json:"check,omitempty"`
	Reason   string `json:"reason"`
}

// 校验项名称，按执行顺序排列。
const (
	CheckRiskReward = "risk_reward"
	CheckSize       = "position_size"
	CheckExposure   = "exposure"
	CheckStopSide   = "stop_loss_side"
	CheckTargetSide = "take_profit_side"
	CheckMargin     = "margin"
)

// rrTolerance 吸收价格取整带来的浮点误差。
const rrTolerance = 1e-9

// Assessor 无状态，可在多个会话间共享。
type Assessor struct {
	cfg Settings
}

func NewAssessor(cfg Settings) *Assessor {
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	return &Assessor{cfg: cfg}
}

func (a *Assessor) Settings() Settings { return a.cfg }

// MaxSize 返回 balance×max_position/entry。
func (a *Assessor) MaxSize(balance, entry float64) float64 {
	if entry <= 0 || balance <= 0 {
		return 0
	}
	return balance * a.cfg.MaxPositionSize / entry
}

// Size = balance×risk_per_trade / |entry-stop|，截断到 4 位小数且不超过 MaxSize。
// entry==stop 时退回 min(MinSize, MaxSize)。
func (a *Assessor) Size(balance, entry, stop float64) float64 {
	capSize := a.MaxSize(balance, entry)
	if capSize <= 0 {
		return 0
	}
	distance := math.Abs(entry - stop)
	if distance == 0 {
		return math.Min(a.cfg.MinSize, capSize)
	}
	size := balance * a.cfg.RiskPerTrade / distance
	return truncate(math.Min(size, capSize), 4)
}

// StopFromATR 返回 entry∓atr×multiplier，下限 0.0001，保留 5 位小数。
func (a *Assessor) StopFromATR(entry, atr, multiplier float64, dir types.Direction) (float64, error) {
	if entry <= 0 || atr <= 0 {
		return 0, fmt.Errorf("entry and atr must be positive (entry=%v atr=%v)", entry, atr)
	}
	if dir != types.Buy && dir != types.Sell {
		return 0, fmt.Errorf("invalid direction %q for stop-loss", dir)
	}
	stop := entry - dir.Sign()*atr*multiplier
	return round(math.Max(stop, 0.0001), 5), nil
}

// TakeProfit 返回 entry±R×|entry-stop|，按 5 位小数向外取整；ratio<=0 时使用 MinRiskReward。
func (a *Assessor) TakeProfit(entry, stop, ratio float64, dir types.Direction) (float64, error) {
	if entry <= 0 || stop <= 0 {
		return 0, fmt.Errorf("entry and stop must be positive (entry=%v stop=%v)", entry, stop)
	}
	if dir != types.Buy && dir != types.Sell {
		return 0, fmt.Errorf("invalid direction %q for take-profit", dir)
	}
	if ratio <= 0 {
		ratio = a.cfg.MinRiskReward
	}
	e := decFromFloat(entry)
	reward := e.Sub(decFromFloat(stop)).Abs().Mul(decFromFloat(ratio))
	// 向远离入场价的方向取整，取整后的风险回报不低于 ratio
	var tp float64
	if dir == types.Buy {
		tp = decToFloat(e.Add(reward).RoundCeil(5))
	} else {
		tp = decToFloat(e.Sub(reward).RoundFloor(5))
	}
	return math.Max(tp, 0.0001), nil
}

// RiskReward 返回 |tp-entry|/|entry-stop|，风险为 0 时为 0。
func RiskReward(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}

// Price 返回按账户余额定好仓位的信号副本。缺止损时用 atr×StopATR 补齐，
// 缺止盈时按 MinRiskReward 补齐；补不齐的留给 Validate 拒绝。
func (a *Assessor) Price(sig types.TradingSignal, account types.Account, atr float64) types.TradingSignal {
	out := sig
	if out.StopLoss <= 0 && atr > 0 {
		if stop, err := a.StopFromATR(out.EntryPrice, atr, a.cfg.StopATR, out.Direction); err == nil {
			out.StopLoss = stop
		}
	}
	if out.TakeProfit <= 0 && out.StopLoss > 0 {
		if tp, err := a.TakeProfit(out.EntryPrice, out.StopLoss, 0, out.Direction); err == nil {
			out.TakeProfit = tp
		}
	}
	out.Size = a.Size(account.Balance, out.EntryPrice, out.StopLoss)
	return out
}

// Validate 依次检查：风险回报、仓位上限、总敞口、止损方向、止盈方向、保证金。第一项失败即为拒绝原因。
func (a *Assessor) Validate(sig types.TradingSignal, account types.Account) Validation {
	if !sig.IsActionable() {
		return Validation{Check: "direction", Reason: fmt.Sprintf("direction %s is not tradable", sig.Direction)}
	}
	if rr := RiskReward(sig.EntryPrice, sig.StopLoss, sig.TakeProfit); rr < a.cfg.MinRiskReward-rrTolerance {
		return reject(CheckRiskReward, "risk-reward ratio %.2f below minimum %.2f", rr, a.cfg.MinRiskReward)
	}
	if maxSize := a.MaxSize(account.Balance, sig.EntryPrice); sig.Size <= 0 || sig.Size > maxSize {
		return reject(CheckSize, "position size %.4f outside (0, %.4f]", sig.Size, maxSize)
	}
	exposure := account.TotalExposure() + sig.Size*sig.EntryPrice
	if maxExposure := account.Balance * a.cfg.MaxExposure; exposure > maxExposure {
		return reject(CheckExposure, "total exposure %.2f exceeds max %.2f", exposure, maxExposure)
	}
	if !stopOnCorrectSide(sig.Direction, sig.EntryPrice, sig.StopLoss) {
		return reject(CheckStopSide, "stop-loss %.5f on wrong side of entry %.5f for %s", sig.StopLoss, sig.EntryPrice, sig.Direction)
	}
	if !targetOnCorrectSide(sig.Direction, sig.EntryPrice, sig.TakeProfit) {
		return reject(CheckTargetSide, "take-profit %.5f on wrong side of entry %.5f for %s", sig.TakeProfit, sig.EntryPrice, sig.Direction)
	}
	if margin := a.RequiredMargin(sig.Size, sig.EntryPrice); margin > account.MarginAvailable {
		return reject(CheckMargin, "insufficient margin: need %.2f, have %.2f", margin, account.MarginAvailable)
	}
	return Validation{Approved: true, Reason: "all risk checks passed"}
}

func reject(check, format string, args ...any) Validation {
	return Validation{Check: check, Reason: fmt.Sprintf(format, args...)}
}

// RequiredMargin = notional / leverage。
func (a *Assessor) RequiredMargin(size, entry float64) float64 {
	return size * entry / a.cfg.Leverage
}

// Metrics 是账户层面的风险概览。
type Metrics struct {
	Balance          float64 `json:"balance"`
	Equity           float64 `json:"equity"`
	TotalExposure    float64 `json:"total_exposure"`
	ExposurePct      float64 `json:"exposure_pct"`
	MarginUsed       float64 `json:"margin_used"`
	MarginAvailable  float64 `json:"margin_available"`
	MarginUsagePct   float64 `json:"margin_usage_pct"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	RealizedPnLToday float64 `json:"realized_pnl_today"`
	OpenPositions    int     `json:"open_positions"`
	MaxPositionValue float64 `json:"max_position_value"`
	RiskPerTradeUSD  float64 `json:"risk_per_trade_usd"`
}

func (a *Assessor) Metrics(account types.Account) Metrics {
	m := Metrics{
		Balance:          account.Balance,
		Equity:           account.Equity,
		TotalExposure:    account.TotalExposure(),
		MarginUsed:       account.MarginUsed,
		MarginAvailable:  account.MarginAvailable,
		UnrealizedPnL:    account.UnrealizedPnL,
		RealizedPnLToday: account.RealizedPnLToday,
		OpenPositions:    len(account.Positions),
		MaxPositionValue: account.Balance * a.cfg.MaxPositionSize,
		RiskPerTradeUSD:  account.Balance * a.cfg.RiskPerTrade,
	}
	if account.Balance > 0 {
		m.ExposurePct = m.TotalExposure / account.Balance * 100
	}
	if total := account.MarginUsed + account.MarginAvailable; total > 0 {
		m.MarginUsagePct = account.MarginUsed / total * 100
	}
	return m
}
