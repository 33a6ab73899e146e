package backtest

import (
	"errors"
	"strings"
	"time"

	"github.com/snackshell/KeenAI-Quant/internal/performance"
)

// RunStatus 异步回测任务状态。
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

func (s RunStatus) Finished() bool { return s == RunStatusDone || s == RunStatusFailed }

// RunRequest 为 HTTP / CLI 提交使用。Slippage、Commission、LatencyMS 为空时取配置默认值。
type RunRequest struct {
	Instrument     string   `json:"instrument"`
	Timeframe      string   `json:"timeframe,omitempty"`
	Strategies     []string `json:"strategies,omitempty"`
	StartTS        int64    `json:"start_ts"`
	EndTS          int64    `json:"end_ts"`
	InitialBalance float64  `json:"initial_balance,omitempty"`
	Slippage       *float64 `json:"slippage,omitempty"`
	Commission     *float64 `json:"commission,omitempty"`
	LatencyMS      *int     `json:"latency_ms,omitempty"`
	Warmup         int      `json:"warmup,omitempty"`
	Window         int      `json:"window,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

// Config 把请求展开成引擎参数，def 提供缺省值。
func (r RunRequest) Config(def Config) (Config, error) {
	if strings.TrimSpace(r.Instrument) == "" {
		return Config{}, errors.New("instrument is required")
	}
	if r.EndTS > 0 && r.EndTS <= r.StartTS {
		return Config{}, errors.New("end_ts must be after start_ts")
	}
	cfg := def
	cfg.Instrument = strings.ToUpper(strings.TrimSpace(r.Instrument))
	if r.Timeframe != "" {
		cfg.Timeframe = r.Timeframe
	}
	cfg.Strategies = append([]string(nil), r.Strategies...)
	if r.StartTS > 0 {
		cfg.Start = time.UnixMilli(r.StartTS).UTC()
	}
	if r.EndTS > 0 {
		cfg.End = time.UnixMilli(r.EndTS).UTC()
	}
	if r.InitialBalance > 0 {
		cfg.InitialBalance = r.InitialBalance
	}
	if r.Slippage != nil {
		cfg.Slippage = *r.Slippage
	}
	if r.Commission != nil {
		cfg.Commission = *r.Commission
	}
	if r.LatencyMS != nil {
		cfg.LatencyMS = *r.LatencyMS
	}
	if r.Warmup > 0 {
		cfg.Warmup = r.Warmup
	}
	if r.Window > 0 {
		cfg.Window = r.Window
	}
	return cfg, nil
}

// Run 表示一次异步回测任务及其汇总。
type Run struct {
	ID           string              `json:"id"`
	Instrument   string              `json:"instrument"`
	Timeframe    string              `json:"timeframe"`
	Status       RunStatus           `json:"status"`
	Message      string              `json:"message,omitempty"`
	Notes        string              `json:"notes,omitempty"`
	Config       Config              `json:"config"`
	Metrics      performance.Metrics `json:"metrics"`
	FinalBalance float64             `json:"final_balance"`
	ReturnPct    float64             `json:"return_pct"`
	Trades       int                 `json:"trades"`
	Signals      int                 `json:"signals"`
	Rejections   int                 `json:"rejections"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	CompletedAt  time.Time           `json:"completed_at,omitempty"`
}

// RunEvent 是持久化的风控拒单或熔断事件。
type RunEvent struct {
	ID       int64     `json:"id"`
	RunID    string    `json:"run_id"`
	Kind     string    `json:"kind"`
	Time     time.Time `json:"time"`
	Strategy string    `json:"strategy,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	Reason   string    `json:"reason"`
	Value    float64   `json:"value,omitempty"`
	Limit    float64   `json:"limit,omitempty"`
}

const (
	EventRejection = "rejection"
	EventBreaker   = "breaker"
)
