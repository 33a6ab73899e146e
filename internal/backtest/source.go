package backtest

import (
	"context"

	"github.com/snackshell/KeenAI-Quant/internal/market"
)

// FetchRequest 描述一次远端 K 线请求，时间为 Unix 毫秒。
type FetchRequest struct {
	Instrument string
	Timeframe  market.Timeframe
	Start      int64
	End        int64 // 0 表示不限制
	Limit      int
}

// CandleSource 统一不同数据源的历史 K 线拉取。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}
