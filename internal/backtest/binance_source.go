package backtest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"github.com/snackshell/KeenAI-Quant/internal/market"
)

const binanceMaxLimit = 1500

// BinanceSource 通过 go-binance 的 USDT 合约 REST 接口拉取公开 K 线，不需要 API Key。
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(baseURL string) *BinanceSource {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = base
	}
	client.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error) {
	if strings.TrimSpace(req.Instrument) == "" || req.Timeframe.SourceInterval == "" {
		return nil, fmt.Errorf("instrument/timeframe is required")
	}
	limit := req.Limit
	if limit <= 0 || limit > binanceMaxLimit {
		limit = 1000
	}
	svc := b.client.NewKlinesService().
		Symbol(BinanceSymbol(req.Instrument)).
		Interval(req.Timeframe.SourceInterval).
		Limit(limit)
	if req.Start > 0 {
		svc = svc.StartTime(req.Start)
	}
	if req.End > 0 {
		svc = svc.EndTime(req.End)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", req.Instrument, err)
	}
	cutoff := time.Now().UnixMilli()
	out := make([]market.Candle, 0, len(klines))
	for _, kl := range klines {
		if kl == nil || kl.CloseTime >= cutoff {
			continue
		}
		c := market.Candle{
			Symbol:    req.Instrument,
			Timeframe: req.Timeframe.Key,
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("binance kline %d: %w", kl.OpenTime, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// BinanceSymbol 把 BTC/USD、eth-usdt 之类的写法转成 BTCUSDT。USD 计价统一映射到 USDT 合约。
func BinanceSymbol(instrument string) string {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	s = strings.NewReplacer("/", "", "-", "", "_", "", ":", "").Replace(s)
	if strings.HasSuffix(s, "USD") {
		s += "T"
	}
	return s
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
