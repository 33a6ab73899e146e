package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
	talib "github.com/markcheno/go-talib"

	"github.com/snackshell/KeenAI-Quant/internal/backtest"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	kqtypes "github.com/snackshell/KeenAI-Quant/internal/types"
)

type ImageResult struct {
	Bytes       []byte `json:"-"`
	Base64      string `json:"base64"`
	Filename    string `json:"filename"`
	Description string `json:"description"`
}

func (r *ImageResult) DataURI() string {
	if r == nil {
		return ""
	}
	if r.Base64 == "" && len(r.Bytes) > 0 {
		r.Base64 = base64.StdEncoding.EncodeToString(r.Bytes)
	}
	if r.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + r.Base64
}

// ReportInput 是一次回测报表的数据：回放用的 K 线与结果。
type ReportInput struct {
	Title   string
	Candles []market.Candle
	Result  backtest.Result
}

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEmaFast       = "#3b82f6"
	colorEmaSlow       = "#f472b6"
	colorEquity        = "#fbbf24"
	colorDrawdown      = "#fb7185"
	colorDIF           = "#22d3ee"
	colorDEA           = "#fb7185"

	chartWidthPx   = 1600
	klineHeightPx  = 600
	equityHeightPx = 320
	macdHeightPx   = 260

	labelLayout = "01-02 15:04"
)

// RenderHTML 生成价格/成交点位、权益与回撤、MACD 三个面板的 HTML 报表。
func RenderHTML(in ReportInput) ([]byte, string, error) {
	if len(in.Candles) == 0 {
		return nil, "", errors.New("report needs candles")
	}
	title := in.Title
	if title == "" {
		title = fmt.Sprintf("%s %s", in.Result.Config.Instrument, in.Result.Config.Timeframe)
	}
	subtitle := summaryLine(in.Result)

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(in.Candles)
	page.AddCharts(
		buildPriceChart(title, subtitle, xAxis, in.Candles, in.Result.Trades),
		buildEquityChart(in.Result.Equity),
		buildMACDChart(xAxis, in.Candles),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), fmt.Sprintf("%s | %s", title, subtitle), nil
}

// RenderPNG 先生成 HTML 再经无头浏览器截图。
func RenderPNG(ctx context.Context, in ReportInput) (ImageResult, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return ImageResult{}, err
	}
	html, desc, err := RenderHTML(in)
	if err != nil {
		return ImageResult{}, err
	}
	png, err := renderHTMLToPNG(ctx, html, chartWidthPx, klineHeightPx+equityHeightPx+macdHeightPx)
	if err != nil {
		return ImageResult{}, err
	}
	name := strings.NewReplacer("/", "", " ", "_").Replace(strings.ToLower(in.Result.Config.Instrument))
	return ImageResult{
		Bytes:       png,
		Base64:      base64.StdEncoding.EncodeToString(png),
		Filename:    fmt.Sprintf("%s_backtest.png", name),
		Description: desc,
	}, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		parent, cancel := chromedp.NewContext(ctx)
		defer cancel()
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func summaryLine(res backtest.Result) string {
	m := res.Metrics
	return fmt.Sprintf("return %.2f%% | sharpe %.2f | max dd %.2f%% | trades %d | win %.1f%%",
		res.TotalReturnPct, m.SharpeRatio, m.MaxDrawdownPct, m.TotalTrades, m.WinRate*100)
}

func baseInit(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func buildPriceChart(title, subtitle string, xAxis []string, candles []market.Candle, trades []kqtypes.Trade) *charts.Kline {
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1e-4, math.Abs(maxPrice)*0.01)
	}
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(baseInit(klineHeightPx)),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         title,
			Subtitle:      subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 5),
			Max:       round(maxPrice+padding, 5),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	data := make([]opts.KlineData, len(candles))
	for i, c := range candles {
		data[i] = opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}}
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)

	closes := market.Closes(candles)
	ema := charts.NewLine()
	ema.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	ema.SetXAxis(xAxis)
	if len(closes) >= 21 {
		ema.AddSeries("EMA 21", toLineData(talib.Ema(closes, 21), 20), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaFast, Width: 2}))
	}
	if len(closes) >= 55 {
		ema.AddSeries("EMA 55", toLineData(talib.Ema(closes, 55), 54), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEmaSlow, Width: 2}))
	}
	kline.Overlap(ema)

	entries, exits := tradeMarkers(trades)
	marks := charts.NewScatter()
	marks.SetXAxis(xAxis)
	marks.AddSeries("Entry", entries, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorEmaFast}))
	marks.AddSeries("Exit", exits, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorEquity}))
	kline.Overlap(marks)
	return kline
}

// tradeMarkers 把开/平仓映射到类目轴坐标 [label, price]。
func tradeMarkers(trades []kqtypes.Trade) (entries, exits []opts.ScatterData) {
	for _, tr := range trades {
		symbol := "triangle"
		if tr.Direction == kqtypes.Sell {
			symbol = "pin"
		}
		entries = append(entries, opts.ScatterData{
			Name:       fmt.Sprintf("#%d %s %s", tr.ID, tr.Direction, tr.Strategy),
			Value:      []interface{}{tr.EntryTime.UTC().Format(labelLayout), round(tr.EntryPrice, 5)},
			Symbol:     symbol,
			SymbolSize: 12,
		})
		exits = append(exits, opts.ScatterData{
			Name:       fmt.Sprintf("#%d %s %.2f", tr.ID, tr.ExitReason, tr.PnL),
			Value:      []interface{}{tr.ExitTime.UTC().Format(labelLayout), round(tr.ExitPrice, 5)},
			Symbol:     "diamond",
			SymbolSize: 10,
		})
	}
	return entries, exits
}

func buildEquityChart(points []backtest.EquityPoint) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(baseInit(equityHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "Equity / Drawdown %", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	x := make([]string, len(points))
	equity := make([]opts.LineData, len(points))
	drawdown := make([]opts.LineData, len(points))
	peak := 0.0
	for i, p := range points {
		x[i] = p.Time.UTC().Format(labelLayout)
		equity[i] = opts.LineData{Value: round(p.Equity, 2)}
		peak = math.Max(peak, p.Equity)
		dd := 0.0
		if peak > 0 {
			dd = (p.Equity - peak) / peak * 100
		}
		drawdown[i] = opts.LineData{Value: round(dd, 3)}
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", equity,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("Drawdown %", drawdown,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: colorDrawdown, Opacity: opts.Float(0.2)}))
	return line
}

func buildMACDChart(xAxis []string, candles []market.Candle) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(baseInit(macdHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "MACD", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	bar.SetXAxis(xAxis)
	// talib 的 MACD 前 33 根为预热值
	const lookback = 33
	closes := market.Closes(candles)
	if len(closes) <= lookback {
		bar.AddSeries("MACD Hist", make([]opts.BarData, len(closes)))
		return bar
	}
	dif, dea, hist := talib.Macd(closes, 12, 26, 9)
	histData := make([]opts.BarData, len(hist))
	for i, v := range hist {
		if i < lookback {
			continue
		}
		color := colorBear
		if v >= 0 {
			color = colorBull
		}
		histData[i] = opts.BarData{Value: round(v, 6), ItemStyle: &opts.ItemStyle{Color: color}}
	}
	bar.AddSeries("MACD Hist", histData)

	line := charts.NewLine()
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.SetXAxis(xAxis)
	line.AddSeries("DIF", toLineData(dif, lookback), charts.WithLineStyleOpts(opts.LineStyle{Color: colorDIF, Width: 2}))
	line.AddSeries("DEA", toLineData(dea, lookback), charts.WithLineStyleOpts(opts.LineStyle{Color: colorDEA, Width: 2}))
	bar.Overlap(line)
	return bar
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = c.Time().Format(labelLayout)
	}
	return x
}

// toLineData 跳过前 skip 个预热值（置空）。
func toLineData(series []float64, skip int) []opts.LineData {
	line := make([]opts.LineData, len(series))
	for i, v := range series {
		if i < skip || math.IsNaN(v) {
			continue
		}
		line[i] = opts.LineData{Value: round(v, 6)}
	}
	return line
}

func round(val float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	minVal, maxVal = candles[0].Low, candles[0].High
	for _, c := range candles {
		minVal = math.Min(minVal, c.Low)
		maxVal = math.Max(maxVal, c.High)
	}
	return minVal, maxVal
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
