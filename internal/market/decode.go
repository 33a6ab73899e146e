package market

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// DecodeKlinesJSON 解析两种 JSON K 线格式：
// Binance 风格的二维数组 [[openTime, "o","h","l","c","v", closeTime, ...], ...]
// 或对象数组 [{"open_time":..,"open":..}, ...]。每根 K 线都经过 Validate。
func DecodeKlinesJSON(symbol, timeframe string, data []byte) ([]Candle, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("klines json invalid")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("klines json must be an array")
	}
	var (
		out     []Candle
		scanErr error
	)
	idx := 0
	root.ForEach(func(_, row gjson.Result) bool {
		var c Candle
		switch {
		case row.IsArray():
			fields := row.Array()
			if len(fields) < 6 {
				scanErr = fmt.Errorf("kline %d: expected >= 6 fields, got %d", idx, len(fields))
				return false
			}
			c = Candle{
				OpenTime: fields[0].Int(),
				Open:     fields[1].Float(),
				High:     fields[2].Float(),
				Low:      fields[3].Float(),
				Close:    fields[4].Float(),
				Volume:   fields[5].Float(),
			}
			if len(fields) > 6 {
				c.CloseTime = fields[6].Int()
			}
			if len(fields) > 8 {
				c.Trades = fields[8].Int()
			}
		case row.IsObject():
			c = Candle{
				OpenTime:  firstOf(row, "open_time", "timestamp", "t").Int(),
				CloseTime: row.Get("close_time").Int(),
				Open:      firstOf(row, "open", "o").Float(),
				High:      firstOf(row, "high", "h").Float(),
				Low:       firstOf(row, "low", "l").Float(),
				Close:     firstOf(row, "close", "c").Float(),
				Volume:    firstOf(row, "volume", "v").Float(),
				Trades:    row.Get("trades").Int(),
			}
		default:
			scanErr = fmt.Errorf("kline %d: unsupported element %s", idx, row.Type)
			return false
		}
		c.Symbol = symbol
		c.Timeframe = timeframe
		if err := fillCloseTime(&c); err != nil {
			scanErr = err
			return false
		}
		if err := c.Validate(); err != nil {
			scanErr = fmt.Errorf("kline %d: %w", idx, err)
			return false
		}
		out = append(out, c)
		idx++
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

func firstOf(row gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := row.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func fillCloseTime(c *Candle) error {
	if c.CloseTime > 0 {
		return nil
	}
	c.CloseTime = c.OpenTime
	if c.Timeframe == "" {
		return nil
	}
	tf, err := ParseTimeframe(c.Timeframe)
	if err != nil {
		return err
	}
	c.CloseTime = c.OpenTime + tf.DurationMillis() - 1
	return nil
}

// candleFile 是 YAML K 线文件的结构。
type candleFile struct {
	Symbol    string   `yaml:"symbol"`
	Timeframe string   `yaml:"timeframe"`
	Candles   []Candle `yaml:"candles"`
}

// DecodeCandlesYAML 解析 YAML K 线夹具（未知字段报错）。
func DecodeCandlesYAML(r io.Reader) ([]Candle, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file candleFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode candles yaml: %w", err)
	}
	for i := range file.Candles {
		c := &file.Candles[i]
		if c.Symbol == "" {
			c.Symbol = file.Symbol
		}
		if c.Timeframe == "" {
			c.Timeframe = file.Timeframe
		}
		if err := fillCloseTime(c); err != nil {
			return nil, err
		}
	}
	if err := ValidateSeries(file.Candles); err != nil {
		return nil, err
	}
	return file.Candles, nil
}

// DecodeCandlesCSV 解析 open_time,open,high,low,close,volume 表头的 CSV。
func DecodeCandlesCSV(symbol, timeframe string, r io.Reader) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"open_time", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("csv missing column %q", need)
		}
	}
	var out []Candle
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		nums := make(map[string]float64, 5)
		for _, name := range []string{"open", "high", "low", "close", "volume"} {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d %s: %w", line, name, err)
			}
			nums[name] = v
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(rec[cols["open_time"]]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d open_time: %w", line, err)
		}
		c, err := NewCandle(symbol, timeframe, ts, nums["open"], nums["high"], nums["low"], nums["close"], nums["volume"])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// LoadCandlesFile 按扩展名选择解析器（.json/.yaml/.yml/.csv）。
func LoadCandlesFile(path, symbol, timeframe string) ([]Candle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DecodeKlinesJSON(symbol, timeframe, data)
	case ".yaml", ".yml":
		return DecodeCandlesYAML(bytes.NewReader(data))
	case ".csv":
		return DecodeCandlesCSV(symbol, timeframe, bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported candle file: %s", path)
	}
}
