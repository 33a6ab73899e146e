package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/visual"
	"github.com/snackshell/KeenAI-Quant/internal/app"
	"github.com/snackshell/KeenAI-Quant/internal/backtest"
	kqcfg "github.com/snackshell/KeenAI-Quant/internal/config"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/market"
	"github.com/snackshell/KeenAI-Quant/internal/performance"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	cfgPath, cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfgPath, cfg)
	case "backtest":
		err = runBacktest(ctx, cfg, args)
	case "fetch":
		err = fetch(ctx, cfg, args)
	default:
		err = fmt.Errorf("unknown command %q (serve|backtest|fetch)", cmd)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("运行失败: %v", err)
	}
}

// loadConfig 优先 KEENQUANT_CONFIG；默认路径不存在时退回内置默认值。
func loadConfig() (string, *kqcfg.Config, error) {
	path := strings.TrimSpace(os.Getenv("KEENQUANT_CONFIG"))
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	var cfg *kqcfg.Config
	if _, statErr := os.Stat(path); statErr != nil && !explicit {
		cfg, path = kqcfg.Default(), ""
	} else {
		loaded, err := kqcfg.Load(path)
		if err != nil {
			return "", nil, err
		}
		cfg = loaded
	}
	if lvl := strings.TrimSpace(os.Getenv("KEENQUANT_LOG_LEVEL")); lvl != "" {
		cfg.App.LogLevel = lvl
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	if path == "" {
		logger.Infof("✓ 未找到配置文件，使用默认配置（环境=%s）", cfg.App.Env)
	} else {
		logger.Infof("✓ 配置加载成功: %s（环境=%s）", path, cfg.App.Env)
	}
	return path, cfg, nil
}

func serve(ctx context.Context, cfgPath string, cfg *kqcfg.Config) error {
	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	defer a.Close()
	if cfgPath != "" {
		if err := a.Watch(cfgPath); err != nil {
			logger.Warnf("配置热加载不可用: %v", err)
		}
	}
	return a.Run(ctx)
}

func runBacktest(ctx context.Context, cfg *kqcfg.Config, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	instrument := fs.String("instrument", "", "instrument, e.g. BTCUSDT")
	timeframe := fs.String("timeframe", cfg.Backtest.Timeframe, "candle timeframe")
	start := fs.String("start", "", "start time (2006-01-02 or RFC3339)")
	end := fs.String("end", "", "end time (2006-01-02 or RFC3339)")
	strategies := fs.String("strategies", "", "comma separated strategy names")
	balance := fs.Float64("balance", 0, "initial balance override")
	report := fs.String("report", "", "write HTML report to this path")
	simulations := fs.Int("montecarlo", 0, "Monte Carlo simulations over the trade list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	startTS, err := parseTime(*start)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	endTS, err := parseTime(*end)
	if err != nil {
		return fmt.Errorf("-end: %w", err)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Backtest().Start(ctx)

	req := backtest.RunRequest{
		Instrument:     *instrument,
		Timeframe:      *timeframe,
		StartTS:        startTS,
		EndTS:          endTS,
		InitialBalance: *balance,
		Notes:          "cli",
	}
	if s := strings.TrimSpace(*strategies); s != "" {
		req.Strategies = strings.Split(s, ",")
	}
	run, result, err := a.Backtest().Simulator().RunSync(ctx, req)
	if err != nil {
		return err
	}

	out := struct {
		Run        string                        `yaml:"run"`
		Status     backtest.RunStatus            `yaml:"status"`
		Result     backtest.Result               `yaml:"result"`
		MonteCarlo *performance.MonteCarloResult `yaml:"monte_carlo,omitempty"`
	}{Run: run.ID, Status: run.Status, Result: result}
	if *simulations > 0 {
		mc := performance.NewMonteCarlo(*simulations, time.Now().UnixNano()).
			SimulateTrades(result.Config.InitialBalance, result.Trades)
		out.MonteCarlo = &mc
	}
	if err := yaml.NewEncoder(os.Stdout).Encode(out); err != nil {
		return err
	}

	if path := strings.TrimSpace(*report); path != "" {
		candles, err := a.Backtest().Service().Candles(ctx, result.Config.Instrument, result.Config.Timeframe, startTS, endTS)
		if err != nil {
			return err
		}
		html, desc, err := visual.RenderHTML(visual.ReportInput{Candles: candles, Result: result})
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, html, 0o644); err != nil {
			return err
		}
		logger.Infof("报表已写入 %s (%s)", path, desc)
	}
	return nil
}

// fetch 从远端补齐缓存；指定 -file 时改为导入本地 CSV/JSON/YAML。
func fetch(ctx context.Context, cfg *kqcfg.Config, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	instrument := fs.String("instrument", "", "instrument, e.g. BTCUSDT")
	timeframe := fs.String("timeframe", cfg.Backtest.Timeframe, "candle timeframe")
	start := fs.String("start", "", "start time (2006-01-02 or RFC3339)")
	end := fs.String("end", "", "end time (2006-01-02 or RFC3339)")
	file := fs.String("file", "", "import candles from a local file instead of fetching")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*instrument) == "" {
		return errors.New("-instrument is required")
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.Backtest().Start(ctx)
	svc := a.Backtest().Service()

	if path := strings.TrimSpace(*file); path != "" {
		candles, err := market.LoadCandlesFile(path, *instrument, *timeframe)
		if err != nil {
			return err
		}
		n, err := svc.Store().InsertCandles(ctx, *instrument, *timeframe, candles)
		if err != nil {
			return err
		}
		logger.Infof("✓ 导入 %d 根 K 线 (%s %s) 自 %s", n, *instrument, *timeframe, path)
		return nil
	}

	startTS, err := parseTime(*start)
	if err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	endTS, err := parseTime(*end)
	if err != nil {
		return fmt.Errorf("-end: %w", err)
	}
	job, err := svc.Sync(ctx, backtest.FetchParams{
		Instrument: *instrument,
		Timeframe:  *timeframe,
		Start:      startTS,
		End:        endTS,
	})
	if err != nil {
		return err
	}
	return yaml.NewEncoder(os.Stdout).Encode(job)
}

func parseTime(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("time is required")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC().UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized time %q", raw)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
