package backtesthttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/snackshell/KeenAI-Quant/internal/analysis/visual"
	"github.com/snackshell/KeenAI-Quant/internal/backtest"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
)

// Router 提供回测相关的 HTTP API：数据补齐、异步回测、结果查询与报表。
type Router struct {
	svc     *backtest.Service
	sim     *backtest.Simulator
	results *backtest.ResultStore
	schema  *jsonschema.Schema
	log     *slog.Logger
}

// Config 描述回测路由的依赖。
type Config struct {
	Service   *backtest.Service
	Simulator *backtest.Simulator
}

func NewRouter(cfg Config) (*Router, error) {
	if cfg.Service == nil {
		return nil, errors.New("backtest service is required")
	}
	if cfg.Simulator == nil {
		return nil, errors.New("backtest simulator is required")
	}
	schema, err := compileSchema("run_request.json", runRequestSchema)
	if err != nil {
		return nil, fmt.Errorf("compile run request schema: %w", err)
	}
	return &Router{
		svc:     cfg.Service,
		sim:     cfg.Simulator,
		results: cfg.Simulator.Results(),
		schema:  schema,
		log:     logger.With("api"),
	}, nil
}

// Register 挂载到 /api/backtest 分组。
func (r *Router) Register(api *gin.RouterGroup) {
	if api == nil {
		return
	}
	api.POST("/fetch", r.handleFetch)
	api.GET("/fetch/:id", r.handleFetchStatus)
	api.GET("/jobs", r.handleJobs)
	api.GET("/data", r.handleManifest)
	api.GET("/candles", r.handleCandles)
	api.POST("/runs", r.handleRunStart)
	api.GET("/runs", r.handleRunList)
	api.GET("/runs/:id", r.handleRunDetail)
	api.GET("/runs/:id/trades", r.handleRunTrades)
	api.GET("/runs/:id/equity", r.handleRunEquity)
	api.GET("/runs/:id/events", r.handleRunEvents)
	api.GET("/runs/:id/report", r.handleRunReport)
}

func (r *Router) handleFetch(c *gin.Context) {
	var req struct {
		Source     string `json:"source"`
		Instrument string `json:"instrument" binding:"required"`
		Timeframe  string `json:"timeframe" binding:"required"`
		StartTS    int64  `json:"start_ts" binding:"required"`
		EndTS      int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := r.svc.SubmitFetch(backtest.FetchParams{
		Source:     req.Source,
		Instrument: req.Instrument,
		Timeframe:  req.Timeframe,
		Start:      req.StartTS,
		End:        req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (r *Router) handleFetchStatus(c *gin.Context) {
	job, ok := r.svc.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (r *Router) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": r.svc.JobsSnapshot()})
}

func (r *Router) handleManifest(c *gin.Context) {
	instrument, tf, ok := seriesQuery(c)
	if !ok {
		return
	}
	info, err := r.svc.Manifest(c.Request.Context(), instrument, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (r *Router) handleCandles(c *gin.Context) {
	instrument, tf, ok := seriesQuery(c)
	if !ok {
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	data, err := r.svc.Candles(c.Request.Context(), instrument, tf, start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) > limit {
		data = data[len(data)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func seriesQuery(c *gin.Context) (instrument, timeframe string, ok bool) {
	instrument = strings.TrimSpace(c.Query("instrument"))
	timeframe = strings.TrimSpace(c.Query("timeframe"))
	if instrument == "" || timeframe == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument and timeframe are required"})
		return "", "", false
	}
	return strings.ToUpper(instrument), timeframe, true
}

func (r *Router) handleRunStart(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := r.schema.Validate(doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var req backtest.RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := r.sim.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.log.Info("backtest run submitted", "ip", c.ClientIP(), "run", run.ID, "instrument", run.Instrument)
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (r *Router) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := r.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (r *Router) handleRunDetail(c *gin.Context) {
	run, err := r.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.respondRunErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (r *Router) handleRunTrades(c *gin.Context) {
	if _, ok := r.existingRun(c); !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	trades, err := r.results.ListTrades(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleRunEquity(c *gin.Context) {
	if _, ok := r.existingRun(c); !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	points, err := r.results.ListEquity(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func (r *Router) handleRunEvents(c *gin.Context) {
	if _, ok := r.existingRun(c); !ok {
		return
	}
	events, err := r.results.ListEvents(c.Request.Context(), c.Param("id"), c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleRunReport 输出 HTML 报表；format=png 时经无头浏览器截图。
func (r *Router) handleRunReport(c *gin.Context) {
	run, ok := r.existingRun(c)
	if !ok {
		return
	}
	if run.Status != backtest.RunStatusDone {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("run is %s", run.Status)})
		return
	}
	ctx := c.Request.Context()
	_, result, err := r.results.LoadResult(ctx, run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cfg := result.Config
	candles, err := r.svc.Candles(ctx, cfg.Instrument, cfg.Timeframe, cfg.Start.UnixMilli(), cfg.End.UnixMilli())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	in := visual.ReportInput{Candles: candles, Result: result}
	if strings.EqualFold(c.Query("format"), "png") {
		img, err := visual.RenderPNG(ctx, in)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", img.Filename))
		c.Data(http.StatusOK, "image/png", img.Bytes)
		return
	}
	html, _, err := visual.RenderHTML(in)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

func (r *Router) existingRun(c *gin.Context) (backtest.Run, bool) {
	run, err := r.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.respondRunErr(c, err)
		return backtest.Run{}, false
	}
	return run, true
}

func (r *Router) respondRunErr(c *gin.Context, err error) {
	if errors.Is(err, backtest.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
