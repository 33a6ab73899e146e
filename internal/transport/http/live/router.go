package livehttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/snackshell/KeenAI-Quant/internal/agent"
	"github.com/snackshell/KeenAI-Quant/internal/logger"
	"github.com/snackshell/KeenAI-Quant/internal/pipeline"
	"github.com/snackshell/KeenAI-Quant/internal/pkg/circuit"
	"github.com/snackshell/KeenAI-Quant/internal/store"
	"github.com/snackshell/KeenAI-Quant/internal/strategy"
)

// LiveService 是实时决策服务对 HTTP 暴露的能力，由 agent.LiveService 实现。
type LiveService interface {
	Evaluate(ctx context.Context, req agent.EvaluateRequest) (pipeline.Evaluation, error)
	RecordTrade(ctx context.Context, rep agent.TradeReport) error
	BreakerStatus() circuit.Snapshot
	RiskStatus(balance float64) agent.RiskReport
	ResetBreaker() bool
	SetOverride(enabled bool) bool
	Strategies() []strategy.Stats
	SetStrategyEnabled(name string, enabled bool) error
}

// Router 暴露 /api/live 下的决策、成交上报、熔断管理与事件流接口。
type Router struct {
	Live    LiveService
	Journal store.Journal
	Hub     *Hub
	log     *slog.Logger
}

func NewRouter(live LiveService, journal store.Journal, hub *Hub) *Router {
	return &Router{Live: live, Journal: journal, Hub: hub, log: logger.With("api")}
}

// Register 将 /api/live 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/evaluate", r.handleEvaluate)
	group.POST("/trades", r.handleTradeReport)
	group.GET("/trades", r.handleTrades)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/risk", r.handleRisk)
	group.GET("/breaker", r.handleBreaker)
	group.GET("/breaker/events", r.handleBreakerEvents)
	group.POST("/breaker/reset", r.handleBreakerReset)
	group.POST("/breaker/override", r.handleBreakerOverride)
	group.GET("/strategies", r.handleStrategies)
	group.POST("/strategies/:name", r.handleStrategyToggle)
	if r.Hub != nil {
		group.GET("/ws", r.Hub.ServeWS)
	}
}

func (r *Router) handleEvaluate(c *gin.Context) {
	var req agent.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := r.Live.Evaluate(c.Request.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, agent.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case pipeline.IsInsufficientData(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "evaluation": ev})
		return
	default:
		r.log.Error("live evaluate failed", "ip", c.ClientIP(), "instrument", req.Instrument, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"evaluation": ev, "breaker": r.Live.BreakerStatus()})
}

func (r *Router) handleTradeReport(c *gin.Context) {
	var rep agent.TradeReport
	if err := c.ShouldBindJSON(&rep); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.Live.RecordTrade(c.Request.Context(), rep); err != nil {
		if errors.Is(err, agent.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		r.log.Error("trade report failed", "ip", c.ClientIP(), "strategy", rep.Strategy, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"breaker": r.Live.BreakerStatus()})
}

func (r *Router) handleTrades(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	trades, err := r.Journal.ListTrades(c.Request.Context(), instrumentQuery(c), queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	decisions, err := r.Journal.ListDecisions(ctx, instrumentQuery(c), queryLimit(c, 100))
	if err != nil {
		r.log.Error("list decisions failed", "ip", c.ClientIP(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (r *Router) handleRisk(c *gin.Context) {
	var balance float64
	if raw := strings.TrimSpace(c.Query("balance")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "balance must be a positive number"})
			return
		}
		balance = v
	}
	c.JSON(http.StatusOK, gin.H{"risk": r.Live.RiskStatus(balance)})
}

func (r *Router) handleBreaker(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breaker": r.Live.BreakerStatus()})
}

func (r *Router) handleBreakerEvents(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	var since time.Time
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be unix milliseconds"})
			return
		}
		since = time.UnixMilli(ms)
	}
	events, err := r.Journal.ListBreakerEvents(c.Request.Context(), since, queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) handleBreakerReset(c *gin.Context) {
	if !r.Live.ResetBreaker() {
		c.JSON(http.StatusConflict, gin.H{"error": "breaker is not tripped", "breaker": r.Live.BreakerStatus()})
		return
	}
	r.log.Info("breaker reset", "ip", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"breaker": r.Live.BreakerStatus()})
}

func (r *Router) handleBreakerOverride(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	changed := r.Live.SetOverride(*req.Enabled)
	r.log.Info("breaker override", "ip", c.ClientIP(), "enabled", *req.Enabled, "changed", changed)
	c.JSON(http.StatusOK, gin.H{"changed": changed, "breaker": r.Live.BreakerStatus()})
}

func (r *Router) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": r.Live.Strategies()})
}

func (r *Router) handleStrategyToggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.Live.SetStrategyEnabled(c.Param("name"), *req.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": r.Live.Strategies()})
}

func instrumentQuery(c *gin.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Query("instrument")))
}

// queryLimit 解析 limit/pageSize，非法或缺省时使用 def，最大 500。
func queryLimit(c *gin.Context, def int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit <= 0 {
		limit, _ = strconv.Atoi(c.DefaultQuery("pageSize", "0"))
	}
	if limit <= 0 {
		limit = def
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}
