package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/cardflow/internal/analytics"
	"github.com/loykin/cardflow/internal/cache"
	"github.com/loykin/cardflow/internal/fanout"
	"github.com/loykin/cardflow/internal/insight"
	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/metrics"
	"github.com/loykin/cardflow/internal/pii"
	"github.com/loykin/cardflow/internal/store"
	"github.com/loykin/cardflow/internal/tracker"
)

// Router provides the dashboard-facing HTTP API.
// Endpoints:
//
//	POST {basePath}/cards                 body: creation JSON
//	POST {basePath}/cards/:id/status      body: status update JSON
//	GET  {basePath}/cards/:id
//	GET  {basePath}/cards?q=...
//	GET  {basePath}/cards/delayed
//	GET  {basePath}/analytics/dashboard?range=168h
//	GET  {basePath}/analytics/bottlenecks?limit=10&severity=critical
//	GET  {basePath}/analytics/trends?days=7
//	GET  {basePath}/analytics/regional?days=7
//	GET  {basePath}/analytics/forecast?days=7
//	POST {basePath}/analytics/run
//	GET  {basePath}/insights
//	GET  {basePath}/ws
//	GET  {basePath}/healthz
//	GET  {basePath}/metrics
//
// Mobile numbers and card numbers are masked in every response; the stored
// values never leave this boundary.
type Router struct {
	svc      *tracker.Service
	eng      *analytics.Engine
	gen      *insight.Generator
	hub      *fanout.Hub
	st       store.Store
	cache    *cache.Cache
	logger   *slog.Logger
	basePath string
	delayed  time.Duration
}

type Options struct {
	BasePath         string
	DelayedThreshold time.Duration
	Cache            *cache.Cache
}

func NewRouter(svc *tracker.Service, eng *analytics.Engine, gen *insight.Generator, hub *fanout.Hub, st store.Store, logger *slog.Logger, opts Options) *Router {
	if opts.DelayedThreshold <= 0 {
		opts.DelayedThreshold = 48 * time.Hour
	}
	if opts.Cache == nil {
		opts.Cache = cache.New("", "", 0, 0)
	}
	return &Router{
		svc:      svc,
		eng:      eng,
		gen:      gen,
		hub:      hub,
		st:       st,
		cache:    opts.Cache,
		logger:   logger,
		basePath: sanitizeBase(opts.BasePath),
		delayed:  opts.DelayedThreshold,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/cards", r.handleCreate)
	group.POST("/cards/:id/status", r.handleStatus)
	group.GET("/cards/delayed", r.handleDelayed)
	group.GET("/cards/:id", r.handleGet)
	group.GET("/cards", r.handleSearch)
	group.GET("/analytics/dashboard", r.handleDashboard)
	group.GET("/analytics/bottlenecks", r.handleBottlenecks)
	group.GET("/analytics/trends", r.handleTrends)
	group.GET("/analytics/regional", r.handleRegional)
	group.GET("/analytics/forecast", r.handleForecast)
	group.POST("/analytics/run", r.handleRunAnalysis)
	group.GET("/insights", r.handleInsights)
	group.GET("/ws", r.handleWS)
	group.GET("/healthz", r.handleHealth)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (r *Router) handleCreate(c *gin.Context) {
	var req tracker.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	j, err := r.svc.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, masked(j))
}

// StatusUpdate is the transition request body; field names follow the partner
// webhook payloads.
type StatusUpdate struct {
	Status         string `json:"status"`
	Source         string `json:"source"`
	Location       string `json:"location"`
	OperatorID     string `json:"operatorId"`
	BatchID        string `json:"batchId"`
	TrackingNumber string `json:"tracking_number"`
	Message        string `json:"message"`
}

func (r *Router) handleStatus(c *gin.Context) {
	var req StatusUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	target, err := journey.ParseStage(req.Status)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	j, err := r.svc.Advance(c.Request.Context(), c.Param("id"), target, journey.Context{
		Source:        req.Source,
		Location:      req.Location,
		OperatorID:    req.OperatorID,
		BatchID:       req.BatchID,
		TrackingID:    req.TrackingNumber,
		FailureReason: req.Message,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, masked(j))
}

func (r *Router) handleGet(c *gin.Context) {
	j, err := r.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, masked(j))
}

func (r *Router) handleSearch(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	js, err := r.svc.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, maskedAll(js))
}

func (r *Router) handleDelayed(c *gin.Context) {
	threshold := r.delayed
	if v := c.Query("threshold"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid threshold: " + err.Error()})
			return
		}
		threshold = d
	}
	js, err := r.svc.GetDelayed(c.Request.Context(), threshold)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, maskedAll(js))
}

func (r *Router) handleDashboard(c *gin.Context) {
	timeRange := 7 * 24 * time.Hour
	if v := c.Query("range"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid range: " + err.Error()})
			return
		}
		timeRange = d
	}
	key := "cardflow:dashboard:" + timeRange.String()
	var cached analytics.Dashboard
	if err := r.cache.GetJSON(c.Request.Context(), key, &cached); err == nil {
		writeJSON(c, http.StatusOK, &cached)
		return
	}
	d, err := r.eng.Dashboard(c.Request.Context(), timeRange)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := r.cache.SetJSON(c.Request.Context(), key, d); err != nil {
		r.logger.Warn("dashboard cache store failed", "error", err)
	}
	writeJSON(c, http.StatusOK, d)
}

func (r *Router) handleBottlenecks(c *gin.Context) {
	bs, err := r.eng.Bottlenecks(c.Request.Context(), intQuery(c, "limit", 0), c.Query("severity"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, bs)
}

func (r *Router) handleTrends(c *gin.Context) {
	out, err := r.eng.Trends(c.Request.Context(), intQuery(c, "days", 7))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleRegional(c *gin.Context) {
	out, err := r.eng.Regional(c.Request.Context(), intQuery(c, "days", 7))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleForecast(c *gin.Context) {
	out, err := r.eng.Forecast(c.Request.Context(), intQuery(c, "days", 7))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleRunAnalysis(c *gin.Context) {
	res, err := r.eng.RunOnce(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if err := r.cache.Invalidate(c.Request.Context(), "cardflow:dashboard:"+(7*24*time.Hour).String()); err != nil {
		r.logger.Warn("cache invalidate failed", "error", err)
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleInsights(c *gin.Context) {
	out, err := r.gen.Generate(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		out = []insight.Insight{}
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleWS(c *gin.Context) {
	conn, err := fanout.Upgrade(c.Writer, c.Request)
	if err != nil {
		// Upgrade already wrote the HTTP error
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	r.hub.Attach(conn)
	go conn.ReadLoop(r.hub)
}

func (r *Router) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := r.st.Ping(ctx); err != nil {
		writeJSON(c, http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok", "subscribers": r.hub.Subscribers()})
}

// masked clones the journey with PII reduced for display.
func masked(j *journey.Journey) *journey.Journey {
	out := j.Clone()
	out.MobileNumber = pii.MaskMobile(out.MobileNumber)
	out.PANMasked = pii.MaskPAN(out.PANMasked)
	return out
}

func maskedAll(js []*journey.Journey) []*journey.Journey {
	out := make([]*journey.Journey, len(js))
	for i, j := range js {
		out[i] = masked(j)
	}
	return out
}

func writeError(c *gin.Context, err error) {
	kind := journey.Kind(err)
	code := http.StatusInternalServerError
	switch kind {
	case "not_found":
		code = http.StatusNotFound
	case "duplicate", "conflict":
		code = http.StatusConflict
	case "invalid_transition", "terminal":
		code = http.StatusUnprocessableEntity
	default:
		if errors.Is(err, tracker.ErrShortQuery) || errors.Is(err, tracker.ErrValidation) {
			code, kind = http.StatusBadRequest, "validation"
		}
	}
	writeJSON(c, code, errorResp{Error: err.Error(), Kind: kind})
}

func intQuery(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
