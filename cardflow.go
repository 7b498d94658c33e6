package cardflow

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/cardflow/internal/analytics"
	"github.com/loykin/cardflow/internal/cache"
	cfg "github.com/loykin/cardflow/internal/config"
	"github.com/loykin/cardflow/internal/fanout"
	"github.com/loykin/cardflow/internal/insight"
	"github.com/loykin/cardflow/internal/journey"
	"github.com/loykin/cardflow/internal/metrics"
	iapi "github.com/loykin/cardflow/internal/server"
	"github.com/loykin/cardflow/internal/store"
	"github.com/loykin/cardflow/internal/store/factory"
	"github.com/loykin/cardflow/internal/tracker"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Journey = journey.Journey

type Stage = journey.Stage

type Event = journey.Event

type Config = cfg.Config

type Bottleneck = store.Bottleneck

type Insight = insight.Insight

// Tracker is a thin facade over the internal journey service wired to an
// in-process fanout hub. It provides a stable public API for embedding.
type Tracker struct {
	svc *tracker.Service
	hub *fanout.Hub
	st  store.Store
}

// New builds an embedded tracker on the given store configuration. Run the
// returned tracker's hub via Run before relying on broadcasts.
func New(sc store.Config, logger *slog.Logger) (*Tracker, error) {
	st, err := factory.New(sc)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	hub := fanout.NewHub(logger)
	return &Tracker{
		svc: tracker.New(st, hub, logger),
		hub: hub,
		st:  st,
	}, nil
}

// Run drives the notification loop until ctx is done.
func (t *Tracker) Run(ctx context.Context) { t.hub.Run(ctx) }

func (t *Tracker) Close() error { return t.st.Close() }

func (t *Tracker) Create(ctx context.Context, req tracker.CreateRequest) (*Journey, error) {
	return t.svc.Create(ctx, req)
}

func (t *Tracker) Advance(ctx context.Context, id string, target Stage, tc journey.Context) (*Journey, error) {
	return t.svc.Advance(ctx, id, target, tc)
}

func (t *Tracker) Get(ctx context.Context, id string) (*Journey, error) {
	return t.svc.Get(ctx, id)
}

func (t *Tracker) Search(ctx context.Context, q string, limit int) ([]*Journey, error) {
	return t.svc.Search(ctx, q, limit)
}

func (t *Tracker) Delayed(ctx context.Context, threshold time.Duration) ([]*Journey, error) {
	return t.svc.GetDelayed(ctx, threshold)
}

// Analytics builds a bottleneck engine over the tracker's store.
func (t *Tracker) Analytics(th analytics.Thresholds, logger *slog.Logger) *analytics.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return analytics.NewEngine(t.st, t.hub, th, logger)
}

// Insights builds an insight generator over the tracker's store.
func (t *Tracker) Insights(logger *slog.Logger) *insight.Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return insight.NewGenerator(t.st, t.hub, logger)
}

// LoadConfig reads the TOML configuration at path.
func LoadConfig(path string) (Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts the dashboard API server on addr for an embedded
// tracker.
func NewHTTPServer(addr, basePath string, t *Tracker, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	eng := t.Analytics(analytics.Thresholds{}, logger)
	gen := t.Insights(logger)
	r := iapi.NewRouter(t.svc, eng, gen, t.hub, t.st, logger, iapi.Options{
		BasePath: basePath,
		Cache:    cache.New("", "", 0, 0),
	})
	return iapi.NewServer(addr, r)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
