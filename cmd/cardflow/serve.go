package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/cardflow/internal/analytics"
	"github.com/loykin/cardflow/internal/cache"
	"github.com/loykin/cardflow/internal/config"
	"github.com/loykin/cardflow/internal/fanout"
	"github.com/loykin/cardflow/internal/history/clickhouse"
	"github.com/loykin/cardflow/internal/insight"
	"github.com/loykin/cardflow/internal/logger"
	"github.com/loykin/cardflow/internal/metrics"
	"github.com/loykin/cardflow/internal/schedule"
	"github.com/loykin/cardflow/internal/server"
	"github.com/loykin/cardflow/internal/store"
	"github.com/loykin/cardflow/internal/store/factory"
	"github.com/loykin/cardflow/internal/tracker"
	"github.com/loykin/cardflow/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func createServeCommand(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking service",
		Long: `Run the tracking service: dashboard API, partner webhook listener,
scheduled bottleneck analysis and websocket fanout. Stops cleanly on
SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(global.ConfigPath)
		},
	}
}

func runServeCommand(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, closer := logger.New(cfg.LoggerConfig())
	defer func() { _ = closer.Close() }()

	st, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := fanout.NewHub(log)
	go hub.Run(ctx)

	var opts []tracker.Option
	if cfg.History.Enabled {
		sink, err := clickhouse.New(cfg.History.Addr, cfg.History.Database, cfg.History.Username, cfg.History.Password, "")
		if err != nil {
			return fmt.Errorf("failed to connect history sink: %w", err)
		}
		defer func() { _ = sink.Close() }()
		if err := sink.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare history schema: %w", err)
		}
		opts = append(opts, tracker.WithHistorySinks(sink))
		log.Info("journey history sink enabled", "addr", cfg.History.Addr)
	}
	svc := tracker.New(st, hub, log, opts...)

	rc := cache.New(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, cfg.Cache.TTL)
	defer func() { _ = rc.Close() }()
	if rc.Enabled() {
		if err := rc.Ping(ctx); err != nil {
			log.Warn("response cache unreachable, continuing without it", "addr", cfg.Cache.Addr, "error", err)
		} else {
			log.Info("response cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL)
		}
	}

	eng := analytics.NewEngine(st, hub, cfg.Thresholds(), log)
	gen := insight.NewGenerator(st, hub, log)

	sched := schedule.NewScheduler(log)
	if err := sched.Add(&schedule.Job{
		Name:     "bottleneck-analysis",
		Schedule: cfg.Analytics.Schedule,
		Run: func(ctx context.Context) error {
			_, err := eng.RunOnce(ctx)
			return err
		},
	}); err != nil {
		return fmt.Errorf("failed to schedule analysis: %w", err)
	}
	if err := sched.Add(&schedule.Job{
		Name:     "insight-refresh",
		Schedule: cfg.Insights.Schedule,
		Run: func(ctx context.Context) error {
			_, err := gen.Generate(ctx)
			return err
		},
	}); err != nil {
		return fmt.Errorf("failed to schedule insights: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	router := server.NewRouter(svc, eng, gen, hub, st, log, server.Options{
		DelayedThreshold: cfg.Server.DelayedThreshold,
		Cache:            rc,
	})
	apiSrv := server.NewServer(cfg.Server.Listen, router)
	log.Info("api server listening", "addr", cfg.Server.Listen)

	var hookSrv *http.Server
	if cfg.Webhook.Enabled {
		e := webhook.New(svc, log).Echo()
		hookSrv = &http.Server{
			Addr:              cfg.Webhook.Listen,
			Handler:           e,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := hookSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("webhook listener failed", "error", err)
			}
		}()
		log.Info("webhook listener started", "addr", cfg.Webhook.Listen)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if hookSrv != nil {
		if err := hookSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("webhook shutdown failed", "error", err)
		}
	}
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown failed", "error", err)
	}
	return nil
}

func newStore(cfg config.Config) (store.Store, error) {
	st, err := factory.New(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to prepare store schema: %w", err)
	}
	return st, nil
}
