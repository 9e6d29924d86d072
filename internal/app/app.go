// Package app wires configuration, logging, metrics, the bus and the store
// into the runnable services shared by the cmd binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockvision/config"
	"stockvision/internal/analytics"
	"stockvision/internal/api"
	"stockvision/internal/bus"
	"stockvision/internal/collector"
	"stockvision/internal/logger"
	"stockvision/internal/metrics"
	"stockvision/internal/model"
	"stockvision/internal/recorder"
	"stockvision/internal/source"
	"stockvision/internal/store/sqlstore"
)

// Runtime is the per-process state every binary starts from.
type Runtime struct {
	Service string
	Config  *config.Config
	Log     *slog.Logger
	Prom    *metrics.Metrics
	Health  *metrics.HealthStatus
}

// Bootstrap loads configuration and initialises logging and metrics.
func Bootstrap(service string) (*Runtime, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, err
	}
	log := logger.Init(service, cfg.LoggerOptions())
	return &Runtime{
		Service: service,
		Config:  cfg,
		Log:     log,
		Prom:    metrics.NewMetrics(),
		Health:  metrics.NewHealthStatus(),
	}, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func (rt *Runtime) SignalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			rt.Log.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// ServeMetrics starts the /metrics and /healthz listener. The returned
// function stops it.
func (rt *Runtime) ServeMetrics() func() {
	srv := metrics.NewServer(rt.Config.Metrics.Addr, rt.Prom, rt.Health, rt.Log)
	srv.Start()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}
}

// OpenBus connects the configured bus driver and registers its health check.
func (rt *Runtime) OpenBus(ctx context.Context) (bus.Bus, error) {
	b, err := bus.Open(ctx, rt.Config.BusOptions(), rt.Log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", bus.ErrBusFailure, err)
	}
	rt.Health.Add(metrics.Check{Name: "bus", Probe: func(context.Context) error { return b.Err() }})
	return b, nil
}

// OpenStore opens the relational store and registers its health check.
func (rt *Runtime) OpenStore(ctx context.Context) (model.Store, error) {
	s, err := sqlstore.Open(ctx, rt.Config.StoreConfig(), rt.Log)
	if err != nil {
		return nil, err
	}
	rt.Health.Add(metrics.Check{Name: "database", Probe: s.Ping})
	return s, nil
}

// Collector builds the ingest publisher service. It declares both consumer
// queues so snapshots published before a consumer starts are retained.
func (rt *Runtime) Collector(b bus.Bus) (*collector.Service, error) {
	cfg := rt.Config
	src, err := source.New(cfg.SourceOptions(), rt.Prom, rt.Log)
	if err != nil {
		return nil, err
	}
	pub := collector.NewPublisher(src, b, cfg.Bus.Exchange, cfg.Bus.RoutingKey, rt.Prom, rt.Log)
	return collector.NewService(collector.ServiceConfig{
		Tickers:    cfg.Collector.Tickers,
		Interval:   cfg.Collector.Interval,
		Topologies: []bus.Topology{cfg.RecorderTopology(), cfg.AnalyzerTopology()},
	}, b, pub, rt.Log), nil
}

// Recorder builds the store writer service.
func (rt *Runtime) Recorder(b bus.Bus, store model.PriceWriter) *recorder.Service {
	rec := recorder.New(store, rt.Prom, rt.Log)
	return recorder.NewService(rt.Config.RecorderTopology(), b, rec, rt.Log)
}

// Analyzer builds the analytics service.
func (rt *Runtime) Analyzer(b bus.Bus, store analytics.Store) *analytics.Service {
	cfg := rt.Config
	engine := analytics.NewEngine(cfg.AnalyticsConfig(), store, rt.Prom, rt.Log)
	return analytics.NewService(analytics.ServiceConfig{
		Topology: cfg.AnalyzerTopology(),
		Tickers:  cfg.Collector.Tickers,
		Schedule: cfg.Analyzer.Schedule,
	}, b, engine, rt.Prom, rt.Log)
}

// API builds the HTTP query server.
func (rt *Runtime) API(store api.Store) *api.Server {
	return api.NewServer(store, rt.Prom, rt.Log)
}

// Exit logs err and terminates the process with a non-zero status.
func Exit(log *slog.Logger, service string, err error) {
	if log == nil {
		log = slog.Default()
	}
	log.Error(service+" fatal", "error", err)
	os.Exit(1)
}

// sharedBus hands one connection to several services. Only the owner closes it.
type sharedBus struct{ bus.Bus }

func (sharedBus) Close() error { return nil }

// Shared wraps b so that services closing it on exit leave it open.
func Shared(b bus.Bus) bus.Bus { return sharedBus{b} }
