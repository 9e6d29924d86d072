package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stockvision/internal/bus"
)

// ServiceConfig wires the collector process.
type ServiceConfig struct {
	Tickers  []string
	Interval time.Duration
	// Topologies are declared before the first publish: the exchange plus
	// every consumer queue, so messages published before a consumer starts
	// are retained.
	Topologies []bus.Topology
}

// Service runs CollectAndPublish on a fixed interval. Runs never overlap: a
// tick that fires while the previous batch is still running is skipped.
type Service struct {
	cfg ServiceConfig
	bus bus.Bus
	pub *Publisher
	log *slog.Logger
}

// NewService creates the collector service. b is closed when Run returns.
func NewService(cfg ServiceConfig, b bus.Bus, pub *Publisher, log *slog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	return &Service{cfg: cfg, bus: b, pub: pub, log: log.With("component", "collector")}
}

// Run declares the topology, publishes one batch immediately, then one per
// interval until ctx is cancelled or the bus fails.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.bus.Close(); err != nil && !errors.Is(err, bus.ErrClosed) {
			s.log.Warn("bus close", "error", err)
		}
	}()

	// ---- Declare topology ----
	for _, topo := range s.cfg.Topologies {
		if err := s.bus.Declare(ctx, topo); err != nil {
			return fmt.Errorf("%w: declare %s: %v", bus.ErrBusFailure, topo, err)
		}
	}

	// ---- Schedule ----
	fatal := make(chan error, 1)
	cronLog := cron.PrintfLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelDebug))
	job := cron.NewChain(cron.SkipIfStillRunning(cronLog)).Then(cron.FuncJob(func() {
		rep, err := s.pub.CollectAndPublish(ctx, s.cfg.Tickers)
		s.log.Info("batch complete",
			"published", len(rep.Published),
			"skipped", len(rep.Skipped),
			"failed", len(rep.Failed),
			"duration", rep.Duration.Round(time.Millisecond).String(),
		)
		if err != nil {
			select {
			case fatal <- err:
			default:
			}
		}
	}))

	c := cron.New(cron.WithLogger(cronLog))
	c.Schedule(cron.Every(s.cfg.Interval), job)
	c.Start()
	defer func() { <-c.Stop().Done() }()

	s.log.Info("collector running", "tickers", s.cfg.Tickers, "interval", s.cfg.Interval.String())
	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		job.Run()
	}()
	defer first.Wait()

	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
		return nil
	case err := <-fatal:
		return err
	}
}
