package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"stockvision/internal/bus"
	"stockvision/internal/logger"
	"stockvision/internal/metrics"
	"stockvision/internal/model"
)

// Handle is the per-message trigger: it decodes the snapshot only to learn
// the ticker, then analyzes that ticker from the store.
func (e *Engine) Handle(ctx context.Context, msg bus.Message) error {
	e.prom.MessagesConsumed.WithLabelValues("analyzer").Inc()

	snap, err := model.DecodeSnapshot(msg.Body)
	if err != nil {
		e.prom.MalformedMessages.WithLabelValues("analyzer").Inc()
		return err
	}
	e.log.Debug("received message", append([]any{"ticker", snap.Ticker}, logger.LogWithTrace(ctx)...)...)

	if _, err := e.Analyze(ctx, snap.Ticker); err != nil {
		e.prom.StorageFailures.WithLabelValues("analyzer").Inc()
		return err
	}
	return nil
}

// ServiceConfig wires the analyzer process.
type ServiceConfig struct {
	Topology bus.Topology // queue the analyzer consumes
	Tickers  []string     // analyzed by the schedule
	Schedule string       // optional cron spec (with seconds), e.g. "0 30 22 * * 1-5"
}

// Service runs the analyzer consumer loop and the optional schedule.
type Service struct {
	cfg    ServiceConfig
	bus    bus.Consumer
	closer func() error
	engine *Engine
	worker *bus.Worker
	log    *slog.Logger
}

// NewService creates the analyzer service. b is closed when Run returns.
func NewService(cfg ServiceConfig, b bus.Bus, engine *Engine, prom *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		bus:    b,
		closer: b.Close,
		engine: engine,
		worker: bus.NewWorker("analyzer", b, cfg.Topology.Queue, engine, log),
		log:    log.With("component", "analyzer"),
	}
}

// scheduleParser accepts six-field specs (with seconds) and descriptors such
// as "@every 1h" or "@daily".
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether spec is a usable analysis schedule.
// An empty spec disables the schedule and is valid.
func ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

// Run declares the queue, starts the schedule and consumes until ctx is
// cancelled or the bus fails. Closing the bus is the last action.
func (s *Service) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := s.closer(); cerr != nil && !errors.Is(cerr, bus.ErrClosed) {
			s.log.Warn("bus close", "error", cerr)
		}
	}()

	if err := s.bus.Declare(ctx, s.cfg.Topology); err != nil {
		return fmt.Errorf("%w: declare %s: %v", bus.ErrBusFailure, s.cfg.Topology, err)
	}

	if s.cfg.Schedule != "" {
		c := cron.New(cron.WithParser(scheduleParser), cron.WithLogger(cron.PrintfLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelDebug))))
		job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
			n := s.engine.AnalyzeAll(ctx, s.cfg.Tickers)
			s.log.Info("scheduled analysis complete", "tickers", len(s.cfg.Tickers), "written", n)
		}))
		if _, err := c.AddJob(s.cfg.Schedule, job); err != nil {
			return fmt.Errorf("analyzer schedule %q: %w", s.cfg.Schedule, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		s.log.Info("analysis schedule registered", "spec", s.cfg.Schedule)
	}

	s.log.Info("analyzer running", "topology", s.cfg.Topology.String())
	return s.worker.Run(ctx)
}
