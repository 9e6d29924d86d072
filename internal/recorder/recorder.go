// Package recorder is the store writer: it consumes price snapshots from the
// bus and upserts one row per (ticker, trading date).
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockvision/internal/bus"
	"stockvision/internal/logger"
	"stockvision/internal/metrics"
	"stockvision/internal/model"
)

// Recorder handles snapshot messages.
type Recorder struct {
	store model.PriceWriter
	prom  *metrics.Metrics
	log   *slog.Logger
}

// New creates a Recorder writing to store.
func New(store model.PriceWriter, prom *metrics.Metrics, log *slog.Logger) *Recorder {
	return &Recorder{
		store: store,
		prom:  prom,
		log:   log.With("component", "recorder"),
	}
}

// Handle decodes one message and upserts its price row.
// Malformed messages return ErrMalformedMessage; database errors return
// ErrStorageFailure. Either way the message is not redelivered.
func (r *Recorder) Handle(ctx context.Context, msg bus.Message) error {
	r.prom.MessagesConsumed.WithLabelValues("recorder").Inc()

	snap, err := model.DecodeSnapshot(msg.Body)
	if err != nil {
		r.prom.MalformedMessages.WithLabelValues("recorder").Inc()
		return err
	}

	row := snap.Row()
	start := time.Now()
	if err := r.store.UpsertPrice(ctx, row); err != nil {
		r.prom.StorageFailures.WithLabelValues("recorder").Inc()
		return fmt.Errorf("%w: %v", model.ErrStorageFailure, err)
	}
	r.prom.UpsertDur.Observe(time.Since(start).Seconds())

	r.log.Info("stored price",
		append([]any{
			"ticker", row.Ticker,
			"date", row.TradingDate.Format(model.DateLayout),
			"close", row.Close.String(),
			"volume", row.Volume,
		}, logger.LogWithTrace(ctx)...)...)
	return nil
}

// Service runs the recorder consumer loop.
type Service struct {
	topo   bus.Topology
	bus    bus.Bus
	worker *bus.Worker
	log    *slog.Logger
}

// NewService creates the recorder service consuming topo.Queue. b is closed when Run returns.
func NewService(topo bus.Topology, b bus.Bus, rec *Recorder, log *slog.Logger) *Service {
	return &Service{
		topo:   topo,
		bus:    b,
		worker: bus.NewWorker("recorder", b, topo.Queue, rec, log),
		log:    log.With("component", "recorder"),
	}
}

// Run declares the topology and consumes until ctx is cancelled or the bus
// fails. Closing the bus is the last action.
func (s *Service) Run(ctx context.Context) error {
	defer func() {
		if err := s.bus.Close(); err != nil && !errors.Is(err, bus.ErrClosed) {
			s.log.Warn("bus close", "error", err)
		}
	}()

	if err := s.bus.Declare(ctx, s.topo); err != nil {
		return fmt.Errorf("%w: declare %s: %v", bus.ErrBusFailure, s.topo, err)
	}
	s.log.Info("recorder running", "topology", s.topo.String())
	return s.worker.Run(ctx)
}
