// Package collector is the ingest publisher: it polls the snapshot source
// for every configured ticker and publishes one message per snapshot.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockvision/internal/bus"
	"stockvision/internal/logger"
	"stockvision/internal/metrics"
	"stockvision/internal/model"
	"stockvision/internal/source"
)

// BatchReport summarises one collect-and-publish pass.
type BatchReport struct {
	Published []string
	Skipped   []string // source had no data
	Failed    []string // fetch or publish error
	Duration  time.Duration
}

// Publisher fetches snapshots and publishes them under a fixed routing key.
type Publisher struct {
	src        source.Source
	pub        bus.Publisher
	exchange   string
	routingKey string
	prom       *metrics.Metrics
	log        *slog.Logger
}

// NewPublisher creates a Publisher sending to exchange/routingKey.
func NewPublisher(src source.Source, pub bus.Publisher, exchange, routingKey string, prom *metrics.Metrics, log *slog.Logger) *Publisher {
	return &Publisher{
		src:        src,
		pub:        pub,
		exchange:   exchange,
		routingKey: routingKey,
		prom:       prom,
		log:        log.With("component", "collector"),
	}
}

// CollectAndPublish handles every ticker independently: a fetch or publish
// failure for one ticker is logged and the batch continues. It returns an
// error only when the bus itself is gone (wrapping bus.ErrBusFailure).
func (p *Publisher) CollectAndPublish(ctx context.Context, tickers []string) (BatchReport, error) {
	start := time.Now()
	var rep BatchReport
	defer func() {
		rep.Duration = time.Since(start)
		p.prom.BatchDur.Observe(rep.Duration.Seconds())
	}()

	for _, ticker := range tickers {
		if ctx.Err() != nil {
			return rep, nil
		}

		snap, err := p.src.Snapshot(ctx, ticker)
		if err != nil {
			if errors.Is(err, model.ErrNoData) {
				p.prom.SnapshotsSkipped.Inc()
				p.log.Info("no data for ticker, skipping", "ticker", ticker)
				rep.Skipped = append(rep.Skipped, ticker)
				continue
			}
			p.prom.SnapshotsFailed.Inc()
			p.log.Warn("snapshot fetch failed", "ticker", ticker, "error", err)
			rep.Failed = append(rep.Failed, ticker)
			continue
		}
		p.prom.SnapshotsFetched.Inc()

		if err := p.publish(ctx, snap); err != nil {
			p.prom.PublishFailures.Inc()
			if errors.Is(err, bus.ErrClosed) {
				rep.Failed = append(rep.Failed, ticker)
				return rep, fmt.Errorf("%w: %v", bus.ErrBusFailure, err)
			}
			p.log.Error("publish failed", "ticker", ticker, "error", err)
			rep.Failed = append(rep.Failed, ticker)
			continue
		}
		rep.Published = append(rep.Published, ticker)
	}
	return rep, nil
}

func (p *Publisher) publish(ctx context.Context, snap model.PriceSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.Ticker, err)
	}
	now := time.Now()
	msg := bus.Message{
		ID:        logger.GenerateTraceID(snap.Ticker, now),
		Body:      body,
		Timestamp: now,
	}
	if err := p.pub.Publish(ctx, p.exchange, p.routingKey, msg); err != nil {
		return err
	}

	p.prom.MessagesPublished.Inc()
	p.log.Info("published snapshot",
		"ticker", snap.Ticker,
		"close", snap.Close.String(),
		"observed_at", snap.ObservedAt.Format(time.RFC3339),
		"trace_id", msg.ID,
	)
	return nil
}
