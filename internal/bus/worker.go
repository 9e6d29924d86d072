package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stockvision/internal/logger"
	"stockvision/internal/model"
)

// Worker is a consumer loop: it reads deliveries from one queue and hands
// each to a Handler, one at a time. Handler errors are logged and the
// message is considered handled; only bus loss stops the loop.
type Worker struct {
	name     string
	consumer Consumer
	queue    string
	handler  Handler
	log      *slog.Logger

	// OnError is called for every handler error, after logging.
	OnError func(err error)
}

// NewWorker creates a Worker reading queue through c.
func NewWorker(name string, c Consumer, queue string, h Handler, log *slog.Logger) *Worker {
	return &Worker{
		name:     name,
		consumer: c,
		queue:    queue,
		handler:  h,
		log:      log.With("component", name, "queue", queue),
	}
}

// Run blocks until ctx is cancelled (returns nil) or the bus stops
// delivering (returns an error wrapping ErrBusFailure).
func (w *Worker) Run(ctx context.Context) error {
	deliveries, err := w.consumer.Consume(ctx, w.queue)
	if err != nil {
		return fmt.Errorf("%w: consume %s: %v", ErrBusFailure, w.queue, err)
	}
	w.log.Info("waiting for messages")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				cause := w.consumer.Err()
				if cause == nil {
					cause = errors.New("delivery channel closed")
				}
				return fmt.Errorf("%w: %s: %v", ErrBusFailure, w.queue, cause)
			}
			w.dispatch(ctx, msg)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, msg Message) {
	if msg.ID != "" {
		ctx = logger.WithTraceID(ctx, msg.ID)
	}
	err := w.handler.Handle(ctx, msg)
	if err == nil {
		return
	}

	attrs := append([]any{"error", err}, logger.LogWithTrace(ctx)...)
	switch {
	case errors.Is(err, model.ErrMalformedMessage):
		w.log.Warn("dropping malformed message", attrs...)
	default:
		w.log.Error("message handling failed", attrs...)
	}
	if w.OnError != nil {
		w.OnError(err)
	}
}
