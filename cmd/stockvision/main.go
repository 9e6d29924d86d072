// Command stockvision runs the collector, recorder, analyzer and API server
// in one process over a single bus connection. Set STOCKVISION_BUS_DRIVER=memory
// to run without a broker.
package main

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"stockvision/internal/app"
	"stockvision/internal/bus"
)

func main() {
	rt, err := app.Bootstrap("stockvision")
	if err != nil {
		app.Exit(nil, "stockvision", err)
	}
	cfg := rt.Config
	rt.Log.Info("starting",
		"bus", cfg.Bus.Driver,
		"database", cfg.Database.Driver,
		"tickers", cfg.Collector.Tickers,
	)

	ctx, cancel := rt.SignalContext()
	defer cancel()

	stopMetrics := rt.ServeMetrics()
	defer stopMetrics()

	// ---- Store ----
	store, err := rt.OpenStore(ctx)
	if err != nil {
		app.Exit(rt.Log, "stockvision", err)
	}
	defer store.Close()

	// ---- Bus ----
	b, err := rt.OpenBus(ctx)
	if err != nil {
		store.Close()
		app.Exit(rt.Log, "stockvision", err)
	}
	shared := app.Shared(b)

	collector, err := rt.Collector(shared)
	if err != nil {
		b.Close()
		store.Close()
		app.Exit(rt.Log, "stockvision", err)
	}

	// Consumers declare their own queues; the collector declares both as
	// well, so the start order does not matter. The first fatal error stops
	// every component.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Recorder(shared, store).Run(gctx) })
	g.Go(func() error { return rt.Analyzer(shared, store).Run(gctx) })
	g.Go(func() error { return collector.Run(gctx) })
	g.Go(func() error {
		err := rt.API(store).ListenAndServe(gctx, cfg.Server.Addr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	err = g.Wait()
	if cerr := b.Close(); cerr != nil && !errors.Is(cerr, bus.ErrClosed) {
		rt.Log.Warn("bus close", "error", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		stopMetrics()
		store.Close()
		app.Exit(rt.Log, "stockvision", err)
	}
	rt.Log.Info("stockvision stopped")
}
