package main

import (
	"stockvision/internal/app"
)

func main() {
	rt, err := app.Bootstrap("recorder")
	if err != nil {
		app.Exit(nil, "recorder", err)
	}

	ctx, cancel := rt.SignalContext()
	defer cancel()

	stopMetrics := rt.ServeMetrics()
	defer stopMetrics()

	// ---- Store ----
	store, err := rt.OpenStore(ctx)
	if err != nil {
		app.Exit(rt.Log, "recorder", err)
	}
	defer store.Close()

	// ---- Bus ----
	b, err := rt.OpenBus(ctx)
	if err != nil {
		store.Close()
		app.Exit(rt.Log, "recorder", err)
	}

	if err := rt.Recorder(b, store).Run(ctx); err != nil {
		store.Close()
		app.Exit(rt.Log, "recorder", err)
	}
	rt.Log.Info("recorder stopped")
}
