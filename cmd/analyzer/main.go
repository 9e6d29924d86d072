package main

import (
	"stockvision/internal/app"
)

func main() {
	rt, err := app.Bootstrap("analyzer")
	if err != nil {
		app.Exit(nil, "analyzer", err)
	}
	rt.Log.Info("starting",
		"short_window", rt.Config.Analyzer.ShortWindow,
		"long_window", rt.Config.Analyzer.LongWindow,
		"schedule", rt.Config.Analyzer.Schedule,
	)

	ctx, cancel := rt.SignalContext()
	defer cancel()

	stopMetrics := rt.ServeMetrics()
	defer stopMetrics()

	store, err := rt.OpenStore(ctx)
	if err != nil {
		app.Exit(rt.Log, "analyzer", err)
	}
	defer store.Close()

	b, err := rt.OpenBus(ctx)
	if err != nil {
		store.Close()
		app.Exit(rt.Log, "analyzer", err)
	}

	if err := rt.Analyzer(b, store).Run(ctx); err != nil {
		store.Close()
		app.Exit(rt.Log, "analyzer", err)
	}
	rt.Log.Info("analyzer stopped")
}
