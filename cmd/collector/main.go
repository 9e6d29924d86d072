package main

import (
	"stockvision/internal/app"
)

func main() {
	rt, err := app.Bootstrap("collector")
	if err != nil {
		app.Exit(nil, "collector", err)
	}
	rt.Log.Info("starting", "tickers", rt.Config.Collector.Tickers, "source", rt.Config.Collector.Source)

	ctx, cancel := rt.SignalContext()
	defer cancel()

	stopMetrics := rt.ServeMetrics()
	defer stopMetrics()

	// ---- Bus ----
	b, err := rt.OpenBus(ctx)
	if err != nil {
		app.Exit(rt.Log, "collector", err)
	}

	svc, err := rt.Collector(b)
	if err != nil {
		b.Close()
		app.Exit(rt.Log, "collector", err)
	}

	if err := svc.Run(ctx); err != nil {
		stopMetrics()
		app.Exit(rt.Log, "collector", err)
	}
	rt.Log.Info("collector stopped")
}
