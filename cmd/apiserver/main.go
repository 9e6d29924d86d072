package main

import (
	"errors"
	"net/http"

	"stockvision/internal/app"
)

func main() {
	rt, err := app.Bootstrap("apiserver")
	if err != nil {
		app.Exit(nil, "apiserver", err)
	}

	ctx, cancel := rt.SignalContext()
	defer cancel()

	store, err := rt.OpenStore(ctx)
	if err != nil {
		app.Exit(rt.Log, "apiserver", err)
	}
	defer store.Close()

	// The API router serves its own /metrics and /healthz.
	err = rt.API(store).ListenAndServe(ctx, rt.Config.Server.Addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		store.Close()
		app.Exit(rt.Log, "apiserver", err)
	}
	rt.Log.Info("apiserver stopped")
}
