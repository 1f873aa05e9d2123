package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/angelmondragon/pactsign-backend/api/routes"
	"github.com/angelmondragon/pactsign-backend/internal/app"
	"github.com/angelmondragon/pactsign-backend/internal/dispatcher"
)

const shutdownTimeout = 15 * time.Second

func main() {
	rt := app.MustBoot("api")
	cfg, logg := rt.Config, rt.Logger

	contractsService, err := rt.Contracts()
	if err != nil {
		rt.Fatal(context.Background(), "failed to create contracts service", err)
	}
	outboxAdmin, err := dispatcher.NewAdminService(rt.OutboxRepository(), rt.Notifier(), logg)
	if err != nil {
		rt.Fatal(context.Background(), "failed to create outbox admin service", err)
	}

	// PORT wins so the platform router can assign one.
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := rt.SignalContext(map[string]any{"addr": addr})
	defer stop()
	defer rt.Shutdown(context.Background())

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, rt.DB, rt.Redis, contractsService, outboxAdmin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logg.Info(ctx, "http server listening")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			rt.Fatal(ctx, "http server stopped unexpectedly", err)
		}
	case <-ctx.Done():
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(drainCtx, "http server drain failed", err)
		}
		logg.Info(drainCtx, "http server drained")
	}
}
