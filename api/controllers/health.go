package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/pactsign-backend/api/responses"
	"github.com/angelmondragon/pactsign-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/pactsign-backend/pkg/errors"
	"github.com/angelmondragon/pactsign-backend/pkg/logger"
)

const (
	envHeader          = "X-PactSign-Env"
	readinessTimeout   = 2 * time.Second
	readinessDepFailed = "down"
)

// Pinger is satisfied by the db and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and reports each one by name. A single
// failure makes the whole probe fail.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		var failed error
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = readinessDepFailed
				if failed == nil {
					failed = pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable")
				}
				continue
			}
			checks[name] = "ok"
		}

		if failed != nil {
			typed := pkgerrors.As(failed).WithDetails(map[string]any{"checks": checks})
			responses.WriteError(r.Context(), logg, w, typed)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
