package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/mostafizurRahaman/donation-app-server/api/responses"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency the service cannot serve traffic without.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every named dependency and reports which ones failed.
func HealthReady(logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := map[string]string{}
		var failed bool
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				failed = true
				status[name] = "down"
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "dependency", name), "readiness check failed: "+err.Error())
				}
				continue
			}
			status[name] = "up"
		}
		if failed {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(status))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "dependencies": status})
	}
}
