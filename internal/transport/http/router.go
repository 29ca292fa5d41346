package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consentgate/internal/platform/middleware"
)

// Registrar mounts routes onto the shared router.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports backend liveness for the health endpoint.
type HealthChecker func() error

// NewRouter assembles the full HTTP surface: the consent API, the metrics
// and health endpoints, and any admin registrars.
func NewRouter(logger *slog.Logger, health HealthChecker, registrars ...Registrar) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.RequestTime)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	for _, reg := range registrars {
		if reg != nil {
			reg.Register(r)
		}
	}

	return r
}
