package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	audithttp "github.com/deelflow/deelflow/internal/audit/http"
	"github.com/deelflow/deelflow/internal/dashboard"
	"github.com/deelflow/deelflow/internal/observability"
	"github.com/deelflow/deelflow/internal/platform/httpx"
	"github.com/deelflow/deelflow/internal/rbac"
	"github.com/deelflow/deelflow/internal/shared"
	"github.com/deelflow/deelflow/jobs"
)

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	RBACHandler      *rbac.Handler
	AuditHandler     *audithttp.Handler
	DashboardHandler *dashboard.Handler
	JobHandler       *jobs.Handler
	HealthChecks     []HealthCheck
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Deelflow defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	mwConfig := MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}

	r := chi.NewRouter()
	for _, mw := range BaseStack(mwConfig) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.HealthChecks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(mwConfig) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		r.Route("/rbac", func(r chi.Router) {
			if params.RBACHandler != nil {
				params.RBACHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
		})
		if params.DashboardHandler != nil {
			r.Route("/api", params.DashboardHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		results := make([]string, len(checks))
		var g errgroup.Group
		for i, check := range checks {
			g.Go(func() error {
				if err := check.Check(ctx); err != nil {
					results[i] = err.Error()
					return err
				}
				results[i] = "ok"
				return nil
			})
		}
		failed := g.Wait() != nil

		status := healthStatus{Status: "ok"}
		if len(checks) > 0 {
			status.Checks = make(map[string]string, len(checks))
			for i, check := range checks {
				status.Checks[check.Name] = results[i]
			}
		}
		code := http.StatusOK
		if failed {
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		httpx.JSON(w, code, status)
	}
}
