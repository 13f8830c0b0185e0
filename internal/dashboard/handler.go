package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deelflow/deelflow/internal/platform/httpx"
	"github.com/deelflow/deelflow/internal/rbac"
	"github.com/deelflow/deelflow/internal/shared"
)

// EffectivePermissions resolves the permissions a caller holds.
type EffectivePermissions interface {
	EffectivePermissions(ctx context.Context, userID string) ([]string, error)
}

// Handler exposes the metric endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	gateway *rbac.Gateway
	perms   EffectivePermissions
}

// NewHandler builds the dashboard handler.
func NewHandler(logger *slog.Logger, service *Service, gateway *rbac.Gateway, perms EffectivePermissions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, gateway: gateway, perms: perms}
}

// MountRoutes registers one protected route per metric plus the summary.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, m := range metrics {
		r.With(h.gateway.Protect(m.Operation())).Get("/"+m.Slug, h.metric(m.Slug))
	}
	r.With(h.gateway.Authenticate).Get("/dashboard", h.summary)
}

func (h *Handler) metric(slug string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := h.service.Metric(r.Context(), slug)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, snap)
	}
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	granted, err := h.perms.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	summary, err := h.service.Summary(r.Context(), granted)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMetricUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "metric not published yet")
	case errors.Is(err, ErrUnknownMetric):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "dashboard request", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
