package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/deelflow/deelflow/internal/platform/httpx"
	"github.com/deelflow/deelflow/internal/shared"
)

const defaultExportLimit = 10
const rateWindow = time.Minute

// MountRoutes mendaftarkan endpoint audit timeline dan ekspor CSV.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(h.exportLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit exceeded")
		}),
	)
	r.With(h.gateway.Protect(OpGetAuditLog)).Get("/audit", h.handleTimeline)
	r.Group(func(gr chi.Router) {
		// Gateway lebih dulu supaya limiter bisa memakai identitas pengguna.
		gr.Use(h.gateway.Protect(OpExportAuditLog))
		gr.Use(limiter)
		gr.Get("/audit/export.csv", h.handleExport)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if user, ok := shared.UserIDFromContext(r.Context()); ok && user != "" {
		return "user:" + user, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
