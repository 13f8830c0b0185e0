package cli

import (
	"fmt"
	"strings"

	"github.com/deelflow/deelflow/internal/app"
)

// ParseBindings turns "user=role" flags into seed bindings.
func ParseBindings(values []string) ([]app.SeedBinding, error) {
	out := make([]app.SeedBinding, 0, len(values))
	for _, raw := range values {
		user, role, ok := strings.Cut(raw, "=")
		user = strings.TrimSpace(user)
		role = strings.TrimSpace(role)
		if !ok || user == "" || role == "" {
			return nil, fmt.Errorf("invalid binding %q, want user=role", raw)
		}
		out = append(out, app.SeedBinding{UserID: user, Role: role})
	}
	return out, nil
}
