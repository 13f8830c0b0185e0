// Package auth resolves caller identities issued by the external identity
// provider. Login and user management live in that provider.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deelflow/deelflow/internal/rbac"
	"github.com/deelflow/deelflow/internal/shared"
)

// SessionResolver reads the user bound to the session loaded by the session
// middleware.
type SessionResolver struct{}

// Resolve implements rbac.IdentityResolver.
func (SessionResolver) Resolve(r *http.Request) (string, error) {
	user := strings.TrimSpace(shared.SessionFromContext(r.Context()).User())
	if user == "" {
		return "", fmt.Errorf("%w: no session user", rbac.ErrIdentityUnresolved)
	}
	return user, nil
}

// HeaderResolver trusts a header set by the authenticating reverse proxy.
// Only enable it when the service is unreachable except through that proxy.
type HeaderResolver struct {
	Header string
}

// Resolve implements rbac.IdentityResolver.
func (h HeaderResolver) Resolve(r *http.Request) (string, error) {
	if h.Header == "" {
		return "", fmt.Errorf("%w: trusted header disabled", rbac.ErrIdentityUnresolved)
	}
	user := strings.TrimSpace(r.Header.Get(h.Header))
	if user == "" {
		return "", fmt.Errorf("%w: missing %s", rbac.ErrIdentityUnresolved, h.Header)
	}
	if strings.ContainsAny(user, " \t\r\n:") {
		return "", fmt.Errorf("%w: malformed %s", rbac.ErrIdentityUnresolved, h.Header)
	}
	return user, nil
}

// Chain tries each resolver in order and returns the first identity found.
// Errors other than an unresolved identity stop the chain.
type Chain []rbac.IdentityResolver

// Resolve implements rbac.IdentityResolver.
func (c Chain) Resolve(r *http.Request) (string, error) {
	for _, resolver := range c {
		user, err := resolver.Resolve(r)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, rbac.ErrIdentityUnresolved) {
			return "", err
		}
	}
	return "", rbac.ErrIdentityUnresolved
}

// NewResolver builds the resolver chain for the configured trusted header.
func NewResolver(trustedHeader string) rbac.IdentityResolver {
	if trustedHeader == "" {
		return SessionResolver{}
	}
	return Chain{SessionResolver{}, HeaderResolver{Header: trustedHeader}}
}
