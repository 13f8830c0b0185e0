package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deelflow/deelflow/internal/auth"
	"github.com/deelflow/deelflow/internal/rbac"
	"github.com/deelflow/deelflow/internal/shared"
	_ "github.com/deelflow/deelflow/testing"
)

func requestWithSession(t *testing.T, userID string) *http.Request {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sm := shared.NewSessionManager(client, "deelflow_session", "secret", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/rbac/me/permissions", nil)
	if userID != "" {
		cookie, err := sm.Save(context.Background(), userID, nil)
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: "deelflow_session", Value: cookie})
	}
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func TestSessionResolver(t *testing.T) {
	user, err := auth.SessionResolver{}.Resolve(requestWithSession(t, "alice"))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)

	_, err = auth.SessionResolver{}.Resolve(requestWithSession(t, ""))
	assert.ErrorIs(t, err, rbac.ErrIdentityUnresolved)

	_, err = auth.SessionResolver{}.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, rbac.ErrIdentityUnresolved, "no session middleware")
}

func TestHeaderResolver(t *testing.T) {
	resolver := auth.HeaderResolver{Header: "X-Auth-User"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Auth-User", " bob ")
	user, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)

	req.Header.Set("X-Auth-User", "bob smith")
	_, err = resolver.Resolve(req)
	assert.ErrorIs(t, err, rbac.ErrIdentityUnresolved)

	_, err = auth.HeaderResolver{}.Resolve(req)
	assert.ErrorIs(t, err, rbac.ErrIdentityUnresolved)
}

type failing struct{}

func (failing) Resolve(r *http.Request) (string, error) {
	return "", errors.New("redis down")
}

func TestChain(t *testing.T) {
	resolver := auth.NewResolver("X-Auth-User")
	req := requestWithSession(t, "")
	req.Header.Set("X-Auth-User", "carol")
	user, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "carol", user)

	req = requestWithSession(t, "alice")
	req.Header.Set("X-Auth-User", "carol")
	user, err = resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, "alice", user, "session wins over header")

	_, err = auth.NewResolver("").Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, rbac.ErrIdentityUnresolved)

	_, err = auth.Chain{failing{}, auth.HeaderResolver{Header: "X-Auth-User"}}.Resolve(req)
	assert.EqualError(t, err, "redis down")
}
