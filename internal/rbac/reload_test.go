package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deelflow/deelflow/internal/shared"
)

func TestWatchReloadPicksUpMigratedPermissions(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	full := DefaultPermissions()
	var trimmed []Permission
	for _, p := range full {
		if p.Name != shared.PermAIMetricsView {
			trimmed = append(trimmed, p)
		}
	}
	registry := NewRegistry(trimmed)
	repo := NewMemoryRepository(full)
	cache := NewCache(client, time.Minute, nil)
	svc := NewService(repo, registry, cache)
	engine := NewEngine(repo, registry, cache)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- WatchReload(ctx, client, svc, nil) }()

	_, err := svc.CreateRole(ctx, CreateRoleInput{Name: "ops", Permissions: []string{shared.PermAIMetricsView}})
	require.ErrorIs(t, err, ErrUnknownPermission)

	before, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		require.NoError(t, RequestReload(ctx, client))
		return registry.Has(shared.PermAIMetricsView)
	}, 2*time.Second, 20*time.Millisecond)
	after, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Greater(t, after, before, "reload invalidates cached sets")

	mustCreateRole(t, svc, "ops", shared.PermAIMetricsView)
	_, err = svc.AssignRole(ctx, "omar", "ops")
	require.NoError(t, err)
	assert.True(t, engine.Allowed(ctx, "omar", shared.PermAIMetricsView))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
