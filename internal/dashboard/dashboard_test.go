package dashboard_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deelflow/deelflow/internal/dashboard"
	"github.com/deelflow/deelflow/internal/rbac"
	"github.com/deelflow/deelflow/internal/shared"
	_ "github.com/deelflow/deelflow/testing"
)

func newStore(t *testing.T) (*dashboard.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return dashboard.NewStore(client), mr
}

func TestCatalogOperationsAreValid(t *testing.T) {
	registry := rbac.DefaultRegistry()
	table, err := rbac.NewOperationTable(registry, rbac.ManagementOperations(), dashboard.Operations())
	require.NoError(t, err)

	op, ok := table.Lookup("get_total_revenue")
	require.True(t, ok)
	assert.Equal(t, []string{shared.PermRevenueView}, op.Permissions)
	assert.Len(t, dashboard.Metrics(), 25)
}

func TestStorePublishAndLoad(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	_, err := store.Load(ctx, "total-revenue")
	require.ErrorIs(t, err, dashboard.ErrMetricUnavailable)

	require.NoError(t, store.Publish(ctx, "total-revenue", []byte(`{"total":1250000}`)))
	assert.True(t, mr.Exists("dashboard:metric:total-revenue"))

	snap, err := store.Load(ctx, "total-revenue")
	require.NoError(t, err)
	assert.Equal(t, "total-revenue", snap.Slug)
	assert.JSONEq(t, `{"total":1250000}`, string(snap.Payload))
	assert.False(t, snap.PublishedAt.IsZero())

	assert.ErrorIs(t, store.Publish(ctx, "crystal-ball", []byte(`{}`)), dashboard.ErrUnknownMetric)
	assert.ErrorIs(t, store.Publish(ctx, "total-revenue", []byte(`{not json`)), dashboard.ErrInvalidPayload)
}

// latencyHook delays every command so concurrent loads share one flight.
type latencyHook struct{ delay time.Duration }

func (latencyHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h latencyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		time.Sleep(h.delay)
		return next(ctx, cmd)
	}
}

func (latencyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestLoadSurvivesOtherCallerTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := dashboard.NewStore(client)
	require.NoError(t, store.Publish(context.Background(), "total-revenue", []byte(`{"total":1}`)))
	client.AddHook(latencyHook{delay: 100 * time.Millisecond})

	var (
		wg      sync.WaitGroup
		errA    error
		errB    error
		payload json.RawMessage
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, errA = store.Load(ctx, "total-revenue")
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		snap, err := store.Load(context.Background(), "total-revenue")
		errB = err
		payload = snap.Payload
	}()
	wg.Wait()

	assert.ErrorIs(t, errA, context.DeadlineExceeded)
	require.NoError(t, errB)
	assert.JSONEq(t, `{"total":1}`, string(payload))
}

func TestSummaryFiltersByPermission(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	svc := dashboard.NewService(store)
	require.NoError(t, svc.Publish(ctx, "total-revenue", []byte(`1`)))
	require.NoError(t, svc.Publish(ctx, "monthly-profit", []byte(`2`)))
	require.NoError(t, svc.Publish(ctx, "compliance-status", []byte(`3`)))

	summary, err := svc.Summary(ctx, []string{shared.PermRevenueView})
	require.NoError(t, err)
	slugs := make([]string, 0, len(summary.Metrics))
	for _, snap := range summary.Metrics {
		slugs = append(slugs, snap.Slug)
	}
	assert.Equal(t, []string{"total-revenue", "monthly-profit"}, slugs)
	assert.Equal(t, []string{"revenue-user-growth-chart-data", "monthly-trend-data", "historical-performance"}, summary.Unavailable)

	summary, err = svc.Summary(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, summary.Metrics)
	assert.Empty(t, summary.Unavailable)
}

type headerResolver struct{}

func (headerResolver) Resolve(r *http.Request) (string, error) {
	if user := r.Header.Get("X-Test-User"); user != "" {
		return user, nil
	}
	return "", fmt.Errorf("%w: anonymous", rbac.ErrIdentityUnresolved)
}

func TestHandlerProtectsMetrics(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	svc := dashboard.NewService(store)
	require.NoError(t, svc.Publish(ctx, "total-revenue", []byte(`{"total":10}`)))

	registry := rbac.DefaultRegistry()
	repo := rbac.NewMemoryRepository(registry.Catalog())
	roles := rbac.NewService(repo, registry, nil)
	engine := rbac.NewEngine(repo, registry, nil)
	_, err := roles.CreateRole(ctx, rbac.CreateRoleInput{Name: "analyst", Permissions: []string{shared.PermRevenueView}})
	require.NoError(t, err)
	_, err = roles.AssignRole(ctx, "alice", "analyst")
	require.NoError(t, err)

	table, err := rbac.NewOperationTable(registry, dashboard.Operations())
	require.NoError(t, err)
	gateway := rbac.NewGateway(rbac.GatewayConfig{Engine: engine, Resolver: headerResolver{}, Operations: table})
	router := chi.NewRouter()
	router.Route("/api", dashboard.NewHandler(nil, svc, gateway, engine).MountRoutes)

	get := func(path, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/api/total-revenue", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap dashboard.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.JSONEq(t, `{"total":10}`, string(snap.Payload))

	assert.Equal(t, http.StatusServiceUnavailable, get("/api/monthly-profit", "alice").Code)
	assert.Equal(t, http.StatusForbidden, get("/api/compliance-status", "alice").Code)
	assert.Equal(t, http.StatusForbidden, get("/api/total-revenue", "mallory").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/api/total-revenue", "").Code)

	rec = get("/api/dashboard", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary dashboard.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	require.Len(t, summary.Metrics, 1)
	assert.Equal(t, "total-revenue", summary.Metrics[0].Slug)

	_, err = roles.UpdateRolePermissions(ctx, "analyst", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get("/api/total-revenue", "alice").Code)
}
