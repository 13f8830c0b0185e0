package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/deelflow/deelflow/internal/audit"
	audithttp "github.com/deelflow/deelflow/internal/audit/http"
	"github.com/deelflow/deelflow/internal/auth"
	"github.com/deelflow/deelflow/internal/dashboard"
	"github.com/deelflow/deelflow/internal/observability"
	platformcache "github.com/deelflow/deelflow/internal/platform/cache"
	"github.com/deelflow/deelflow/internal/rbac"
	"github.com/deelflow/deelflow/internal/shared"
	"github.com/deelflow/deelflow/jobs"
)

// Dependencies are the external resources the application is built on.
type Dependencies struct {
	// Pool is required with the postgres driver and ignored otherwise.
	Pool  *pgxpool.Pool
	Redis *redis.Client
	// Queue receives audit events when AUDIT_ASYNC is set.
	Queue     jobs.Enqueuer
	Inspector jobs.QueueInspector
}

// AuditBackend stores and reads audit events.
type AuditBackend interface {
	audit.Recorder
	audit.Repository
}

// Application is the wired object graph behind the HTTP server.
type Application struct {
	Router    http.Handler
	RBAC      *rbac.Service
	Engine    *rbac.Engine
	Gateway   *rbac.Gateway
	Audit     AuditBackend
	Dashboard *dashboard.Service
	Metrics   *observability.Metrics
}

// Build wires every component according to cfg.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, deps Dependencies) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Redis == nil {
		return nil, errors.New("app: redis client required")
	}

	var (
		repo         rbac.RepositoryPort
		auditBackend AuditBackend
		checks       []HealthCheck
	)
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if deps.Pool == nil {
			return nil, errors.New("app: postgres pool required")
		}
		repo = rbac.NewRepository(deps.Pool)
		auditBackend = audit.NewStore(deps.Pool)
		checks = append(checks, HealthCheck{Name: "postgres", Check: deps.Pool.Ping})
	case StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		repo = rbac.NewMemoryRepository(rbac.DefaultPermissions())
		auditBackend = audit.NewMemoryStore(audit.DefaultMemoryCapacity)
	default:
		return nil, fmt.Errorf("app: unsupported store driver %q", cfg.StoreDriver)
	}
	checks = append(checks, HealthCheck{Name: "redis", Check: platformcache.Ping(deps.Redis)})

	registry, err := rbac.LoadRegistry(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("app: load permission registry: %w", err)
	}

	metrics := observability.NewMetrics()
	cache := rbac.NewCache(deps.Redis, cfg.AuthzCacheTTL, logger)
	service := rbac.NewService(repo, registry, cache)
	engine := rbac.NewEngine(repo, registry, cache)

	var recorder audit.Recorder = auditBackend
	if cfg.AuditAsync && deps.Queue != nil {
		recorder = jobs.NewAuditEnqueuer(deps.Queue, auditBackend, logger)
	}

	table, err := rbac.NewOperationTable(registry,
		rbac.ManagementOperations(),
		audithttp.Operations(),
		dashboard.Operations(),
	)
	if err != nil {
		return nil, fmt.Errorf("app: operation table: %w", err)
	}
	gateway := rbac.NewGateway(rbac.GatewayConfig{
		Engine:       engine,
		Resolver:     auth.NewResolver(cfg.AuthTrustedHeader),
		Operations:   table,
		Recorder:     recorder,
		Observer:     metrics,
		Logger:       logger,
		AuditAllowed: cfg.AuditAllowDecisions,
	})

	dashboardService := dashboard.NewService(dashboard.NewStore(deps.Redis))
	sessions := shared.NewSessionManager(deps.Redis, cfg.SessionCookie, cfg.SessionSecret, cfg.SessionTTL)

	router := NewRouter(RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessions,
		RBACHandler:      rbac.NewHandler(logger, service, engine, gateway, recorder),
		AuditHandler:     audithttp.NewHandler(logger, audit.NewService(auditBackend), gateway, cfg.AuditExportPerMin),
		DashboardHandler: dashboard.NewHandler(logger, dashboardService, gateway, engine),
		JobHandler:       jobs.NewHandler(deps.Inspector, logger),
		HealthChecks:     checks,
		Metrics:          metrics,
	})

	return &Application{
		Router:    router,
		RBAC:      service,
		Engine:    engine,
		Gateway:   gateway,
		Audit:     auditBackend,
		Dashboard: dashboardService,
		Metrics:   metrics,
	}, nil
}
