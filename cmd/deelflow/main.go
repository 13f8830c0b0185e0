package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/deelflow/deelflow/cmd/deelflow/cli"
	"github.com/deelflow/deelflow/internal/app"
	"github.com/deelflow/deelflow/internal/platform/cache"
	"github.com/deelflow/deelflow/internal/platform/db"
	"github.com/deelflow/deelflow/internal/rbac"
	"github.com/deelflow/deelflow/jobs"
	"github.com/deelflow/deelflow/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deelflow",
		Short:         "Authorization service for the Deelflow analytics dashboard",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSeedCmd(), newJobsCmd())
	return root
}

// resources bundles the connections a command opened.
type resources struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
}

func (r *resources) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			r.logger.Warn("redis close", slog.Any("error", err))
		}
	}
}

func openResources(ctx context.Context, needPostgres bool) (*resources, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt := &resources{cfg: cfg, logger: app.NewLogger(cfg)}
	if needPostgres || cfg.StoreDriver == app.StoreDriverPostgres {
		rt.pool, err = db.New(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
	}
	rt.redis, err = cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rt, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openResources(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			logger := rt.logger

			deps := app.Dependencies{Pool: rt.pool, Redis: rt.redis}
			redisOpts := asynq.RedisClientOpt{Addr: rt.cfg.RedisAddr}
			inspector := asynq.NewInspector(redisOpts)
			defer func() {
				if err := inspector.Close(); err != nil {
					logger.Warn("inspector close", slog.Any("error", err))
				}
			}()
			deps.Inspector = inspector
			if rt.cfg.AuditAsync {
				client, err := jobs.NewClient(redisOpts)
				if err != nil {
					return fmt.Errorf("init job client: %w", err)
				}
				defer func() {
					if err := client.Close(); err != nil {
						logger.Warn("job client close", slog.Any("error", err))
					}
				}()
				deps.Queue = client
			}

			application, err := app.Build(ctx, rt.cfg, logger, deps)
			if err != nil {
				return err
			}

			go func() {
				if err := rbac.WatchReload(ctx, rt.redis, application.RBAC, logger); err != nil {
					logger.Error("registry reload watcher", slog.Any("error", err))
				}
			}()
			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						if err := application.RBAC.ReloadRegistry(ctx); err != nil {
							logger.Error("reload permission registry", slog.Any("error", err))
							continue
						}
						logger.Info("permission registry reloaded", slog.Int64("version", application.RBAC.Registry().Version()))
					}
				}
			}()

			server := &http.Server{
				Addr:         rt.cfg.AppAddr,
				Handler:      application.Router,
				ReadTimeout:  rt.cfg.AppReadTimeout,
				WriteTimeout: rt.cfg.AppWriteTimeout,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting http server", slog.String("addr", rt.cfg.AppAddr), slog.String("store", rt.cfg.StoreDriver))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					logger.Error("http server", slog.Any("error", err))
					return err
				}
			}
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("graceful shutdown", slog.Any("error", err))
				return err
			}
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openResources(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := db.Migrate(rt.pool, migrations.FS, rt.logger); err != nil {
				return err
			}
			rt.logger.Info("migrations applied")
			if err := rbac.RequestReload(cmd.Context(), rt.redis); err != nil {
				rt.logger.Warn("request registry reload", slog.Any("error", err))
			}
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var bindings []string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default roles and optional user bindings",
		Long: "Creates super_admin, admin, staff and analyst. Existing roles keep their\n" +
			"permissions; missing defaults are added. Use --bind user=role to assign roles.",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := cli.ParseBindings(bindings)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rt, err := openResources(ctx, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.cfg.StoreDriver == app.StoreDriverMemory {
				return errors.New("seed requires STORE_DRIVER=postgres")
			}
			application, err := app.Build(ctx, rt.cfg, rt.logger, app.Dependencies{Pool: rt.pool, Redis: rt.redis})
			if err != nil {
				return err
			}
			if err := app.Seed(ctx, application.RBAC, parsed); err != nil {
				return err
			}
			rt.logger.Info("seed complete", slog.Int("bindings", len(parsed)))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&bindings, "bind", nil, "assign a role, as user=role (repeatable)")
	return cmd
}

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	withJobs := func(fn func(ctx context.Context, c *cli.JobsCLI, cfg *app.Config) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			c, err := cli.NewJobsCLI(cfg.RedisAddr)
			if err != nil {
				return err
			}
			defer c.Close()
			return fn(cmd.Context(), c, cfg)
		}
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: withJobs(func(ctx context.Context, c *cli.JobsCLI, cfg *app.Config) error {
			queues, err := c.InspectQueues(ctx)
			if err != nil {
				return err
			}
			for _, q := range queues {
				fmt.Printf("%-8s pending=%d active=%d scheduled=%d retry=%d failed=%d\n",
					q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Failed)
			}
			return nil
		}),
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Enqueue an audit log prune now",
		RunE: withJobs(func(ctx context.Context, c *cli.JobsCLI, cfg *app.Config) error {
			info, err := c.Trigger(ctx, jobs.TaskAuditPrune, cfg.AuditRetentionDays)
			if err != nil {
				return err
			}
			fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		}),
	}

	publish := &cobra.Command{
		Use:   "publish <metric> <file>",
		Short: "Enqueue a dashboard metric payload read from a JSON file ('-' for stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(args[1])
			if err != nil {
				return err
			}
			return withJobs(func(ctx context.Context, c *cli.JobsCLI, cfg *app.Config) error {
				info, err := c.PublishMetric(ctx, args[0], payload)
				if err != nil {
					return err
				}
				fmt.Printf("enqueued %s id=%s\n", info.Type, info.ID)
				return nil
			})(cmd, args)
		},
	}

	cmd.AddCommand(stats, prune, publish)
	return cmd
}

func readPayload(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
