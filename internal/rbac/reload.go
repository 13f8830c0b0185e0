package rbac

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const reloadChannel = "rbac.reload"

// ReloadRegistry re-reads the persisted permission catalog and invalidates
// every cached effective set, so grants of retired permissions stop counting
// at once.
func (s *Service) ReloadRegistry(ctx context.Context) error {
	return s.write(ctx, func() error { return s.registry.Reload(ctx, s.repo) })
}

// RequestReload asks every serving process to reload its registry.
func RequestReload(ctx context.Context, client *redis.Client) error {
	return client.Publish(ctx, reloadChannel, "reload").Err()
}

// WatchReload reloads the registry of svc on every RequestReload until ctx
// is done.
func WatchReload(ctx context.Context, client *redis.Client, svc *Service, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	sub := client.Subscribe(ctx, reloadChannel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-messages:
			if !ok {
				return nil
			}
			if err := svc.ReloadRegistry(ctx); err != nil {
				logger.Error("reload permission registry", slog.Any("error", err))
				continue
			}
			logger.Info("permission registry reloaded", slog.Int64("version", svc.registry.Version()))
		}
	}
}
