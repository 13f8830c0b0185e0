package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "rbac:version"
	cacheWritesKey  = "rbac:writes"
)

// Cache stores effective permission sets in Redis under versioned keys. Every
// RBAC write bumps the version before and after it reaches the store, which
// orphans all earlier entries at once. A nil Cache disables caching.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{client: client, ttl: ttl, logger: logger, now: time.Now}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so a concurrent Begin is never overwritten.
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Effective returns the cached effective permission set of userID, populating
// it with load on a miss. Redis failures degrade to calling load directly, and
// so does any write that has begun but not confirmed its invalidation.
func (c *Cache) Effective(ctx context.Context, userID string, load func(context.Context) ([]string, error)) ([]string, error) {
	if c == nil {
		return load(ctx)
	}
	// The version is read before loading: a write racing with this call bumps
	// past it, so a set loaded from older state is stored under a dead key.
	ver, open, err := c.state(ctx)
	if err != nil {
		c.warn("rbac cache state", err)
		return load(ctx)
	}
	if open {
		return load(ctx)
	}
	key := effectiveKey(userID, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var perms []string
		if err := json.Unmarshal(payload, &perms); err == nil {
			return perms, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.warn("rbac cache get", err)
		return load(ctx)
	}

	perms, err := load(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.warn("rbac cache set", err)
	}
	return perms, nil
}

// state reads the version together with whether any write is still open.
// Both come from one MULTI so a Begin is never observed halfway.
func (c *Cache) state(ctx context.Context) (int64, bool, error) {
	var (
		openCmd *redis.IntCmd
		verCmd  *redis.StringCmd
	)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		openCmd = pipe.ZCount(ctx, cacheWritesKey, strconv.FormatInt(c.now().UnixMilli(), 10), "+inf")
		verCmd = pipe.Get(ctx, cacheVersionKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, err
	}
	ver, err := verCmd.Int64()
	if errors.Is(err, redis.Nil) {
		// Nothing may be cached until a version exists.
		_, err = c.Version(ctx)
		return 0, true, err
	}
	if err != nil {
		return 0, false, err
	}
	return ver, openCmd.Val() > 0, nil
}

// Begin registers a write before it reaches the store. Until Commit succeeds
// for the returned token, or the token outlives the cache TTL, readers bypass
// the cache. A failed Begin must abort the write.
func (c *Cache) Begin(ctx context.Context) (string, error) {
	if c == nil {
		return "", nil
	}
	token := uuid.NewString()
	expires := c.now().Add(c.pendingTTL()).UnixMilli()
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, cacheVersionKey)
		pipe.ZAdd(ctx, cacheWritesKey, redis.Z{Score: float64(expires), Member: token})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("rbac: begin cache write: %w", err)
	}
	return token, nil
}

// Commit closes a write opened with Begin, orphaning every set cached while
// it was open. On failure the token stays open and readers keep bypassing the
// cache until it expires.
func (c *Cache) Commit(ctx context.Context, token string) error {
	if c == nil || token == "" {
		return nil
	}
	now := strconv.FormatInt(c.now().UnixMilli(), 10)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, cacheVersionKey)
		pipe.ZRem(ctx, cacheWritesKey, token)
		pipe.ZRemRangeByScore(ctx, cacheWritesKey, "-inf", "("+now)
		return nil
	})
	if err != nil {
		return fmt.Errorf("rbac: bump cache: %w", err)
	}
	return nil
}

func (c *Cache) pendingTTL() time.Duration {
	if c.ttl < time.Minute {
		return time.Minute
	}
	return c.ttl
}

func (c *Cache) warn(msg string, err error) {
	if c.logger != nil {
		c.logger.Warn(msg, slog.Any("error", err))
	}
}

func effectiveKey(userID string, version int64) string {
	return "rbac:effective:" + userID + ":" + strconv.FormatInt(version, 10)
}
