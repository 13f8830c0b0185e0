package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const loadTimeout = 2 * time.Second

// ErrMetricUnavailable indicates no payload has been published yet.
var ErrMetricUnavailable = errors.New("dashboard: metric unavailable")

// ErrUnknownMetric indicates a slug outside the catalog.
var ErrUnknownMetric = errors.New("dashboard: unknown metric")

// ErrInvalidPayload indicates a payload that is not a JSON document.
var ErrInvalidPayload = errors.New("dashboard: payload is not valid JSON")

// Snapshot is a published metric payload.
type Snapshot struct {
	Slug        string          `json:"metric"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// Store keeps the latest payload of each metric in Redis.
type Store struct {
	client *redis.Client
	group  singleflight.Group
	now    func() time.Time
}

// NewStore constructs a payload store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// Publish replaces the payload of a metric.
func (s *Store) Publish(ctx context.Context, slug string, payload []byte) error {
	if _, ok := LookupMetric(slug); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMetric, slug)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, slug)
	}
	raw, err := json.Marshal(Snapshot{Slug: slug, Payload: payload, PublishedAt: s.now().UTC()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(slug), raw, 0).Err()
}

// Load returns the latest payload of a metric. Concurrent loads of the same
// metric share one Redis round trip; the shared call is detached from any
// single caller's cancellation and bounded by loadTimeout instead.
func (s *Store) Load(ctx context.Context, slug string) (Snapshot, error) {
	ch := s.group.DoChan(slug, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		raw, err := s.client.Get(loadCtx, key(slug)).Bytes()
		if errors.Is(err, redis.Nil) {
			return Snapshot{}, ErrMetricUnavailable
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("dashboard: load %s: %w", slug, err)
		}
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("dashboard: decode %s: %w", slug, err)
		}
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

func key(slug string) string {
	return "dashboard:metric:" + slug
}
