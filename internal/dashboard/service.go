package dashboard

import (
	"context"
	"errors"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// PayloadStore reads and writes metric payloads.
type PayloadStore interface {
	Load(ctx context.Context, slug string) (Snapshot, error)
	Publish(ctx context.Context, slug string, payload []byte) error
}

// Service reads dashboard metrics.
type Service struct {
	store PayloadStore
}

// NewService constructs the service.
func NewService(store PayloadStore) *Service {
	return &Service{store: store}
}

// Metric returns the latest payload of slug.
func (s *Service) Metric(ctx context.Context, slug string) (Snapshot, error) {
	if _, ok := LookupMetric(slug); !ok {
		return Snapshot{}, ErrUnknownMetric
	}
	return s.store.Load(ctx, slug)
}

// Publish stores a new payload for slug.
func (s *Service) Publish(ctx context.Context, slug string, payload []byte) error {
	if _, ok := LookupMetric(slug); !ok {
		return ErrUnknownMetric
	}
	return s.store.Publish(ctx, slug, payload)
}

// Summary holds every metric visible to a caller.
type Summary struct {
	Metrics     []Snapshot `json:"metrics"`
	Unavailable []string   `json:"unavailable"`
}

// Summary loads, in parallel, every metric unlocked by granted. Metrics
// without a published payload are listed as unavailable.
func (s *Service) Summary(ctx context.Context, granted []string) (Summary, error) {
	var (
		mu  sync.Mutex
		out = Summary{Metrics: []Snapshot{}, Unavailable: []string{}}
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, m := range metrics {
		if !slices.Contains(granted, m.Permission) {
			continue
		}
		g.Go(func() error {
			snap, err := s.store.Load(ctx, m.Slug)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrMetricUnavailable) {
				out.Unavailable = append(out.Unavailable, m.Slug)
				return nil
			}
			if err != nil {
				return err
			}
			out.Metrics = append(out.Metrics, snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	slices.SortFunc(out.Metrics, func(a, b Snapshot) int { return order(a.Slug) - order(b.Slug) })
	slices.SortFunc(out.Unavailable, func(a, b string) int { return order(a) - order(b) })
	return out, nil
}

func order(slug string) int {
	return slices.IndexFunc(metrics, func(m Metric) bool { return m.Slug == slug })
}
