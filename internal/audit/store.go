package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store writes records into audit_logs and reads the timeline back.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore returns a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Record persists the event.
func (s *Store) Record(ctx context.Context, event Event) error {
	if s == nil || s.pool == nil {
		return errors.New("audit store not initialised")
	}
	if err := event.Validate(); err != nil {
		return err
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	at := event.At
	if at.IsZero() {
		at = s.now()
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ActorID, event.Action, event.Entity, event.EntityID, metaJSON, at)
	return err
}

const timelineSQL = `
SELECT occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::text = '' OR actor_id = $3::text)
  AND ($4::text = '' OR entity = $4::text)
  AND ($5::text = '' OR action = $5::text)
ORDER BY occurred_at DESC, id DESC
OFFSET $6
LIMIT $7`

// Timeline returns rows newest first.
func (s *Store) Timeline(ctx context.Context, query TimelineQuery) ([]TimelineRow, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("audit store not initialised")
	}
	var limit *int64
	if query.Limit > 0 {
		v := int64(query.Limit)
		limit = &v
	}
	rows, err := s.pool.Query(ctx, timelineSQL,
		optionalTime(query.From), optionalTime(query.To),
		query.Actor, query.Entity, query.Action,
		int64(query.Offset), limit)
	if err != nil {
		return nil, fmt.Errorf("audit: timeline: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var (
			out  TimelineRow
			meta []byte
		)
		if err := row.Scan(&out.At, &out.Actor, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 && string(meta) != "null" {
			if err := json.Unmarshal(meta, &out.Meta); err != nil {
				return TimelineRow{}, err
			}
		}
		return out, nil
	})
}

// Prune deletes rows older than the cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errors.New("audit store not initialised")
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	return tag.RowsAffected(), nil
}

func optionalTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
