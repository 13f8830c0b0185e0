package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRingKeepsNewest(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, Event{
			ActorID:  "alice",
			Action:   ActionAuthzDeny,
			Entity:   "operation",
			EntityID: string(rune('a' + i)),
			At:       base.Add(time.Duration(i) * time.Minute),
		}))
	}
	rows, err := store.Timeline(ctx, TimelineQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"e", "d", "c"}, []string{rows[0].EntityID, rows[1].EntityID, rows[2].EntityID})

	paged, err := store.Timeline(ctx, TimelineQuery{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "d", paged[0].EntityID)

	assert.ErrorIs(t, store.Record(ctx, Event{Action: ActionAuthzDeny}), ErrInvalidEvent)
}

func TestMemoryStoreFiltersAndPrune(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{ActorID: "alice", Action: ActionRoleCreate, Entity: "role", EntityID: "analyst", At: base},
		{ActorID: "bob", Action: ActionAuthzDeny, Entity: "operation", EntityID: "create_role", At: base.Add(time.Hour)},
		{ActorID: "alice", Action: ActionUserRoleAssign, Entity: "user", EntityID: "zoe", At: base.Add(2 * time.Hour)},
	}
	for _, ev := range events {
		require.NoError(t, store.Record(ctx, ev))
	}

	rows, err := store.Timeline(ctx, TimelineQuery{Actor: "alice"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = store.Timeline(ctx, TimelineQuery{From: base.Add(30 * time.Minute), To: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0].Actor)

	removed, err := store.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	rows, err = store.Timeline(ctx, TimelineQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "zoe", rows[0].EntityID)

	require.NoError(t, store.Record(ctx, Event{ActorID: "carl", Action: ActionRoleDelete, Entity: "role", EntityID: "old", At: base.Add(3 * time.Hour)}))
	rows, err = store.Timeline(ctx, TimelineQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "carl", rows[0].Actor)
}
