package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubTimelineRepo struct {
	rows      []TimelineRow
	err       error
	lastQuery TimelineQuery
}

func (s *stubTimelineRepo) Timeline(ctx context.Context, query TimelineQuery) ([]TimelineRow, error) {
	s.lastQuery = query
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

func mockRow(at, actor, action, entity, entityID string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, Actor: actor, Action: action, Entity: entity, EntityID: entityID}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{
		rows: []TimelineRow{
			mockRow("2026-03-10T10:00:00Z", "alice", ActionRoleCreate, "role", "analyst"),
			mockRow("2026-03-09T09:00:00Z", "alice", ActionRolePermissions, "role", "analyst"),
			mockRow("2026-03-08T08:00:00Z", "bob", ActionAuthzDeny, "operation", "create_role"),
		},
	}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{
		From:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Page:     1,
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if !result.Paging.HasNext || result.Paging.NextPage != 2 {
		t.Fatalf("expected next page 2, got %+v", result.Paging)
	}
	if repo.lastQuery.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", repo.lastQuery.Limit)
	}
	if repo.lastQuery.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", repo.lastQuery.Offset)
	}
	wantTo := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if !repo.lastQuery.To.Equal(wantTo) {
		t.Fatalf("expected inclusive upper bound %v, got %v", wantTo, repo.lastQuery.To)
	}
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	svc := NewService(repo)
	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 3, PageSize: 500})
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if result.Paging.PageSize != MaxPageSize {
		t.Fatalf("expected page size %d, got %d", MaxPageSize, result.Paging.PageSize)
	}
	if repo.lastQuery.Offset != 2*MaxPageSize {
		t.Fatalf("expected offset %d, got %d", 2*MaxPageSize, repo.lastQuery.Offset)
	}
	if result.Paging.PrevPage != 2 || result.Paging.HasNext {
		t.Fatalf("unexpected paging %+v", result.Paging)
	}
	if result.Rows == nil {
		t.Fatalf("expected empty, non-nil rows")
	}
}

func TestServiceExportReturnsAllRows(t *testing.T) {
	repo := &stubTimelineRepo{
		rows: []TimelineRow{
			mockRow("2026-03-10T10:00:00Z", "alice", ActionUserRoleAssign, "user", "zoe"),
			mockRow("2026-03-09T09:00:00Z", "alice", ActionUserRoleRevoke, "user", "zoe"),
		},
	}
	svc := NewService(repo)
	rows, err := svc.Export(context.Background(), TimelineFilters{From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), Page: 4, PageSize: 1})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if repo.lastQuery.Limit != 0 || repo.lastQuery.Offset != 0 {
		t.Fatalf("export must not page, got %+v", repo.lastQuery)
	}
}

func TestServicePropagatesRepositoryError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(&stubTimelineRepo{err: boom})
	if _, err := svc.Timeline(context.Background(), TimelineFilters{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := NewService(nil).Export(context.Background(), TimelineFilters{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}

func TestWriteCSV(t *testing.T) {
	row := mockRow("2026-03-10T10:00:00Z", "alice", ActionRolePermissions, "role", "analyst")
	row.Meta = map[string]any{"permissions": []string{"view_revenue"}}
	out, err := WriteCSV([]TimelineRow{row})
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	want := "occurred_at,actor,action,entity,entity_id,meta\n" +
		"2026-03-10T10:00:00Z,alice,role.permissions.update,role,analyst,\"{\"\"permissions\"\":[\"\"view_revenue\"\"]}\"\n"
	if string(out) != want {
		t.Fatalf("unexpected csv:\n%s", out)
	}
}

func TestWriteCSVNeutralisesFormulas(t *testing.T) {
	row := mockRow("2026-03-10T10:00:00Z", "=HYPERLINK(\"http://evil\")", ActionUserRoleAssign, "user", "+cmd|' /C calc'!A0")
	row.Meta = map[string]any{"role": "-2+3"}
	safe := mockRow("2026-03-10T11:00:00Z", "bob", ActionUserRoleAssign, "user", "user-1")
	hyphen := mockRow("2026-03-10T12:00:00Z", "@admin", ActionUserRoleAssign, "user", "-1")
	out, err := WriteCSV([]TimelineRow{row, safe, hyphen})
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	want := "occurred_at,actor,action,entity,entity_id,meta\n" +
		"2026-03-10T10:00:00Z,\"'=HYPERLINK(\"\"http://evil\"\")\",user.role.assign,user,'+cmd|' /C calc'!A0,\"{\"\"role\"\":\"\"-2+3\"\"}\"\n" +
		"2026-03-10T11:00:00Z,bob,user.role.assign,user,user-1,\n" +
		"2026-03-10T12:00:00Z,'@admin,user.role.assign,user,'-1,\n"
	if string(out) != want {
		t.Fatalf("unexpected csv:\n%s", out)
	}
}
