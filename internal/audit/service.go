package audit

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultPageSize dipakai saat filter tidak menyebutkan ukuran halaman.
	DefaultPageSize = 20
	// MaxPageSize membatasi ukuran halaman timeline.
	MaxPageSize = 50
)

// Repository menyediakan akses baca ke audit_logs.
type Repository interface {
	Timeline(ctx context.Context, query TimelineQuery) ([]TimelineRow, error)
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Repository
}

// NewService membuat service audit timeline baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline mengambil data audit dengan paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	query := queryFromFilters(filters)
	query.Offset = (page - 1) * pageSize
	query.Limit = pageSize + 1
	rows, err := s.repo.Timeline(ctx, query)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export mengambil seluruh data timeline tanpa paging.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.Timeline(ctx, queryFromFilters(filters))
}

func queryFromFilters(filters TimelineFilters) TimelineQuery {
	query := TimelineQuery{
		From:   filters.From,
		Actor:  filters.Actor,
		Entity: filters.Entity,
		Action: filters.Action,
	}
	// Filter "to" bersifat inklusif per hari.
	if !filters.To.IsZero() {
		query.To = filters.To.Add(24 * time.Hour)
	}
	return query
}
