package audit

import "time"

// TimelineFilters menampung filter dasar untuk audit timeline.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TimelineQuery adalah bentuk filter yang diteruskan ke repository.
// Limit nol berarti tanpa batas.
type TimelineQuery struct {
	From   time.Time
	To     time.Time
	Actor  string
	Entity string
	Action string
	Offset int
	Limit  int
}

// Match reports whether the row falls inside the query window and filters.
func (q TimelineQuery) Match(row TimelineRow) bool {
	if !q.From.IsZero() && row.At.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !row.At.Before(q.To) {
		return false
	}
	if q.Actor != "" && row.Actor != q.Actor {
		return false
	}
	if q.Entity != "" && row.Entity != q.Entity {
		return false
	}
	if q.Action != "" && row.Action != q.Action {
		return false
	}
	return true
}

// TimelineRow mewakili satu baris audit timeline.
type TimelineRow struct {
	At       time.Time      `json:"at"`
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// PagingInfo menyimpan metadata pagination sederhana.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

func rowFromEvent(event Event) TimelineRow {
	return TimelineRow{
		At:       event.At,
		Actor:    event.ActorID,
		Action:   event.Action,
		Entity:   event.Entity,
		EntityID: event.EntityID,
		Meta:     event.Meta,
	}
}
