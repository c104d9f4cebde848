package reports

import (
	"sort"
	"strings"
	"time"

	"zcc-reporting/api/internal/models"
)

const (
	SortAsc  = "ASC"
	SortDesc = "DESC"

	DefaultLoginLogoutLimit = 10
	DefaultStatusLimit      = 20

	dateLayout = "2006-01-02"
)

// Query filters and pages either report. From and To bound start_time inclusively.
type Query struct {
	From   time.Time
	To     time.Time
	Agents []string
	Sort   string
	Page   int
	Limit  int
}

type Page[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	Limit   int `json:"limit"`
}

type LoginLogoutRow struct {
	UserName      string    `json:"user_name"`
	UserID        string    `json:"user_id"`
	LoginTime     time.Time `json:"login_time"`
	LogoutTime    time.Time `json:"logout_time"`
	TotalDuration int64     `json:"total_duration"`
	Date          string    `json:"date"`
}

type StatusRow struct {
	ID        int64     `json:"id"`
	UserName  string    `json:"user_name"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"user_status"`
	SubStatus string    `json:"user_sub_status"`
	StartTime time.Time `json:"start_time_tz"`
	EndTime   time.Time `json:"end_time_tz"`
	Duration  int64     `json:"duration"`
	Date      string    `json:"date"`
}

// LoginLogout collapses events into one row per agent and local day. Total counts groups.
// Rows are ordered by date per q.Sort, then by name and id ascending.
func LoginLogout(events []models.Timecard, loc *time.Location, q Query) Page[LoginLogoutRow] {
	q = normalize(q, DefaultLoginLogoutLimit)
	if loc == nil {
		loc = time.UTC
	}

	type groupKey struct {
		userID   string
		userName string
		date     string
	}
	groups := map[groupKey]*LoginLogoutRow{}
	for _, ev := range filter(events, q) {
		start := ev.StartTime.In(loc)
		end := ev.EndTime.In(loc)
		key := groupKey{userID: ev.UserID, userName: ev.UserName, date: start.Format(dateLayout)}
		row, ok := groups[key]
		if !ok {
			groups[key] = &LoginLogoutRow{
				UserName:      ev.UserName,
				UserID:        ev.UserID,
				LoginTime:     start,
				LogoutTime:    end,
				TotalDuration: ev.DurationMS,
				Date:          key.date,
			}
			continue
		}
		if start.Before(row.LoginTime) {
			row.LoginTime = start
		}
		if end.After(row.LogoutTime) {
			row.LogoutTime = end
		}
		row.TotalDuration += ev.DurationMS
	}

	rows := make([]LoginLogoutRow, 0, len(groups))
	for _, row := range groups {
		rows = append(rows, *row)
	}
	desc := q.Sort == SortDesc
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Date != b.Date {
			if desc {
				return a.Date > b.Date
			}
			return a.Date < b.Date
		}
		if a.UserName != b.UserName {
			return a.UserName < b.UserName
		}
		return a.UserID < b.UserID
	})

	return Page[LoginLogoutRow]{
		Records: paginate(rows, q),
		Total:   len(rows),
		Page:    q.Page,
		Limit:   q.Limit,
	}
}

// StatusBreakdown emits one row per event. Total counts raw rows. Only the date key
// follows q.Sort; name and start time stay ascending.
func StatusBreakdown(events []models.Timecard, loc *time.Location, q Query) Page[StatusRow] {
	q = normalize(q, DefaultStatusLimit)
	if loc == nil {
		loc = time.UTC
	}

	kept := filter(events, q)
	rows := make([]StatusRow, 0, len(kept))
	for _, ev := range kept {
		start := ev.StartTime.In(loc)
		rows = append(rows, StatusRow{
			ID:        ev.ID,
			UserName:  ev.UserName,
			UserID:    ev.UserID,
			Status:    ev.Status,
			SubStatus: ev.SubStatus,
			StartTime: start,
			EndTime:   ev.EndTime.In(loc),
			Duration:  ev.DurationMS,
			Date:      start.Format(dateLayout),
		})
	}
	desc := q.Sort == SortDesc
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Date != b.Date {
			if desc {
				return a.Date > b.Date
			}
			return a.Date < b.Date
		}
		if a.UserName != b.UserName {
			return a.UserName < b.UserName
		}
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.ID < b.ID
	})

	return Page[StatusRow]{
		Records: paginate(rows, q),
		Total:   len(rows),
		Page:    q.Page,
		Limit:   q.Limit,
	}
}

func normalize(q Query, defaultLimit int) Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultLimit
	}
	q.Sort = NormalizeSort(q.Sort)
	return q
}

// NormalizeSort maps anything but ASC to DESC.
func NormalizeSort(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), SortAsc) {
		return SortAsc
	}
	return SortDesc
}

func filter(events []models.Timecard, q Query) []models.Timecard {
	var names map[string]bool
	if len(q.Agents) > 0 {
		names = make(map[string]bool, len(q.Agents))
		for _, n := range q.Agents {
			names[n] = true
		}
	}
	out := make([]models.Timecard, 0, len(events))
	for _, ev := range events {
		if ev.StartTime.Before(q.From) || ev.StartTime.After(q.To) {
			continue
		}
		if names != nil && !names[ev.UserName] {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func paginate[T any](rows []T, q Query) []T {
	// Compare in page units first so huge page or limit values cannot overflow.
	if len(rows) == 0 || q.Page-1 > (len(rows)-1)/q.Limit {
		return []T{}
	}
	offset := (q.Page - 1) * q.Limit
	end := len(rows)
	if q.Limit < end-offset {
		end = offset + q.Limit
	}
	return rows[offset:end]
}
