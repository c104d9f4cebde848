package reports

import (
	"math"
	"testing"
	"time"
	_ "time/tzdata"

	"zcc-reporting/api/internal/models"
)

func tc(id int64, userID string, name string, start string, minutes int, duration int64) models.Timecard {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		panic(err)
	}
	return models.Timecard{
		ID:         id,
		UserID:     userID,
		UserName:   name,
		StartTime:  s.UTC(),
		EndTime:    s.UTC().Add(time.Duration(minutes) * time.Minute),
		Status:     "Ready",
		DurationMS: duration,
	}
}

func fixture() []models.Timecard {
	return []models.Timecard{
		tc(1, "u1", "Alice", "2024-05-01T09:00:00Z", 30, 1800000),
		tc(2, "u1", "Alice", "2024-05-01T13:00:00Z", 90, 5400001),
		tc(3, "u1", "Alice", "2024-05-01T08:15:00Z", 10, 600000),
		tc(4, "u2", "Bob", "2024-05-01T10:00:00Z", 60, 3600000),
		tc(5, "u2", "Bob", "2024-05-02T10:00:00Z", 60, 3600000),
		tc(6, "u1", "Alice", "2024-05-02T07:00:00Z", 5, 300000),
	}
}

var fullRange = Query{
	From: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2024, 5, 2, 23, 59, 59, 0, time.UTC),
}

func TestLoginLogoutGroupsExactly(t *testing.T) {
	q := fullRange
	q.Sort = SortAsc
	page := LoginLogout(fixture(), time.UTC, q)

	if page.Total != 4 {
		t.Fatalf("expected 4 groups, got %d", page.Total)
	}
	first := page.Records[0]
	if first.UserName != "Alice" || first.Date != "2024-05-01" {
		t.Fatalf("unexpected first row %+v", first)
	}
	if first.TotalDuration != 1800000+5400001+600000 {
		t.Fatalf("duration sum not exact: %d", first.TotalDuration)
	}
	if !first.LoginTime.Equal(time.Date(2024, 5, 1, 8, 15, 0, 0, time.UTC)) {
		t.Fatalf("login time should be the min start, got %s", first.LoginTime)
	}
	if !first.LogoutTime.Equal(time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)) {
		t.Fatalf("logout time should be the max end, got %s", first.LogoutTime)
	}
}

func TestTotalsUseDifferentCountingRules(t *testing.T) {
	events := fixture()
	logins := LoginLogout(events, time.UTC, fullRange)
	statuses := StatusBreakdown(events, time.UTC, fullRange)
	if logins.Total != 4 {
		t.Fatalf("login/logout total should count groups, got %d", logins.Total)
	}
	if statuses.Total != len(events) {
		t.Fatalf("status total should count raw rows, got %d", statuses.Total)
	}
}

func TestAgentFilterExcludesOthers(t *testing.T) {
	q := fullRange
	q.Agents = []string{"Alice"}
	for _, r := range LoginLogout(fixture(), time.UTC, q).Records {
		if r.UserName != "Alice" {
			t.Fatalf("login/logout leaked %q", r.UserName)
		}
	}
	status := StatusBreakdown(fixture(), time.UTC, q)
	if status.Total != 4 {
		t.Fatalf("expected 4 Alice rows, got %d", status.Total)
	}
	for _, r := range status.Records {
		if r.UserName != "Alice" {
			t.Fatalf("status leaked %q", r.UserName)
		}
	}
}

func TestSortDirectionOnlyAppliesToDate(t *testing.T) {
	q := fullRange
	q.Sort = SortDesc
	rows := StatusBreakdown(fixture(), time.UTC, q).Records

	want := []int64{6, 5, 3, 1, 2, 4}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i, id := range want {
		if rows[i].ID != id {
			t.Fatalf("position %d: want id %d, got %d (%+v)", i, id, rows[i].ID, rows)
		}
	}

	groups := LoginLogout(fixture(), time.UTC, q).Records
	if groups[0].Date != "2024-05-02" || groups[0].UserName != "Alice" || groups[1].UserName != "Bob" {
		t.Fatalf("unexpected group order %+v", groups)
	}
}

func TestStatusTieBreaksOnUserIDThenRowID(t *testing.T) {
	events := []models.Timecard{
		tc(9, "u2", "Sam", "2024-05-01T09:00:00Z", 1, 1),
		tc(8, "u1", "Sam", "2024-05-01T09:00:00Z", 1, 1),
		tc(7, "u1", "Sam", "2024-05-01T09:00:00Z", 1, 1),
	}
	rows := StatusBreakdown(events, time.UTC, fullRange).Records
	if rows[0].ID != 7 || rows[1].ID != 8 || rows[2].ID != 9 {
		t.Fatalf("unexpected tie-break order %+v", rows)
	}
}

func TestTimezoneShiftsLocalDate(t *testing.T) {
	events := []models.Timecard{
		tc(1, "u1", "Alice", "2024-05-01T22:30:00Z", 30, 1000),
		tc(2, "u1", "Alice", "2024-05-01T23:30:00Z", 30, 2000),
	}
	kolkata := ResolveLocation("+05:30")
	page := LoginLogout(events, kolkata, fullRange)
	if page.Total != 1 || page.Records[0].Date != "2024-05-02" {
		t.Fatalf("expected both events on local 2024-05-02, got %+v", page.Records)
	}
	_, offset := page.Records[0].LoginTime.Zone()
	if offset != 5*3600+30*60 {
		t.Fatalf("login time not converted, offset %d", offset)
	}
}

func TestPaginationAndDefaults(t *testing.T) {
	q := fullRange
	q.Page = 0
	q.Limit = 0
	page := StatusBreakdown(fixture(), time.UTC, q)
	if page.Page != 1 || page.Limit != DefaultStatusLimit || len(page.Records) != 6 {
		t.Fatalf("unexpected defaults %+v", page)
	}
	if LoginLogout(nil, nil, q).Limit != DefaultLoginLogoutLimit {
		t.Fatalf("unexpected login/logout default limit")
	}

	q.Page, q.Limit = 2, 4
	page = StatusBreakdown(fixture(), time.UTC, q)
	if len(page.Records) != 2 || page.Total != 6 {
		t.Fatalf("unexpected second page %+v", page)
	}
	q.Page = 5
	if got := StatusBreakdown(fixture(), time.UTC, q).Records; len(got) != 0 {
		t.Fatalf("expected empty page past the end, got %d", len(got))
	}
}

func TestPaginationHugeValuesReturnEmptyOrClamp(t *testing.T) {
	q := fullRange
	q.Page, q.Limit = math.MaxInt64, 10
	if got := LoginLogout(fixture(), time.UTC, q).Records; len(got) != 0 {
		t.Fatalf("expected empty login/logout page, got %d", len(got))
	}
	if got := StatusBreakdown(fixture(), time.UTC, q).Records; len(got) != 0 {
		t.Fatalf("expected empty status page, got %d", len(got))
	}

	q.Page, q.Limit = 2, math.MaxInt64
	if got := StatusBreakdown(fixture(), time.UTC, q).Records; len(got) != 0 {
		t.Fatalf("expected empty second page, got %d", len(got))
	}
	q.Page = 1
	if got := StatusBreakdown(fixture(), time.UTC, q).Records; len(got) != 6 {
		t.Fatalf("expected all rows on first page, got %d", len(got))
	}
	q.Page, q.Limit = math.MaxInt64, math.MaxInt64
	if got := LoginLogout(fixture(), time.UTC, q).Records; len(got) != 0 {
		t.Fatalf("expected empty page, got %d", len(got))
	}
}

func TestRangeFilterIsInclusive(t *testing.T) {
	events := fixture()
	q := Query{From: events[0].StartTime, To: events[3].StartTime}
	page := StatusBreakdown(events, time.UTC, q)
	if page.Total != 2 {
		t.Fatalf("expected both boundary rows, got %d", page.Total)
	}
}

func TestResolveLocation(t *testing.T) {
	cases := map[string]int{
		"":           0,
		"UTC":        0,
		"garbage":    0,
		"+05:30":     19800,
		"-0800":      -28800,
		"+25:00":     0,
		"Asia/Tokyo": 9 * 3600,
	}
	at := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for name, want := range cases {
		_, got := at.In(ResolveLocation(name)).Zone()
		if got != want {
			t.Fatalf("ResolveLocation(%q) offset = %d, want %d", name, got, want)
		}
	}
}

func TestNormalizeSort(t *testing.T) {
	if NormalizeSort("asc") != SortAsc || NormalizeSort("") != SortDesc || NormalizeSort("sideways") != SortDesc {
		t.Fatalf("unexpected sort normalization")
	}
}
