package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"zcc-reporting/api/internal/reports"
)

var errBadParam = errors.New("invalid query parameter")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

const dateOnly = "2006-01-02"

// parseInstant reads an ISO-8601 timestamp. A bare date means the start of that UTC day,
// or its last instant when endOfDay is set.
func parseInstant(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.Parse(dateOnly, raw); err == nil {
		if endOfDay {
			return d.Add(24*time.Hour - time.Millisecond), nil
		}
		return d, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q is not an ISO-8601 time", errBadParam, raw)
}

// parseWindow requires both from and to and rejects an inverted range.
func parseWindow(q url.Values) (time.Time, time.Time, error) {
	rawFrom, rawTo := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if rawFrom == "" || rawTo == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from and to are required", errBadParam)
	}
	from, err := parseInstant(rawFrom, false)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseInstant(rawTo, true)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, reports.ErrInvalidRange
	}
	return from, to, nil
}

// parseAgents accepts repeated values, comma-separated values, or both.
func parseAgents(q url.Values) []string {
	var out []string
	seen := map[string]bool{}
	for _, key := range []string{"agents", "agents[]"} {
		for _, v := range q[key] {
			for _, name := range strings.Split(v, ",") {
				name = strings.TrimSpace(name)
				if name == "" || seen[name] {
					continue
				}
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func parseOptionalInt(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadParam, key)
	}
	return n, nil
}

func parseOptionalBool(q url.Values, key string) (bool, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadParam, key)
	}
	return b, nil
}

// parseReportQuery builds the report query and the refresh_record flag.
func parseReportQuery(r *http.Request) (reports.Query, bool, error) {
	q := r.URL.Query()
	from, to, err := parseWindow(q)
	if err != nil {
		return reports.Query{}, false, err
	}
	page, err := parseOptionalInt(q, "page")
	if err != nil {
		return reports.Query{}, false, err
	}
	limit, err := parseOptionalInt(q, "limit")
	if err != nil {
		return reports.Query{}, false, err
	}
	refresh, err := parseOptionalBool(q, "refresh_record")
	if err != nil {
		return reports.Query{}, false, err
	}
	return reports.Query{
		From:   from,
		To:     to,
		Agents: parseAgents(q),
		Sort:   reports.NormalizeSort(q.Get("format")),
		Page:   page,
		Limit:  limit,
	}, refresh, nil
}
