package zoom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"zcc-reporting/shared/config"
	"zcc-reporting/shared/metricsx"
)

// Client fetches single pages from the Contact Center API. It never retries; a failed
// page is reported to the caller, which owns the retry policy.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// New builds a Client and the TokenCache it owns from service config. Both share one
// traced http.Client bounded by ZOOM_HTTP_TIMEOUT_MS.
func New(cfg config.Config, creds CredentialSource) (*Client, *TokenCache) {
	httpClient := &http.Client{
		Timeout:   cfg.ZoomHTTPTimeout(),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	tokens := NewTokenCache(cfg.ZoomOAuthURL, creds, httpClient)
	return NewClient(cfg.ZoomAPIBaseURL, tokens, httpClient), tokens
}

func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		http:    httpClient,
	}
}

func (c *Client) FetchTimecardsPage(ctx context.Context, from time.Time, to time.Time, pageToken string) (TimecardPage, error) {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	items, next, err := c.fetchPage(ctx, ResourceTimecards, q, pageToken)
	if err != nil {
		return TimecardPage{}, err
	}

	page := TimecardPage{NextPageToken: next, Events: make([]TimecardEvent, 0, len(items))}
	for _, raw := range items {
		ev, ok := decodeTimecard(raw)
		if !ok {
			page.Skipped++
			continue
		}
		page.Events = append(page.Events, ev)
	}
	return page, nil
}

func (c *Client) FetchAgentsPage(ctx context.Context, pageToken string) (AgentPage, error) {
	items, next, err := c.fetchPage(ctx, ResourceAgents, url.Values{}, pageToken)
	if err != nil {
		return AgentPage{}, err
	}

	page := AgentPage{NextPageToken: next, Agents: make([]Agent, 0, len(items))}
	for _, raw := range items {
		var item agentItem
		if err := json.Unmarshal(raw, &item); err != nil || strings.TrimSpace(item.UserID) == "" {
			page.Skipped++
			continue
		}
		page.Agents = append(page.Agents, Agent{UserID: item.UserID, UserName: item.DisplayName})
	}
	return page, nil
}

type pageEnvelope struct {
	Users         json.RawMessage `json:"users"`
	NextPageToken string          `json:"next_page_token"`
}

func (c *Client) fetchPage(ctx context.Context, resource Resource, q url.Values, pageToken string) ([]json.RawMessage, string, error) {
	if c == nil || c.http == nil || c.tokens == nil {
		return nil, "", errors.New("zoom client not initialized")
	}
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, "", err
	}

	q.Set("page_size", strconv.Itoa(PageSize))
	if pageToken != "" {
		q.Set("next_page_token", pageToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+resource.path()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metricsx.ObserveUpstreamFetch(string(resource), "unavailable", time.Since(start))
		return nil, "", fmt.Errorf("%w: fetch %s page: %v", ErrUpstreamUnavailable, resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metricsx.ObserveUpstreamFetch(string(resource), "unavailable", time.Since(start))
		if resp.StatusCode == http.StatusUnauthorized {
			// The token was revoked or rotated early; force a fresh exchange next time.
			if inv, ok := c.tokens.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("%w: fetch %s page: status %d: %s", ErrUpstreamUnavailable, resource, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var env pageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		metricsx.ObserveUpstreamFetch(string(resource), "malformed", time.Since(start))
		return nil, "", fmt.Errorf("%w: decode %s page: %v", ErrMalformedPage, resource, err)
	}
	users := bytes.TrimSpace(env.Users)
	if len(users) == 0 || users[0] != '[' {
		metricsx.ObserveUpstreamFetch(string(resource), "malformed", time.Since(start))
		return nil, "", fmt.Errorf("%w: %s page has no users array", ErrMalformedPage, resource)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(users, &items); err != nil {
		metricsx.ObserveUpstreamFetch(string(resource), "malformed", time.Since(start))
		return nil, "", fmt.Errorf("%w: decode %s users: %v", ErrMalformedPage, resource, err)
	}

	metricsx.ObserveUpstreamFetch(string(resource), "ok", time.Since(start))
	return items, strings.TrimSpace(env.NextPageToken), nil
}

type agentItem struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type timecardItem struct {
	WorkSessionID       string      `json:"work_session_id"`
	StartTime           string      `json:"start_time"`
	EndTime             string      `json:"end_time"`
	UserID              string      `json:"user_id"`
	UserName            string      `json:"user_name"`
	UserStatus          string      `json:"user_status"`
	UserSubStatus       string      `json:"user_sub_status"`
	ReadyDuration       json.Number `json:"ready_duration"`
	OccupiedDuration    json.Number `json:"occupied_duration"`
	NotReadyDuration    json.Number `json:"not_ready_duration"`
	WorkSessionDuration json.Number `json:"work_session_duration"`
}

func decodeTimecard(raw json.RawMessage) (TimecardEvent, bool) {
	var item timecardItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return TimecardEvent{}, false
	}
	start, ok := parseTimestamp(item.StartTime)
	if !ok {
		return TimecardEvent{}, false
	}
	end, ok := parseTimestamp(item.EndTime)
	if !ok {
		end = start
	}
	return TimecardEvent{
		WorkSessionID: item.WorkSessionID,
		StartTime:     start,
		EndTime:       end,
		UserID:        item.UserID,
		UserName:      item.UserName,
		Status:        item.UserStatus,
		SubStatus:     item.UserSubStatus,
		DurationMS: firstNonZero(
			item.ReadyDuration,
			item.OccupiedDuration,
			item.NotReadyDuration,
			item.WorkSessionDuration,
		),
	}, true
}

// firstNonZero picks the duration field that applies to the item's status type.
// Fractional values are truncated and negative ones are treated as absent.
func firstNonZero(values ...json.Number) int64 {
	for _, v := range values {
		if n := durationValue(v); n > 0 {
			return n
		}
	}
	return 0
}

func durationValue(v json.Number) int64 {
	if v == "" {
		return 0
	}
	if n, err := v.Int64(); err == nil {
		return n
	}
	if f, err := v.Float64(); err == nil {
		return int64(f)
	}
	return 0
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
