package reports

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zcc-reporting/api/internal/ingest"
	"zcc-reporting/api/internal/models"
	"zcc-reporting/shared/clients/zoom"
	"zcc-reporting/shared/logx"
)

type fakeTimecards struct {
	mu      sync.Mutex
	rows    []models.Timecard
	existsE error
	listed  [][]string
}

func (f *fakeTimecards) Exists(_ context.Context, from time.Time, to time.Time) (bool, error) {
	if f.existsE != nil {
		return false, f.existsE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if !r.StartTime.Before(from) && !r.StartTime.After(to) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTimecards) List(_ context.Context, _ time.Time, _ time.Time, names []string) ([]models.Timecard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed = append(f.listed, names)
	return append([]models.Timecard(nil), f.rows...), nil
}

type fakeDirectory struct {
	mu      sync.Mutex
	names   []string
	listErr error
}

func (f *fakeDirectory) Any(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.names) > 0, nil
}

func (f *fakeDirectory) ListNames(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string{}, f.names...), nil
}

type fixedZone string

func (z fixedZone) TimeZone(context.Context) (string, error) { return string(z), nil }

type fakeRefresher struct {
	mu            sync.Mutex
	timecardCalls int
	agentCalls    int
	timecardErr   error
	agentErr      error
	onTimecards   func()
	onAgents      func()
}

func (f *fakeRefresher) RefreshTimecards(context.Context, time.Time, time.Time) (ingest.Result, error) {
	f.mu.Lock()
	f.timecardCalls++
	f.mu.Unlock()
	if f.timecardErr != nil {
		return ingest.Result{}, f.timecardErr
	}
	if f.onTimecards != nil {
		f.onTimecards()
	}
	return ingest.Result{Kind: ingest.KindTimecards}, nil
}

func (f *fakeRefresher) RefreshAgents(context.Context) (ingest.Result, error) {
	f.mu.Lock()
	f.agentCalls++
	f.mu.Unlock()
	if f.agentErr != nil {
		return ingest.Result{}, f.agentErr
	}
	if f.onAgents != nil {
		f.onAgents()
	}
	return ingest.Result{Kind: ingest.KindAgents}, nil
}

type memNames struct {
	mu    sync.Mutex
	names []string
}

func (m *memNames) Get(context.Context) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names, m.names != nil
}

func (m *memNames) Set(_ context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = names
	return nil
}

func (m *memNames) Invalidate(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = nil
	return nil
}

func reportQuery() Query {
	return Query{
		From: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC),
	}
}

func TestGetReportRefreshesWhenWindowEmpty(t *testing.T) {
	store := &fakeTimecards{}
	dir := &fakeDirectory{names: []string{"Alice", "Bob"}}
	ref := &fakeRefresher{onTimecards: func() {
		store.mu.Lock()
		store.rows = fixture()[:4]
		store.mu.Unlock()
	}}
	svc := NewService(store, dir, fixedZone("UTC"), ref, nil, logx.Discard())

	report, err := svc.GetReport(context.Background(), KindLoginLogout, reportQuery(), false)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if ref.timecardCalls != 1 {
		t.Fatalf("expected one refresh, got %d", ref.timecardCalls)
	}
	if report.Total != 2 || report.Limit != DefaultLoginLogoutLimit || report.Page != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.Agents) != 2 {
		t.Fatalf("expected directory snapshot, got %v", report.Agents)
	}
	if _, ok := report.Records.([]LoginLogoutRow); !ok {
		t.Fatalf("unexpected records type %T", report.Records)
	}
}

func TestGetReportSkipsRefreshWhenStored(t *testing.T) {
	store := &fakeTimecards{rows: fixture()}
	ref := &fakeRefresher{}
	svc := NewService(store, &fakeDirectory{names: []string{"Alice"}}, fixedZone("UTC"), ref, nil, logx.Discard())

	report, err := svc.GetReport(context.Background(), KindStatus, reportQuery(), false)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if ref.timecardCalls != 0 {
		t.Fatalf("expected no refresh, got %d", ref.timecardCalls)
	}
	// two fixture rows fall on the next day
	if report.Total != 4 || report.Limit != DefaultStatusLimit {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestGetReportForceRefresh(t *testing.T) {
	ref := &fakeRefresher{}
	svc := NewService(&fakeTimecards{rows: fixture()}, &fakeDirectory{names: []string{"Alice"}}, fixedZone("UTC"), ref, nil, logx.Discard())
	if _, err := svc.GetReport(context.Background(), KindStatus, reportQuery(), true); err != nil {
		t.Fatalf("report: %v", err)
	}
	if ref.timecardCalls != 1 {
		t.Fatalf("expected forced refresh, got %d", ref.timecardCalls)
	}
}

func TestGetReportRefreshFailureIsFatal(t *testing.T) {
	ref := &fakeRefresher{timecardErr: zoom.ErrCredentialMissing}
	svc := NewService(&fakeTimecards{}, &fakeDirectory{}, fixedZone("UTC"), ref, nil, logx.Discard())
	_, err := svc.GetReport(context.Background(), KindLoginLogout, reportQuery(), false)
	if !errors.Is(err, zoom.ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
}

func TestGetReportSwallowsDirectoryFailure(t *testing.T) {
	ref := &fakeRefresher{agentErr: zoom.ErrUpstreamUnavailable}
	dir := &fakeDirectory{listErr: errors.New("db down")}
	svc := NewService(&fakeTimecards{rows: fixture()}, dir, fixedZone("UTC"), ref, nil, logx.Discard())

	report, err := svc.GetReport(context.Background(), KindStatus, reportQuery(), false)
	if err != nil {
		t.Fatalf("directory failure must not fail the report: %v", err)
	}
	if report.Agents == nil || len(report.Agents) != 0 {
		t.Fatalf("expected empty agents, got %#v", report.Agents)
	}
	if ref.agentCalls != 1 {
		t.Fatalf("expected an agent refresh attempt for the empty directory, got %d", ref.agentCalls)
	}
}

func TestGetReportPassesAgentFilter(t *testing.T) {
	store := &fakeTimecards{rows: fixture()}
	svc := NewService(store, &fakeDirectory{names: []string{"Alice"}}, fixedZone("UTC"), &fakeRefresher{}, nil, logx.Discard())
	q := reportQuery()
	q.Agents = []string{"Alice"}

	report, err := svc.GetReport(context.Background(), KindStatus, q, false)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	for _, r := range report.Records.([]StatusRow) {
		if r.UserName != "Alice" {
			t.Fatalf("filter leaked %q", r.UserName)
		}
	}
	if len(store.listed) != 1 || len(store.listed[0]) != 1 {
		t.Fatalf("expected the filter to reach storage, got %v", store.listed)
	}
}

func TestGetReportValidation(t *testing.T) {
	svc := NewService(&fakeTimecards{}, &fakeDirectory{}, fixedZone("UTC"), &fakeRefresher{}, nil, logx.Discard())
	if _, err := svc.GetReport(context.Background(), Kind("other"), reportQuery(), false); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	q := reportQuery()
	q.From, q.To = q.To, q.From
	if _, err := svc.GetReport(context.Background(), KindStatus, q, false); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestRefreshDirectorySurfacesErrors(t *testing.T) {
	ref := &fakeRefresher{agentErr: zoom.ErrUpstreamUnavailable}
	svc := NewService(&fakeTimecards{}, &fakeDirectory{}, fixedZone("UTC"), ref, nil, logx.Discard())
	if _, err := svc.RefreshDirectory(context.Background()); !errors.Is(err, zoom.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestDirectoryCacheIsUsedAndRefreshed(t *testing.T) {
	dir := &fakeDirectory{names: []string{"Alice"}}
	cache := &memNames{}
	ref := &fakeRefresher{onAgents: func() {
		dir.mu.Lock()
		dir.names = []string{"Alice", "Bob"}
		dir.mu.Unlock()
	}}
	svc := NewService(&fakeTimecards{rows: fixture()}, dir, fixedZone("UTC"), ref, cache, logx.Discard())

	if _, err := svc.GetReport(context.Background(), KindStatus, reportQuery(), false); err != nil {
		t.Fatalf("report: %v", err)
	}
	if got, _ := cache.Get(context.Background()); len(got) != 1 {
		t.Fatalf("expected names cached, got %v", got)
	}

	names, err := svc.RefreshDirectory(context.Background())
	if err != nil {
		t.Fatalf("refresh directory: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected refreshed names, got %v", names)
	}
	if got, _ := cache.Get(context.Background()); len(got) != 2 {
		t.Fatalf("expected cache to hold refreshed names, got %v", got)
	}
}
