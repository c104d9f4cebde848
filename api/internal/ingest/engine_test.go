package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"zcc-reporting/api/internal/models"
	"zcc-reporting/shared/clients/zoom"
	"zcc-reporting/shared/events"
	"zcc-reporting/shared/lockx"
	"zcc-reporting/shared/logx"
	"zcc-reporting/shared/workflow"
)

type fakeTokens struct{ err error }

func (f fakeTokens) AccessToken(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "tkn", nil
}

type timecardPageResult struct {
	page zoom.TimecardPage
	err  error
}

type fakeUpstream struct {
	mu         sync.Mutex
	timecards  map[string]timecardPageResult
	agents     map[string]zoom.AgentPage
	agentErr   error
	tokensSeen []string
}

func (f *fakeUpstream) FetchTimecardsPage(_ context.Context, _ time.Time, _ time.Time, token string) (zoom.TimecardPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokensSeen = append(f.tokensSeen, token)
	r, ok := f.timecards[token]
	if !ok {
		return zoom.TimecardPage{}, errors.New("unexpected token " + token)
	}
	return r.page, r.err
}

func (f *fakeUpstream) FetchAgentsPage(_ context.Context, token string) (zoom.AgentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agentErr != nil {
		return zoom.AgentPage{}, f.agentErr
	}
	return f.agents[token], nil
}

// memStore is an in-memory timecard and agent store with the repos' semantics.
type memStore struct {
	mu         sync.Mutex
	rows       []zoom.TimecardEvent
	agents     map[string]string
	failInsert map[string]bool
	deleteErr  error
	deletes    int
}

func newMemStore(rows ...zoom.TimecardEvent) *memStore {
	return &memStore{rows: rows, agents: map[string]string{}, failInsert: map[string]bool{}}
}

func (m *memStore) DeleteRange(_ context.Context, from time.Time, to time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	kept := m.rows[:0]
	var n int64
	for _, r := range m.rows {
		if !r.StartTime.Before(from) && !r.StartTime.After(to) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return n, nil
}

func (m *memStore) InsertTimecards(_ context.Context, evs []zoom.TimecardEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(evs) > 0 && m.failInsert[evs[0].WorkSessionID] {
		return 0, errors.New("insert failed")
	}
	m.rows = append(m.rows, evs...)
	return int64(len(evs)), nil
}

func (m *memStore) InsertAgents(_ context.Context, agents []zoom.Agent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range agents {
		if _, ok := m.agents[a.UserID]; ok {
			continue
		}
		m.agents[a.UserID] = a.UserName
		n++
	}
	return n, nil
}

func (m *memStore) sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.WorkSessionID)
	}
	return out
}

type recordingSinks struct {
	mu       sync.Mutex
	begun    []models.RefreshRun
	finished []models.RefreshRun
	events   []events.RefreshCompleted
	stats    int
}

func (r *recordingSinks) Begin(_ context.Context, run models.RefreshRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun = append(r.begun, run)
	return nil
}

func (r *recordingSinks) Finish(_ context.Context, run models.RefreshRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, run)
	return nil
}

func (r *recordingSinks) PublishRefresh(_ context.Context, ev events.RefreshCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSinks) RecordRefresh(context.Context, events.RefreshCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats++
	return errors.New("influx down")
}

func ev(id string, start time.Time) zoom.TimecardEvent {
	return zoom.TimecardEvent{WorkSessionID: id, StartTime: start, EndTime: start.Add(time.Minute), UserID: "u-" + id, UserName: "Agent " + id, DurationMS: 60000}
}

var (
	windowFrom = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	windowTo   = time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC)
)

func newEngine(up Upstream, store *memStore, tokens zoom.TokenSource) *Engine {
	return New(Deps{
		Upstream:  up,
		Tokens:    tokens,
		Timecards: store,
		Agents:    store,
		Locker:    lockx.NewRangeLocks(),
		Logger:    logx.Discard(),
	})
}

func TestRefreshTimecardsReplacesWindow(t *testing.T) {
	store := newMemStore(
		ev("stale", windowFrom.Add(2*time.Hour)),
		ev("before", windowFrom.Add(-time.Hour)),
		ev("after", windowTo.Add(time.Hour)),
	)
	up := &fakeUpstream{timecards: map[string]timecardPageResult{
		"":   {page: zoom.TimecardPage{Events: []zoom.TimecardEvent{ev("a", windowFrom.Add(time.Hour)), ev("b", windowFrom.Add(3*time.Hour))}, NextPageToken: "p2", Skipped: 1}},
		"p2": {page: zoom.TimecardPage{Events: []zoom.TimecardEvent{ev("c", windowFrom.Add(5*time.Hour))}}},
	}}

	res, err := newEngine(up, store, fakeTokens{}).RefreshTimecards(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Deleted != 1 || res.Inserted != 3 || res.Pages != 2 || res.Fetched != 3 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.StopReason != StopEndOfData {
		t.Fatalf("unexpected stop reason %q", res.StopReason)
	}
	got := map[string]bool{}
	for _, s := range store.sessions() {
		got[s] = true
	}
	if got["stale"] {
		t.Fatalf("stale in-window row survived")
	}
	if !got["before"] || !got["after"] {
		t.Fatalf("out-of-window rows were touched: %v", got)
	}
	if !got["a"] || !got["b"] || !got["c"] {
		t.Fatalf("new rows missing: %v", got)
	}
}

func TestRefreshTimecardsEmptyPageKeepsEarlierPages(t *testing.T) {
	store := newMemStore()
	up := &fakeUpstream{timecards: map[string]timecardPageResult{
		"":   {page: zoom.TimecardPage{Events: []zoom.TimecardEvent{ev("a", windowFrom)}, NextPageToken: "p2"}},
		"p2": {page: zoom.TimecardPage{NextPageToken: "p3"}},
	}}

	res, err := newEngine(up, store, fakeTokens{}).RefreshTimecards(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("empty page must not fail: %v", err)
	}
	if res.StopReason != StopEmptyPage || res.Inserted != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.sessions()) != 1 {
		t.Fatalf("expected first page rows to remain, got %v", store.sessions())
	}
}

func TestRefreshTimecardsMalformedPageStops(t *testing.T) {
	store := newMemStore()
	up := &fakeUpstream{timecards: map[string]timecardPageResult{
		"":   {page: zoom.TimecardPage{Events: []zoom.TimecardEvent{ev("a", windowFrom)}, NextPageToken: "p2"}},
		"p2": {err: zoom.ErrMalformedPage},
	}}

	res, err := newEngine(up, store, fakeTokens{}).RefreshTimecards(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("malformed page must not fail: %v", err)
	}
	if res.StopReason != StopMalformedPage || res.Pages != 1 || res.Inserted != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRefreshTimecardsUpstreamErrorIsFatal(t *testing.T) {
	store := newMemStore()
	up := &fakeUpstream{timecards: map[string]timecardPageResult{
		"": {err: zoom.ErrUpstreamUnavailable},
	}}
	_, err := newEngine(up, store, fakeTokens{}).RefreshTimecards(context.Background(), windowFrom, windowTo)
	if !errors.Is(err, zoom.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestRefreshTimecardsInsertFailureContinues(t *testing.T) {
	store := newMemStore()
	store.failInsert["bad"] = true
	up := &fakeUpstream{timecards: map[string]timecardPageResult{
		"":   {page: zoom.TimecardPage{Events: []zoom.TimecardEvent{ev("bad", windowFrom)}, NextPageToken: "p2"}},
		"p2": {page: zoom.TimecardPage{Events: []zoom.TimecardEvent{ev("good", windowFrom.Add(time.Hour))}}},
	}}

	res, err := newEngine(up, store, fakeTokens{}).RefreshTimecards(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("insert failure must not fail the refresh: %v", err)
	}
	if res.FailedPages != 1 || res.Inserted != 1 || res.Pages != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if s := store.sessions(); len(s) != 1 || s[0] != "good" {
		t.Fatalf("unexpected rows %v", s)
	}
}

func TestRefreshTimecardsRepeatedTokenStops(t *testing.T) {
	store := newMemStore()
	up := &fakeUpstream{timecards: map[string]timecardPageResult{
		"":   {page: zoom.TimecardPage{Events: []zoom.TimecardEvent{ev("a", windowFrom)}, NextPageToken: "p2"}},
		"p2": {page: zoom.TimecardPage{Events: []zoom.TimecardEvent{ev("b", windowFrom)}, NextPageToken: "p2"}},
	}}

	res, err := newEngine(up, store, fakeTokens{}).RefreshTimecards(context.Background(), windowFrom, windowTo)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.StopReason != StopRepeatedToken || res.Pages != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(up.tokensSeen) != 2 {
		t.Fatalf("expected 2 fetches, got %v", up.tokensSeen)
	}
}

func TestRefreshTimecardsCredentialMissingDeletesNothing(t *testing.T) {
	store := newMemStore(ev("keep", windowFrom.Add(time.Hour)))
	up := &fakeUpstream{}

	_, err := newEngine(up, store, fakeTokens{err: zoom.ErrCredentialMissing}).RefreshTimecards(context.Background(), windowFrom, windowTo)
	if !errors.Is(err, zoom.ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
	if store.deletes != 0 || len(store.sessions()) != 1 {
		t.Fatalf("rows must be untouched, deletes=%d rows=%v", store.deletes, store.sessions())
	}
	if len(up.tokensSeen) != 0 {
		t.Fatalf("no page should be fetched")
	}
}

func TestEarlyAbortRecordsQueuedRunAsFailed(t *testing.T) {
	store := newMemStore()
	sinks := &recordingSinks{}
	engine := New(Deps{
		Upstream:  &fakeUpstream{},
		Tokens:    fakeTokens{err: zoom.ErrCredentialMissing},
		Timecards: store,
		Agents:    store,
		Locker:    lockx.NewRangeLocks(),
		Logger:    logx.Discard(),
		Runs:      sinks,
		Publisher: sinks,
	})

	runID := uuid.New()
	ctx := WithRun(context.Background(), RunMeta{ID: runID, Trigger: workflow.TriggerTask})
	if _, err := engine.RefreshAgents(ctx); !errors.Is(err, zoom.ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
	if len(sinks.finished) != 1 {
		t.Fatalf("expected the run to be finished, got %+v", sinks.finished)
	}
	got := sinks.finished[0]
	if got.RunID != runID || got.Status != workflow.RunStatusFailed || got.Error == "" || got.FinishedAt == nil {
		t.Fatalf("unexpected finished run %+v", got)
	}
	if len(sinks.begun) != 1 || sinks.begun[0].RunID != runID {
		t.Fatalf("expected run start to be recorded, got %+v", sinks.begun)
	}
	if len(sinks.events) != 0 {
		t.Fatalf("aborted run must not publish a completion event")
	}
}

type failingLocker struct{ err error }

func (f failingLocker) Lock(context.Context, string, time.Time, time.Time) (func(), error) {
	return nil, f.err
}

func TestLockFailureRecordsRunAsFailed(t *testing.T) {
	store := newMemStore(ev("keep", windowFrom.Add(time.Hour)))
	sinks := &recordingSinks{}
	engine := New(Deps{
		Upstream:  &fakeUpstream{},
		Tokens:    fakeTokens{},
		Timecards: store,
		Agents:    store,
		Locker:    failingLocker{err: errors.New("redis unavailable")},
		Logger:    logx.Discard(),
		Runs:      sinks,
	})

	runID := uuid.New()
	ctx := WithRun(context.Background(), RunMeta{ID: runID, Trigger: workflow.TriggerTask})
	if _, err := engine.RefreshTimecards(ctx, windowFrom, windowTo); err == nil {
		t.Fatalf("expected lock failure to be returned")
	}
	if store.deletes != 0 {
		t.Fatalf("nothing may be deleted without the lock")
	}
	if len(sinks.finished) != 1 || sinks.finished[0].RunID != runID || sinks.finished[0].Status != workflow.RunStatusFailed {
		t.Fatalf("unexpected finished runs %+v", sinks.finished)
	}
	if sinks.finished[0].RangeFrom == nil || !sinks.finished[0].RangeFrom.Equal(windowFrom) {
		t.Fatalf("expected the window on the failed run, got %+v", sinks.finished[0])
	}
}

func TestRefreshTimecardsDeleteFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.deleteErr = errors.New("db down")
	up := &fakeUpstream{}
	if _, err := newEngine(up, store, fakeTokens{}).RefreshTimecards(context.Background(), windowFrom, windowTo); err == nil {
		t.Fatalf("expected delete failure to be returned")
	}
	if len(up.tokensSeen) != 0 {
		t.Fatalf("no page should be fetched after a failed delete")
	}
}

func TestRefreshTimecardsRejectsInvertedRange(t *testing.T) {
	if _, err := newEngine(&fakeUpstream{}, newMemStore(), fakeTokens{}).RefreshTimecards(context.Background(), windowTo, windowFrom); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}

func TestRefreshAgentsIsIdempotent(t *testing.T) {
	store := newMemStore()
	up := &fakeUpstream{agents: map[string]zoom.AgentPage{
		"":   {Agents: []zoom.Agent{{UserID: "u1", UserName: "Alice"}, {UserID: "u2", UserName: "Bob"}}, NextPageToken: "p2"},
		"p2": {Agents: []zoom.Agent{{UserID: "u3", UserName: "Carol"}, {UserID: "u1", UserName: "Alice Renamed"}}},
	}}
	engine := newEngine(up, store, fakeTokens{})

	first, err := engine.RefreshAgents(context.Background())
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	second, err := engine.RefreshAgents(context.Background())
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if first.Inserted != 3 || second.Inserted != 0 {
		t.Fatalf("unexpected inserts: first=%d second=%d", first.Inserted, second.Inserted)
	}
	if len(store.agents) != 3 || store.agents["u1"] != "Alice" {
		t.Fatalf("unexpected directory %v", store.agents)
	}
}

func TestRefreshRecordsRunAndReportsSinks(t *testing.T) {
	store := newMemStore()
	sinks := &recordingSinks{}
	up := &fakeUpstream{timecards: map[string]timecardPageResult{
		"": {page: zoom.TimecardPage{Events: []zoom.TimecardEvent{ev("a", windowFrom)}}},
	}}
	engine := New(Deps{
		Upstream:  up,
		Tokens:    fakeTokens{},
		Timecards: store,
		Agents:    store,
		Locker:    lockx.NewRangeLocks(),
		Logger:    logx.Discard(),
		Runs:      sinks,
		Publisher: sinks,
		Stats:     sinks,
	})

	runID := uuid.New()
	ctx := WithRun(context.Background(), RunMeta{ID: runID, Trigger: workflow.TriggerSchedule})
	res, err := engine.RefreshTimecards(ctx, windowFrom, windowTo)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.RunID != runID {
		t.Fatalf("expected run id to propagate")
	}
	if len(sinks.begun) != 1 || sinks.begun[0].Status != workflow.RunStatusRunning {
		t.Fatalf("unexpected begun runs %+v", sinks.begun)
	}
	if len(sinks.finished) != 1 || sinks.finished[0].Status != workflow.RunStatusDone || sinks.finished[0].Inserted != 1 {
		t.Fatalf("unexpected finished runs %+v", sinks.finished)
	}
	if len(sinks.events) != 1 || sinks.events[0].Trigger != workflow.TriggerSchedule {
		t.Fatalf("unexpected events %+v", sinks.events)
	}
	if sinks.stats != 1 {
		t.Fatalf("expected stats sink to be called once despite its error")
	}
}

func TestConcurrentOverlappingRefreshesSerialize(t *testing.T) {
	store := newMemStore()
	gate := make(chan struct{})
	var mu sync.Mutex
	active, maxActive := 0, 0
	up := &blockingUpstream{onFetch: func() {
		mu.Lock()
		active++
		maxActive = max(maxActive, active)
		mu.Unlock()
		<-gate
		mu.Lock()
		active--
		mu.Unlock()
	}}
	engine := newEngine(up, store, fakeTokens{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.RefreshTimecards(context.Background(), windowFrom, windowTo); err != nil {
				t.Errorf("refresh: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("overlapping refreshes ran concurrently (max %d)", maxActive)
	}
}

type blockingUpstream struct {
	onFetch func()
}

func (b *blockingUpstream) FetchTimecardsPage(context.Context, time.Time, time.Time, string) (zoom.TimecardPage, error) {
	b.onFetch()
	return zoom.TimecardPage{}, nil
}

func (b *blockingUpstream) FetchAgentsPage(context.Context, string) (zoom.AgentPage, error) {
	return zoom.AgentPage{}, nil
}
