package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"zcc-reporting/api/internal/models"
	"zcc-reporting/shared/clients/zoom"
	"zcc-reporting/shared/events"
	"zcc-reporting/shared/logx"
	"zcc-reporting/shared/metricsx"
	"zcc-reporting/shared/observability"
	"zcc-reporting/shared/workflow"
)

const (
	KindTimecards = "timecards"
	KindAgents    = "agents"
)

// Reasons a page loop ended.
const (
	StopEndOfData     = "end_of_data"
	StopEmptyPage     = "empty_page"
	StopMalformedPage = "malformed_page"
	StopRepeatedToken = "repeated_token"
)

type Upstream interface {
	FetchTimecardsPage(ctx context.Context, from time.Time, to time.Time, pageToken string) (zoom.TimecardPage, error)
	FetchAgentsPage(ctx context.Context, pageToken string) (zoom.AgentPage, error)
}

type TimecardStore interface {
	DeleteRange(ctx context.Context, from time.Time, to time.Time) (int64, error)
	InsertTimecards(ctx context.Context, events []zoom.TimecardEvent) (int64, error)
}

type AgentStore interface {
	InsertAgents(ctx context.Context, agents []zoom.Agent) (int64, error)
}

// Locker serializes refreshes of overlapping windows. Agent refreshes lock the zero window.
type Locker interface {
	Lock(ctx context.Context, kind string, from time.Time, to time.Time) (func(), error)
}

type RunRecorder interface {
	Begin(ctx context.Context, run models.RefreshRun) error
	Finish(ctx context.Context, run models.RefreshRun) error
}

type EventPublisher interface {
	PublishRefresh(ctx context.Context, ev events.RefreshCompleted) error
}

type StatsSink interface {
	RecordRefresh(ctx context.Context, ev events.RefreshCompleted) error
}

type Deps struct {
	Upstream  Upstream
	Tokens    zoom.TokenSource
	Timecards TimecardStore
	Agents    AgentStore
	Locker    Locker
	Logger    logx.Logger

	// Optional sinks; nil disables each.
	Runs      RunRecorder
	Publisher EventPublisher
	Stats     StatsSink
}

type Engine struct {
	deps Deps
	now  func() time.Time
}

func New(deps Deps) *Engine {
	return &Engine{deps: deps, now: time.Now}
}

type Result struct {
	RunID       uuid.UUID `json:"run_id"`
	Kind        string    `json:"kind"`
	Pages       int       `json:"pages"`
	Fetched     int       `json:"fetched"`
	Inserted    int64     `json:"inserted"`
	Skipped     int       `json:"skipped"`
	FailedPages int       `json:"failed_pages"`
	Deleted     int64     `json:"deleted"`
	StopReason  string    `json:"stop_reason"`
}

// RefreshTimecards replaces the stored rows of [from,to] with the upstream's current view.
func (e *Engine) RefreshTimecards(ctx context.Context, from time.Time, to time.Time) (Result, error) {
	if to.Before(from) {
		return Result{}, fmt.Errorf("invalid range: from %s is after to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	from, to = from.UTC(), to.UTC()
	return e.run(ctx, KindTimecards, &from, &to, func(ctx context.Context, res *Result) error {
		deleted, err := e.deps.Timecards.DeleteRange(ctx, from, to)
		if err != nil {
			return fmt.Errorf("delete range: %w", err)
		}
		res.Deleted = deleted

		return e.drain(ctx, res, func(ctx context.Context, token string) (page, error) {
			p, err := e.deps.Upstream.FetchTimecardsPage(ctx, from, to, token)
			if err != nil {
				return page{}, err
			}
			return page{
				items:   len(p.Events),
				skipped: p.Skipped,
				next:    p.NextPageToken,
				store: func(ctx context.Context) (int64, error) {
					return e.deps.Timecards.InsertTimecards(ctx, p.Events)
				},
			}, nil
		})
	})
}

// RefreshAgents inserts every upstream agent not already in the directory.
func (e *Engine) RefreshAgents(ctx context.Context) (Result, error) {
	return e.run(ctx, KindAgents, nil, nil, func(ctx context.Context, res *Result) error {
		return e.drain(ctx, res, func(ctx context.Context, token string) (page, error) {
			p, err := e.deps.Upstream.FetchAgentsPage(ctx, token)
			if err != nil {
				return page{}, err
			}
			return page{
				items:   len(p.Agents),
				skipped: p.Skipped,
				next:    p.NextPageToken,
				store: func(ctx context.Context) (int64, error) {
					return e.deps.Agents.InsertAgents(ctx, p.Agents)
				},
			}, nil
		})
	})
}

type page struct {
	items   int
	skipped int
	next    string
	store   func(ctx context.Context) (int64, error)
}

func (e *Engine) run(ctx context.Context, kind string, from *time.Time, to *time.Time, body func(context.Context, *Result) error) (Result, error) {
	meta := runFromContext(ctx)
	res := Result{RunID: meta.ID, Kind: kind}
	log := e.deps.Logger.With(
		slog.String("component", "ingest"),
		slog.String("kind", kind),
		slog.String("run_id", meta.ID.String()),
	)

	ctx, span := observability.Tracer("ingest").Start(ctx, "refresh."+kind)
	span.SetAttributes(attribute.String("run_id", meta.ID.String()), attribute.String("trigger", meta.Trigger))
	defer span.End()

	var lockFrom, lockTo time.Time
	if from != nil && to != nil {
		lockFrom, lockTo = *from, *to
	}
	unlock, err := e.deps.Locker.Lock(ctx, kind, lockFrom, lockTo)
	if err != nil {
		err = fmt.Errorf("acquire %s refresh lock: %w", kind, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock")
		e.abort(ctx, log, meta, kind, from, to, err)
		return res, err
	}
	defer unlock()

	// A missing credential or a failed exchange must surface before anything is deleted.
	if _, err := e.deps.Tokens.AccessToken(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token")
		log.Warn(ctx, "refresh_token_failed", "refresh aborted before any write",
			slog.String("error", err.Error()),
		)
		e.abort(ctx, log, meta, kind, from, to, err)
		return res, err
	}

	started := e.now().UTC()
	run := models.RefreshRun{
		RunID:     meta.ID,
		Kind:      kind,
		Trigger:   meta.Trigger,
		RangeFrom: from,
		RangeTo:   to,
		Status:    workflow.RunStatusRunning,
		StartedAt: started,
	}
	if e.deps.Runs != nil {
		if err := e.deps.Runs.Begin(ctx, run); err != nil {
			log.Warn(ctx, "refresh_run_record_failed", "could not record run start",
				slog.String("error", err.Error()),
			)
		}
	}
	log.Info(ctx, "refresh_started", "refresh started", rangeAttrs(from, to)...)

	runErr := body(ctx, &res)

	finished := e.now().UTC()
	run.Status = workflow.RunStatusDone
	if runErr != nil {
		run.Status = workflow.RunStatusFailed
		run.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "refresh failed")
	}
	run.Pages, run.Fetched, run.Inserted = res.Pages, res.Fetched, res.Inserted
	run.Skipped, run.FailedPages, run.Deleted = res.Skipped, res.FailedPages, res.Deleted
	run.StopReason = res.StopReason
	run.FinishedAt = &finished

	metricsx.ObserveRefresh(kind, run.Status, finished.Sub(started))
	span.SetAttributes(
		attribute.Int("pages", res.Pages),
		attribute.Int64("inserted", res.Inserted),
		attribute.Int("failed_pages", res.FailedPages),
	)
	e.report(ctx, log, run)

	attrs := append(rangeAttrs(from, to),
		slog.Int("pages", res.Pages),
		slog.Int("fetched", res.Fetched),
		slog.Int64("inserted", res.Inserted),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed_pages", res.FailedPages),
		slog.Int64("deleted", res.Deleted),
		slog.String("stop_reason", res.StopReason),
		slog.Int64("duration_ms", finished.Sub(started).Milliseconds()),
	)
	if runErr != nil {
		attrs = append(attrs, slog.String("error", runErr.Error()))
		log.Error(ctx, "refresh_failed", "refresh failed", attrs...)
		return res, runErr
	}
	log.Info(ctx, "refresh_completed", "refresh completed", attrs...)
	return res, nil
}

// drain walks the page chain strictly in order. Only fetch errors other than a malformed
// page are fatal; a failed insert is counted and the loop moves on.
func (e *Engine) drain(ctx context.Context, res *Result, fetch func(context.Context, string) (page, error)) error {
	log := e.deps.Logger.With(slog.String("component", "ingest"), slog.String("kind", res.Kind))
	seen := map[string]bool{}
	token := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := fetch(ctx, token)
		if errors.Is(err, zoom.ErrMalformedPage) {
			log.Warn(ctx, "refresh_malformed_page", "stopping at malformed page",
				slog.Int("page", res.Pages+1),
				slog.String("error", err.Error()),
			)
			res.StopReason = StopMalformedPage
			return nil
		}
		if err != nil {
			return err
		}
		res.Pages++
		res.Skipped += p.skipped
		if p.items == 0 {
			log.Info(ctx, "refresh_empty_page", "stopping at empty page", slog.Int("page", res.Pages))
			res.StopReason = StopEmptyPage
			return nil
		}
		res.Fetched += p.items

		inserted, err := p.store(ctx)
		if err != nil {
			res.FailedPages++
			metricsx.IncIngestFailedPage(res.Kind)
			log.Error(ctx, "refresh_insert_failed", "page insert failed, continuing",
				slog.Int("page", res.Pages),
				slog.Int("items", p.items),
				slog.String("error", err.Error()),
			)
		} else {
			res.Inserted += inserted
			metricsx.AddIngestRows(res.Kind, inserted)
		}

		if p.next == "" {
			res.StopReason = StopEndOfData
			return nil
		}
		if seen[p.next] {
			log.Warn(ctx, "refresh_repeated_token", "upstream repeated a page token",
				slog.String("next_page_token", p.next),
			)
			res.StopReason = StopRepeatedToken
			return nil
		}
		seen[p.next] = true
		token = p.next
	}
}

// abort records a run that failed before its body ran, so a queued run does not stay
// pending. The write outlives a cancelled ctx.
func (e *Engine) abort(ctx context.Context, log logx.Logger, meta RunMeta, kind string, from *time.Time, to *time.Time, cause error) {
	if e.deps.Runs == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	now := e.now().UTC()
	run := models.RefreshRun{
		RunID:     meta.ID,
		Kind:      kind,
		Trigger:   meta.Trigger,
		RangeFrom: from,
		RangeTo:   to,
		Status:    workflow.RunStatusRunning,
		StartedAt: now,
	}
	if err := e.deps.Runs.Begin(ctx, run); err != nil {
		log.Warn(ctx, "refresh_run_record_failed", "could not record run start",
			slog.String("error", err.Error()),
		)
	}
	run.Status = workflow.RunStatusFailed
	run.Error = cause.Error()
	run.FinishedAt = &now
	if err := e.deps.Runs.Finish(ctx, run); err != nil {
		log.Warn(ctx, "refresh_run_record_failed", "could not record run outcome",
			slog.String("error", err.Error()),
		)
	}
}

// report hands the finished run to the optional sinks. Sink failures are logged only.
func (e *Engine) report(ctx context.Context, log logx.Logger, run models.RefreshRun) {
	if e.deps.Runs != nil {
		if err := e.deps.Runs.Finish(ctx, run); err != nil {
			log.Warn(ctx, "refresh_run_record_failed", "could not record run outcome",
				slog.String("error", err.Error()),
			)
		}
	}
	if e.deps.Publisher == nil && e.deps.Stats == nil {
		return
	}
	ev := completedEvent(run)
	if e.deps.Publisher != nil {
		if err := e.deps.Publisher.PublishRefresh(ctx, ev); err != nil {
			log.Warn(ctx, "refresh_publish_failed", "could not publish refresh event",
				slog.String("error", err.Error()),
			)
		}
	}
	if e.deps.Stats != nil {
		if err := e.deps.Stats.RecordRefresh(ctx, ev); err != nil {
			log.Warn(ctx, "refresh_stats_failed", "could not write refresh stats",
				slog.String("error", err.Error()),
			)
		}
	}
}

func completedEvent(run models.RefreshRun) events.RefreshCompleted {
	ev := events.RefreshCompleted{
		RunID:       run.RunID,
		Kind:        run.Kind,
		Trigger:     run.Trigger,
		From:        run.RangeFrom,
		To:          run.RangeTo,
		Status:      run.Status,
		Pages:       run.Pages,
		Fetched:     run.Fetched,
		Inserted:    run.Inserted,
		Skipped:     run.Skipped,
		FailedPages: run.FailedPages,
		Deleted:     run.Deleted,
		StopReason:  run.StopReason,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
	}
	if run.FinishedAt != nil {
		ev.FinishedAt = *run.FinishedAt
	}
	return ev
}

func rangeAttrs(from *time.Time, to *time.Time) []slog.Attr {
	if from == nil || to == nil {
		return nil
	}
	return []slog.Attr{
		slog.String("from", from.Format(time.RFC3339)),
		slog.String("to", to.Format(time.RFC3339)),
	}
}
