package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"zcc-reporting/api/internal/ingest"
	"zcc-reporting/api/internal/models"
	"zcc-reporting/shared/logx"
)

type Kind string

const (
	KindLoginLogout Kind = "login-logout"
	KindStatus      Kind = "status"
)

var (
	ErrUnknownKind  = errors.New("unknown report kind")
	ErrInvalidRange = errors.New("from must not be after to")
)

type TimecardReader interface {
	Exists(ctx context.Context, from time.Time, to time.Time) (bool, error)
	List(ctx context.Context, from time.Time, to time.Time, names []string) ([]models.Timecard, error)
}

type Directory interface {
	Any(ctx context.Context) (bool, error)
	ListNames(ctx context.Context) ([]string, error)
}

type TimeZones interface {
	TimeZone(ctx context.Context) (string, error)
}

type Refresher interface {
	RefreshTimecards(ctx context.Context, from time.Time, to time.Time) (ingest.Result, error)
	RefreshAgents(ctx context.Context) (ingest.Result, error)
}

// NameCache is an optional snapshot of directory names.
type NameCache interface {
	Get(ctx context.Context) ([]string, bool)
	Set(ctx context.Context, names []string) error
	Invalidate(ctx context.Context) error
}

type Service struct {
	timecards TimecardReader
	directory Directory
	zones     TimeZones
	refresher Refresher
	names     NameCache
	log       logx.Logger
}

func NewService(timecards TimecardReader, directory Directory, zones TimeZones, refresher Refresher, names NameCache, l logx.Logger) *Service {
	return &Service{
		timecards: timecards,
		directory: directory,
		zones:     zones,
		refresher: refresher,
		names:     names,
		log:       l.With(slog.String("component", "reports")),
	}
}

// Report is one page of either shape plus the agent directory snapshot.
type Report struct {
	Records any      `json:"records"`
	Agents  []string `json:"agents"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
	Total   int      `json:"total"`
}

// GetReport refreshes the window when nothing is stored for it (or when forced), then
// aggregates it. A failed refresh fails the request; a failed directory load does not.
func (s *Service) GetReport(ctx context.Context, kind Kind, q Query, force bool) (Report, error) {
	if kind != KindLoginLogout && kind != KindStatus {
		return Report{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if q.From.After(q.To) {
		return Report{}, ErrInvalidRange
	}

	exists, err := s.timecards.Exists(ctx, q.From, q.To)
	if err != nil {
		return Report{}, fmt.Errorf("check stored window: %w", err)
	}
	if !exists || force {
		if _, err := s.refresher.RefreshTimecards(ctx, q.From, q.To); err != nil {
			return Report{}, err
		}
	}

	var report Report
	var agents []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.aggregate(gctx, kind, q)
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	g.Go(func() error {
		agents = s.loadAgents(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	report.Agents = agents
	return report, nil
}

func (s *Service) aggregate(ctx context.Context, kind Kind, q Query) (Report, error) {
	zone, err := s.zones.TimeZone(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("resolve time zone: %w", err)
	}
	loc := ResolveLocation(zone)

	events, err := s.timecards.List(ctx, q.From, q.To, q.Agents)
	if err != nil {
		return Report{}, fmt.Errorf("list timecards: %w", err)
	}

	switch kind {
	case KindLoginLogout:
		p := LoginLogout(events, loc, q)
		return Report{Records: p.Records, Page: p.Page, Limit: p.Limit, Total: p.Total}, nil
	default:
		p := StatusBreakdown(events, loc, q)
		return Report{Records: p.Records, Page: p.Page, Limit: p.Limit, Total: p.Total}, nil
	}
}

// loadAgents never fails; the directory is a convenience next to the report.
func (s *Service) loadAgents(ctx context.Context) []string {
	if names, ok := s.cachedNames(ctx); ok {
		return names
	}
	populated, err := s.directory.Any(ctx)
	if err != nil {
		s.log.Warn(ctx, "directory_check_failed", "agent directory unavailable",
			slog.String("error", err.Error()),
		)
		return []string{}
	}
	if !populated {
		if _, err := s.refresher.RefreshAgents(ctx); err != nil {
			s.log.Warn(ctx, "directory_refresh_failed", "agent directory refresh failed",
				slog.String("error", err.Error()),
			)
		}
	}
	names, err := s.directory.ListNames(ctx)
	if err != nil {
		s.log.Warn(ctx, "directory_list_failed", "agent directory unavailable",
			slog.String("error", err.Error()),
		)
		return []string{}
	}
	s.storeNames(ctx, names)
	return names
}

// RefreshDirectory pulls the upstream directory and returns the stored names. Errors are
// returned to the caller.
func (s *Service) RefreshDirectory(ctx context.Context) ([]string, error) {
	if _, err := s.refresher.RefreshAgents(ctx); err != nil {
		return nil, err
	}
	if s.names != nil {
		_ = s.names.Invalidate(ctx)
	}
	names, err := s.directory.ListNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	s.storeNames(ctx, names)
	return names, nil
}

// RefreshWindow forces a timecard refresh of [from,to] outside any report request.
func (s *Service) RefreshWindow(ctx context.Context, from time.Time, to time.Time) (ingest.Result, error) {
	if from.After(to) {
		return ingest.Result{}, ErrInvalidRange
	}
	return s.refresher.RefreshTimecards(ctx, from, to)
}

func (s *Service) cachedNames(ctx context.Context) ([]string, bool) {
	if s.names == nil {
		return nil, false
	}
	names, ok := s.names.Get(ctx)
	if !ok || len(names) == 0 {
		return nil, false
	}
	return names, true
}

func (s *Service) storeNames(ctx context.Context, names []string) {
	if s.names == nil || len(names) == 0 {
		return
	}
	if err := s.names.Set(ctx, names); err != nil {
		s.log.Debug(ctx, "directory_cache_write_failed", "could not cache agent names",
			slog.String("error", err.Error()),
		)
	}
}
