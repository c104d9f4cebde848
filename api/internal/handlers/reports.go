package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"zcc-reporting/api/internal/reports"
	"zcc-reporting/shared/httpx"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

func (a *API) loginLogoutReport(w http.ResponseWriter, r *http.Request) {
	a.report(w, r, reports.KindLoginLogout)
}

func (a *API) statusReport(w http.ResponseWriter, r *http.Request) {
	a.report(w, r, reports.KindStatus)
}

func (a *API) report(w http.ResponseWriter, r *http.Request, kind reports.Kind) {
	q, refresh, err := parseReportQuery(r)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	report, err := a.deps.Reports.GetReport(r.Context(), kind, q, refresh)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, report)
}

func (a *API) refreshAgents(w http.ResponseWriter, r *http.Request) {
	names, err := a.deps.Reports.RefreshDirectory(r.Context())
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, names)
}

// refreshTimecards replaces a window on demand. With async=true and a queue available the
// refresh is handed to the worker and 202 carries the run id.
func (a *API) refreshTimecards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, err := parseWindow(q)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	async, err := parseOptionalBool(q, "async")
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	if async && a.deps.Enqueuer != nil {
		runID, err := a.deps.Enqueuer.EnqueueTimecards(r.Context(), from, to)
		if err != nil {
			writeError(w, r, a.log, err)
			return
		}
		a.log.Info(r.Context(), "refresh_enqueued", "timecard refresh enqueued",
			slog.String("run_id", runID.String()),
		)
		httpx.WriteData(w, http.StatusAccepted, map[string]any{"run_id": runID, "status": "pending"})
		return
	}
	res, err := a.deps.Reports.RefreshWindow(r.Context(), from, to)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, res)
}

func (a *API) listRefreshRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseOptionalInt(q, "limit")
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	limit = min(limit, maxRunsLimit)
	runs, err := a.deps.Runs.List(r.Context(), strings.TrimSpace(q.Get("kind")), limit)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, viewRun(run))
	}
	httpx.WriteData(w, http.StatusOK, out)
}
