package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"zcc-reporting/api/internal/accounts"
	"zcc-reporting/api/internal/ingest"
	"zcc-reporting/api/internal/middleware"
	"zcc-reporting/api/internal/models"
	"zcc-reporting/api/internal/reports"
	"zcc-reporting/shared/logx"
)

// Permission names carried by staff roles.
const (
	PermLoginLogout = "login-logout"
	PermAgentAux    = "agent-aux"
	PermSettings    = "settings"
	PermManage      = "manage"
)

type Accounts interface {
	Login(ctx context.Context, email string, password string) (accounts.Session, error)
	Profile(ctx context.Context, userID int64) (accounts.Profile, error)
	Permissions(ctx context.Context, userID int64) ([]string, error)
	ResetPassword(ctx context.Context, userID int64, current string, next string) error
}

type Reports interface {
	GetReport(ctx context.Context, kind reports.Kind, q reports.Query, force bool) (reports.Report, error)
	RefreshDirectory(ctx context.Context) ([]string, error)
	RefreshWindow(ctx context.Context, from time.Time, to time.Time) (ingest.Result, error)
}

type Credentials interface {
	List(ctx context.Context) ([]models.ZoomCredential, error)
	Get(ctx context.Context, id int64) (models.ZoomCredential, error)
	Create(ctx context.Context, c models.ZoomCredential) (models.ZoomCredential, error)
	Update(ctx context.Context, id int64, patch models.CredentialPatch) (models.ZoomCredential, error)
	SetPrimary(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
}

// TokenInvalidator drops the cached upstream token after a credential change.
type TokenInvalidator interface {
	Invalidate()
}

type RunLister interface {
	List(ctx context.Context, kind string, limit int) ([]models.RefreshRun, error)
}

type RefreshEnqueuer interface {
	EnqueueTimecards(ctx context.Context, from time.Time, to time.Time) (uuid.UUID, error)
}

type Deps struct {
	Accounts    Accounts
	Reports     Reports
	Credentials Credentials
	Tokens      TokenInvalidator
	Runs        RunLister
	Enqueuer    RefreshEnqueuer // nil runs every refresh inline
	Logger      logx.Logger
}

type API struct {
	deps Deps
	log  logx.Logger
}

func New(deps Deps) *API {
	return &API{deps: deps, log: deps.Logger.With(slog.String("component", "http"))}
}

// Register mounts every route. Authentication is applied outside the mux; permission
// checks are applied here per route.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /user/login", a.login)
	mux.HandleFunc("GET /user/profile", a.profile)
	mux.HandleFunc("GET /user/permissions", a.permissions)
	mux.HandleFunc("PUT /user/reset-password", a.resetPassword)

	mux.Handle("GET /agents/login-logout", middleware.RequirePermission(PermLoginLogout, http.HandlerFunc(a.loginLogoutReport)))
	mux.Handle("GET /agents/status", middleware.RequirePermission(PermAgentAux, http.HandlerFunc(a.statusReport)))
	mux.HandleFunc("GET /agents/refresh", a.refreshAgents)
	mux.Handle("POST /agents/timecards/refresh", middleware.RequirePermission(PermManage, http.HandlerFunc(a.refreshTimecards)))
	mux.Handle("GET /agents/refresh-runs", middleware.RequirePermission(PermManage, http.HandlerFunc(a.listRefreshRuns)))

	settings := func(h http.HandlerFunc) http.Handler { return middleware.RequirePermission(PermSettings, h) }
	mux.Handle("GET /zoom", settings(a.listCredentials))
	mux.Handle("POST /zoom", settings(a.createCredential))
	mux.Handle("GET /zoom/{id}", settings(a.getCredential))
	mux.Handle("PUT /zoom/{id}", settings(a.updateCredential))
	mux.Handle("PUT /zoom/{id}/primary", settings(a.setPrimaryCredential))
	mux.Handle("DELETE /zoom/{id}", settings(a.deleteCredential))
}
