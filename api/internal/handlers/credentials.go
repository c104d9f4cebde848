package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"zcc-reporting/api/internal/models"
	"zcc-reporting/api/internal/reports"
	"zcc-reporting/shared/httpx"
)

type credentialRequest struct {
	AccountID    *string `json:"account_id"`
	ClientID     *string `json:"client_id"`
	ClientSecret *string `json:"client_secret"`
	// ClientPassword is the older name for client_secret.
	ClientPassword *string `json:"client_password"`
	TimeZone       *string `json:"time_zone"`
	Primary        *bool   `json:"primary"`
}

func (c credentialRequest) secret() *string {
	if c.ClientSecret != nil {
		return c.ClientSecret
	}
	return c.ClientPassword
}

func (a *API) listCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := a.deps.Credentials.List(r.Context())
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	out := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, viewCredential(c))
	}
	httpx.WriteData(w, http.StatusOK, out)
}

func (a *API) getCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	c, err := a.deps.Credentials.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, viewCredential(c))
}

func (a *API) createCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	c := models.ZoomCredential{
		AccountID:    deref(req.AccountID),
		ClientID:     deref(req.ClientID),
		ClientSecret: deref(req.secret()),
		TimeZone:     deref(req.TimeZone),
		IsPrimary:    req.Primary != nil && *req.Primary,
	}
	if missing := missingFields(c); len(missing) > 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "missing required fields",
			map[string]any{"fields": missing})
		return
	}
	if err := checkTimeZone(req.TimeZone); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	created, err := a.deps.Credentials.Create(r.Context(), c)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	a.credentialsChanged(r, "created", created.ID)
	httpx.WriteData(w, http.StatusCreated, viewCredential(created))
}

func (a *API) updateCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	var req credentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	patch := models.CredentialPatch{
		AccountID:    req.AccountID,
		ClientID:     req.ClientID,
		ClientSecret: req.secret(),
		TimeZone:     req.TimeZone,
		Primary:      req.Primary,
	}
	for name, v := range map[string]*string{"account_id": patch.AccountID, "client_id": patch.ClientID, "client_secret": patch.ClientSecret} {
		if v != nil && strings.TrimSpace(*v) == "" {
			httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", name+" must not be empty", nil)
			return
		}
	}
	if err := checkTimeZone(patch.TimeZone); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	updated, err := a.deps.Credentials.Update(r.Context(), id, patch)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	a.credentialsChanged(r, "updated", id)
	httpx.WriteData(w, http.StatusOK, viewCredential(updated))
}

func (a *API) setPrimaryCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	if err := a.deps.Credentials.SetPrimary(r.Context(), id); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	a.credentialsChanged(r, "primary_set", id)
	c, err := a.deps.Credentials.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, viewCredential(c))
}

func (a *API) deleteCredential(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	if err := a.deps.Credentials.Delete(r.Context(), id); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	a.credentialsChanged(r, "deleted", id)
	httpx.WriteData(w, http.StatusOK, map[string]any{"deleted": id})
}

// credentialsChanged drops the cached upstream token so the next call re-resolves the
// credential.
func (a *API) credentialsChanged(r *http.Request, action string, id int64) {
	if a.deps.Tokens != nil {
		a.deps.Tokens.Invalidate()
	}
	a.log.Info(r.Context(), "credential_"+action, "zoom credential changed", slog.Int64("credential_id", id))
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.PathValue("id")), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id must be a positive integer", errBadParam)
	}
	return id, nil
}

// checkTimeZone rejects names that report rendering would silently treat as UTC.
func checkTimeZone(tz *string) error {
	if tz == nil {
		return nil
	}
	name := strings.TrimSpace(*tz)
	if name == "" || strings.EqualFold(name, "UTC") {
		return nil
	}
	if reports.ResolveLocation(name) == time.UTC {
		return fmt.Errorf("%w: unknown time_zone %q", errBadParam, name)
	}
	return nil
}

func missingFields(c models.ZoomCredential) []string {
	var missing []string
	if strings.TrimSpace(c.AccountID) == "" {
		missing = append(missing, "account_id")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client_id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	return missing
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
