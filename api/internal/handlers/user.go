package handlers

import (
	"net/http"

	"zcc-reporting/shared/authx"
	"zcc-reporting/shared/httpx"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resetPasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	session, err := a.deps.Accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, session)
}

func (a *API) profile(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAuth(w, r)
	if !ok {
		return
	}
	p, err := a.deps.Accounts.Profile(r.Context(), auth.UserID)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, p)
}

func (a *API) permissions(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAuth(w, r)
	if !ok {
		return
	}
	perms, err := a.deps.Accounts.Permissions(r.Context(), auth.UserID)
	if err != nil {
		writeError(w, r, a.log, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, perms)
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAuth(w, r)
	if !ok {
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	if err := a.deps.Accounts.ResetPassword(r.Context(), auth.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, a.log, err)
		return
	}
	httpx.WriteData(w, http.StatusOK, map[string]any{"updated": true})
}

func requireAuth(w http.ResponseWriter, r *http.Request) (authx.AuthContext, bool) {
	auth, ok := authx.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", "missing auth context", nil)
		return authx.AuthContext{}, false
	}
	return auth, true
}
