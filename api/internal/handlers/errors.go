package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"zcc-reporting/api/internal/accounts"
	"zcc-reporting/api/internal/repos"
	"zcc-reporting/api/internal/reports"
	"zcc-reporting/shared/clients/zoom"
	"zcc-reporting/shared/httpx"
	"zcc-reporting/shared/logx"
)

var errBadBody = errors.New("invalid request body")

// writeError maps domain errors onto the error envelope. Unknown errors are logged and
// reported as INTERNAL_ERROR without their text.
func writeError(w http.ResponseWriter, r *http.Request, l logx.Logger, err error) {
	switch {
	case errors.Is(err, errBadParam), errors.Is(err, errBadBody),
		errors.Is(err, reports.ErrInvalidRange), errors.Is(err, reports.ErrUnknownKind),
		errors.Is(err, accounts.ErrMissingFields), errors.Is(err, accounts.ErrSamePassword):
		httpx.WriteError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
	case errors.Is(err, accounts.ErrInvalidCredentials):
		httpx.WriteError(w, r, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error(), nil)
	case errors.Is(err, repos.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, repos.ErrConflict):
		httpx.WriteError(w, r, http.StatusConflict, "ALREADY_EXISTS", "resource already exists", nil)
	case errors.Is(err, zoom.ErrCredentialMissing):
		httpx.WriteError(w, r, http.StatusPreconditionFailed, "FAILED_PRECONDITION", "no upstream credential configured", nil)
	case errors.Is(err, zoom.ErrUpstreamUnavailable), errors.Is(err, zoom.ErrMalformedPage):
		httpx.WriteError(w, r, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "upstream reporting API unavailable", nil)
	default:
		l.Error(r.Context(), "request_failed", "request failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
		httpx.WriteError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}
