// internal/handlers/utils.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/smallbets/smallbets/internal/auth"
	"github.com/smallbets/smallbets/internal/errs"
	"github.com/smallbets/smallbets/internal/metrics"
)

// callerID resolves the caller's user id for a request scoped to roomCode.
// A bearer capability token wins; the explicit X-Host-Id / X-User-Id headers
// are the fallback the original clients use. Empty means anonymous.
func callerID(r *http.Request, roomCode string) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token := strings.TrimPrefix(h, "Bearer ")
		if s, err := auth.VerifyToken(token); err == nil && s.RoomCode == roomCode {
			return s.UserID
		}
	}
	if id := r.Header.Get("X-Host-Id"); id != "" {
		return id
	}
	return r.Header.Get("X-User-Id")
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error kind onto an HTTP status and a JSON body the
// clients can branch on.
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSON(w, httpStatus(kind), map[string]interface{}{
		"error": map[string]interface{}{
			"kind":    kind.String(),
			"message": err.Error(),
		},
	})
}

// httpStatus maps the error taxonomy onto statuses. Precondition failures
// are conflicts; StaleWrite and ResourceExhausted are transient and get 503
// so clients know a retry with fresh state may succeed.
func httpStatus(kind errs.Kind) int {
	switch kind {
	case errs.RoomNotFound, errs.BetNotFound:
		return http.StatusNotFound
	case errs.Forbidden:
		return http.StatusForbidden
	case errs.InvalidArgument:
		return http.StatusBadRequest
	case errs.InvalidTransition, errs.DuplicateActiveBet, errs.DuplicateWager,
		errs.InsufficientPoints, errs.AutomationDisabled:
		return http.StatusConflict
	case errs.ResourceExhausted, errs.StaleWrite:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// record counts a command outcome for metrics.
func record(command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = errs.KindOf(err).String()
	}
	metrics.Commands.WithLabelValues(command, outcome).Inc()
}

// decodeBody decodes a JSON request body into v. An empty body is an error
// for every command that takes one.
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.E(errs.InvalidArgument, "bad request payload: %v", err)
	}
	return nil
}
