package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mmynk/tontine/internal/fault"
)

// errorBody is the wire shape of every error: a stable machine-readable kind
// plus a human message, so clients can tell "correct and resubmit" from
// "retry".
type errorBody struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)

	var body errorBody
	body.Error.Kind = string(kind)
	body.Error.Message = err.Error()
	if kind == "" {
		body.Error.Kind = "internal"
		body.Error.Message = "internal error"
		slog.Error("unclassified error reached the API boundary", "error", err)
	}

	writeJSON(w, statusFor(kind), body)
}

func statusFor(kind fault.Kind) int {
	switch kind {
	case fault.NotFound:
		return http.StatusNotFound
	case fault.Unauthorized:
		return http.StatusUnauthorized
	case fault.Forbidden:
		return http.StatusForbidden
	case fault.InvalidState, fault.AlreadyMember, fault.GroupFull:
		return http.StatusConflict
	case fault.InvalidAmount, fault.Validation:
		return http.StatusUnprocessableEntity
	case fault.InsufficientFunds:
		return http.StatusPaymentRequired
	case fault.Conflict:
		return http.StatusConflict
	case fault.StorageUnavailable:
		return http.StatusServiceUnavailable
	case fault.ImmutableViolation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
