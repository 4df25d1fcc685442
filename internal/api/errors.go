package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/SeongJinSong/kb-echotimer/internal/log"
	"github.com/SeongJinSong/kb-echotimer/internal/timer"
)

// errorBody is the uniform error envelope for the REST surface.
type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeBadRequest answers 400 with the supplied message.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeErrorBody(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

// writeTimerError maps the domain sentinels onto HTTP statuses. Anything
// outside the known set is a 500 with a generic body so internals do not
// leak to clients.
func writeTimerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, timer.ErrTimerNotFound):
		writeErrorBody(w, http.StatusNotFound, "NOT_FOUND", "timer not found")
	case errors.Is(err, timer.ErrNotOwner):
		writeErrorBody(w, http.StatusForbidden, "FORBIDDEN", "only the owner may perform this action")
	case errors.Is(err, timer.ErrTimerCompleted):
		writeErrorBody(w, http.StatusConflict, "CONFLICT", "timer is already completed")
	case errors.Is(err, timer.ErrInvalidTarget), errors.Is(err, timer.ErrInvalidRequest):
		writeErrorBody(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
	case errors.Is(err, timer.ErrStoreUnavailable), errors.Is(err, timer.ErrBusUnavailable):
		writeErrorBody(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "backing service unavailable")
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str(log.FieldEvent, "api.unmapped_error").
			Msg("request failed with unmapped error")
		writeErrorBody(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// decodeJSON parses a request body into dst, rejecting unknown fields and
// trailing garbage.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing content")
	}
	return nil
}
