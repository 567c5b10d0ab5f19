package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/secretmarket/internal/domain"
)

// maxBodyBytes bounds request bodies. Criteria are capped well below this.
const maxBodyBytes = 256 << 10

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends {"error": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a single JSON object from the body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return domain.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return domain.NewValidationError("request body is empty")
		default:
			return domain.NewValidationError("malformed JSON body")
		}
	}
	return nil
}

// writeServiceError maps service errors onto HTTP statuses. Internal detail
// is logged, not returned, except for validation and upstream messages which
// are meant for the caller.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		ve *domain.ValidationError
		ue *domain.UpstreamError
		pe *domain.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request", "problems": ve.Problems})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "market not found")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid key")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts")
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, "operation already in progress")
	case errors.As(err, &ue):
		logger.WarnContext(r.Context(), "upstream failure", slog.String("error", err.Error()))
		body := map[string]any{"error": "market platform error", "op": ue.Op}
		if ue.Status > 0 {
			body["upstream_status"] = ue.Status
			body["message"] = ue.Message
		}
		writeJSON(w, http.StatusBadGateway, body)
	case errors.As(err, &pe):
		logger.ErrorContext(r.Context(), "persistence failure", slog.String("error", err.Error()))
		body := map[string]any{"error": "failed to store market record"}
		if pe.ExternalID != "" {
			body["external_id"] = pe.ExternalID
		}
		writeJSON(w, http.StatusInternalServerError, body)
	default:
		logger.ErrorContext(r.Context(), "request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
