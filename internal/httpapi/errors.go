package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rpattn/assessor/internal/compliance"
	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/jobs"
	"github.com/rpattn/assessor/internal/logging"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, compliance.ErrYearLocked):
		return http.StatusLocked
	case errors.Is(err, domain.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrDuplicateYear),
		errors.Is(err, domain.ErrRecordSuperseded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, jobs.ErrUnknownJob):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.log).WithError(err).Error("request failed")
		message = "internal error"
	}
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
