// Package httpapi serves the assessment store over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/assessor/internal/assessment"
	"github.com/rpattn/assessor/internal/auth"
	"github.com/rpattn/assessor/internal/domain"
	"github.com/rpattn/assessor/internal/jobs"
	"github.com/rpattn/assessor/internal/logging"
	"github.com/rpattn/assessor/internal/middleware"
)

// Service is what the handlers need from the assessment layer.
type Service interface {
	EffectiveRecord(ctx context.Context, id domain.Identity, year int) (any, error)
	Timeline(ctx context.Context, id domain.Identity) (any, error)
	Diff(ctx context.Context, id domain.Identity, fromYear, toYear int) (string, error)
	Materialize(ctx context.Context, id domain.Identity, year int, actorID string) (any, error)
	Update(ctx context.Context, id domain.Identity, year int, patch domain.Values, req assessment.WriteRequest) (any, error)
	Deactivate(ctx context.Context, id domain.Identity, year int, actorID string) (any, error)
	StartLandRecalculation(ctx context.Context, req assessment.LandRecalculation) (uuid.UUID, error)
	Job(ctx context.Context, jobID uuid.UUID) (*jobs.JobState, error)
	CancelJob(jobID uuid.UUID) error
	LockYear(ctx context.Context, lock domain.YearLock) (domain.YearLock, error)
	UnlockYear(ctx context.Context, municipalityID uuid.UUID, year int) error
	YearLocks(ctx context.Context, municipalityID uuid.UUID) ([]domain.YearLock, error)
}

type Handler struct {
	service Service
	log     *logrus.Entry
}

func NewHandler(service Service, log *logrus.Entry) *Handler {
	if log == nil {
		log = logging.Component(nil, "http")
	}
	return &Handler{service: service, log: log}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1/municipalities/{municipalityID}").Subrouter()
	api.HandleFunc("/records/{kind}", h.handleEffective).Methods(http.MethodGet)
	api.HandleFunc("/records/{kind}/{key}/timeline", h.handleTimeline).Methods(http.MethodGet)
	api.HandleFunc("/records/{kind}/{key}/diff", h.handleDiff).Methods(http.MethodGet)
	api.HandleFunc("/records/{kind}/{key}/years/{year:[0-9]+}", h.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/records/{kind}/{key}/years/{year:[0-9]+}", h.handleDeactivate).Methods(http.MethodDelete)
	api.HandleFunc("/records/{kind}/{key}/years/{year:[0-9]+}/materialize", h.handleMaterialize).Methods(http.MethodPost)
	api.HandleFunc("/recalculations/land", h.handleRecalculateLand).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{jobID}", h.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{jobID}", h.handleCancelJob).Methods(http.MethodDelete)
	api.HandleFunc("/locks", h.handleListLocks).Methods(http.MethodGet)
	api.HandleFunc("/locks/{year:[0-9]+}", h.handleLock).Methods(http.MethodPut)
	api.HandleFunc("/locks/{year:[0-9]+}", h.handleUnlock).Methods(http.MethodDelete)
}

type updatePayload struct {
	Patch     domain.Values `json:"patch"`
	CreateNew bool          `json:"createNew"`
}

type recalculationPayload struct {
	Year int      `json:"year"`
	Keys []string `json:"keys"`
}

type lockPayload struct {
	Reason string `json:"reason"`
}

type keyedRecord struct {
	Key    string `json:"key"`
	Record any    `json:"record"`
}

func (h *Handler) handleEffective(w http.ResponseWriter, r *http.Request) {
	municipalityID, ok := h.municipality(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	year, err := parseYear(query.Get("year"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	kind := domain.EntityKind(mux.Vars(r)["kind"])
	keys := splitKeys(query["key"])
	if len(keys) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: at least one key is required", domain.ErrValidation))
		return
	}

	if len(keys) == 1 {
		id := domain.Identity{Kind: kind, MunicipalityID: municipalityID, Key: keys[0]}
		record, err := h.service.EffectiveRecord(r.Context(), id, year)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if record == nil {
			h.writeError(w, r, fmt.Errorf("%s for %d: %w", id, year, domain.ErrRecordNotFound))
			return
		}
		writeJSON(w, http.StatusOK, record)
		return
	}

	loaders := middleware.LoadersFromContext(r.Context())
	if loaders == nil {
		h.writeError(w, r, errors.New("record loaders are not configured"))
		return
	}
	ids := make([]domain.Identity, len(keys))
	for i, key := range keys {
		ids[i] = domain.Identity{Kind: kind, MunicipalityID: municipalityID, Key: key}
	}
	records, err := loaders.LoadMany(r.Context(), kind, ids, year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]keyedRecord, len(keys))
	for i, key := range keys {
		out[i] = keyedRecord{Key: key, Record: records[i]}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	records, err := h.service.Timeline(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	from, err := parseYear(query.Get("from"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := parseYear(query.Get("to"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	diff, err := h.service.Diff(r.Context(), id, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(diff))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	year, err := parseYear(mux.Vars(r)["year"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer r.Body.Close()
	var payload updatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid payload: %v", domain.ErrValidation, err))
		return
	}
	record, err := h.service.Update(r.Context(), id, year, payload.Patch, assessment.WriteRequest{
		ActorID:   auth.ActorIDFromContext(r.Context()),
		CreateNew: payload.CreateNew,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	year, err := parseYear(mux.Vars(r)["year"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	record, err := h.service.Materialize(r.Context(), id, year, auth.ActorIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	year, err := parseYear(mux.Vars(r)["year"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	record, err := h.service.Deactivate(r.Context(), id, year, auth.ActorIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleRecalculateLand(w http.ResponseWriter, r *http.Request) {
	municipalityID, ok := h.municipality(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	var payload recalculationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid payload: %v", domain.ErrValidation, err))
		return
	}
	if payload.Year <= 0 {
		h.writeError(w, r, fmt.Errorf("%w: year is required", domain.ErrValidation))
		return
	}
	jobID, err := h.service.StartLandRecalculation(r.Context(), assessment.LandRecalculation{
		MunicipalityID: municipalityID,
		Year:           payload.Year,
		Keys:           splitKeys(payload.Keys),
		ActorID:        auth.ActorIDFromContext(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/municipalities/%s/jobs/%s", municipalityID, jobID))
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID.String()})
}

func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	municipalityID, jobID, ok := h.job(w, r)
	if !ok {
		return
	}
	state, err := h.service.Job(r.Context(), jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// jobs of other municipalities are invisible rather than forbidden
	if state == nil || state.MunicipalityID != municipalityID {
		h.writeError(w, r, fmt.Errorf("job %s: %w", jobID, jobs.ErrUnknownJob))
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	municipalityID, jobID, ok := h.job(w, r)
	if !ok {
		return
	}
	state, err := h.service.Job(r.Context(), jobID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if state == nil || state.MunicipalityID != municipalityID {
		h.writeError(w, r, fmt.Errorf("job %s: %w", jobID, jobs.ErrUnknownJob))
		return
	}
	if err := h.service.CancelJob(jobID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleListLocks(w http.ResponseWriter, r *http.Request) {
	municipalityID, ok := h.municipality(w, r)
	if !ok {
		return
	}
	locks, err := h.service.YearLocks(r.Context(), municipalityID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if locks == nil {
		locks = []domain.YearLock{}
	}
	writeJSON(w, http.StatusOK, locks)
}

func (h *Handler) handleLock(w http.ResponseWriter, r *http.Request) {
	municipalityID, ok := h.municipality(w, r)
	if !ok {
		return
	}
	year, err := parseYear(mux.Vars(r)["year"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var payload lockPayload
	if r.Body != nil && r.ContentLength != 0 {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			h.writeError(w, r, fmt.Errorf("%w: invalid payload: %v", domain.ErrValidation, err))
			return
		}
	}
	lock, err := h.service.LockYear(r.Context(), domain.YearLock{
		MunicipalityID: municipalityID,
		Year:           year,
		LockedBy:       auth.ActorIDFromContext(r.Context()),
		Reason:         strings.TrimSpace(payload.Reason),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lock)
}

func (h *Handler) handleUnlock(w http.ResponseWriter, r *http.Request) {
	municipalityID, ok := h.municipality(w, r)
	if !ok {
		return
	}
	year, err := parseYear(mux.Vars(r)["year"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.service.UnlockYear(r.Context(), municipalityID, year); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) municipality(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(mux.Vars(r)["municipalityID"]))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid municipalityId: %v", domain.ErrValidation, err))
		return uuid.Nil, false
	}
	if err := auth.EnforceMunicipalityScope(r.Context(), id); err != nil {
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	municipalityID, ok := h.municipality(w, r)
	if !ok {
		return domain.Identity{}, false
	}
	vars := mux.Vars(r)
	return domain.Identity{Kind: domain.EntityKind(vars["kind"]), MunicipalityID: municipalityID, Key: vars["key"]}, true
}

func (h *Handler) job(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	municipalityID, ok := h.municipality(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(strings.TrimSpace(mux.Vars(r)["jobID"]))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid jobId: %v", domain.ErrValidation, err))
		return uuid.Nil, uuid.Nil, false
	}
	return municipalityID, jobID, true
}

func parseYear(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%w: year is required", domain.ErrValidation)
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year <= 0 {
		return 0, fmt.Errorf("%w: year must be a positive integer", domain.ErrValidation)
	}
	return year, nil
}

func splitKeys(values []string) []string {
	var keys []string
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				keys = append(keys, trimmed)
			}
		}
	}
	return keys
}
