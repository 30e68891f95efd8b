package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tiendalab/promoengine/authoring"
	"github.com/tiendalab/promoengine/domain"
	"github.com/tiendalab/promoengine/evaluator"
)

// maxRequestBodySize limits POST body sizes.
const maxRequestBodySize = 1 << 20 // 1 MB

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

// ----------------------------------------------------------------------------
// POST /api/authoring/promotions/draft
// ----------------------------------------------------------------------------

func (s *Server) handleDraftUpsert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req authoring.DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authoring.UpsertDraft(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ----------------------------------------------------------------------------
// POST /api/authoring/promotions/{promotionID}/{countryISO}/publish
// ----------------------------------------------------------------------------

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid promotion id")
		return
	}

	result, err := s.authoring.Publish(r.Context(), promotionID, chi.URLParam(r, "countryISO"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ----------------------------------------------------------------------------
// POST /api/authoring/promotions/{promotionID}/{countryISO}/retire
// ----------------------------------------------------------------------------

func (s *Server) handleRetire(w http.ResponseWriter, r *http.Request) {
	promotionID, err := uuid.Parse(chi.URLParam(r, "promotionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid promotion id")
		return
	}

	result, err := s.authoring.Retire(r.Context(), promotionID, chi.URLParam(r, "countryISO"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ----------------------------------------------------------------------------
// POST /api/runtime/evaluate
// ----------------------------------------------------------------------------

// evaluateRequest is the wire shape of an evaluate call; the event
// fields travel under "ctx" alongside the addressing fields.
type evaluateRequest struct {
	ContactID  string         `json:"contactId"`
	CountryISO string         `json:"countryIso"`
	AsOfUTC    time.Time      `json:"asOfUtc"`
	Ctx        map[string]any `json:"ctx"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := s.evaluator.Evaluate(r.Context(), evaluator.Request{
		ContactID:    req.ContactID,
		CountryISO:   req.CountryISO,
		AsOfUTC:      req.AsOfUTC,
		EventContext: req.Ctx,
	})
	if err != nil {
		// A cancelled or timed-out request still returns whatever was
		// accumulated before the deadline.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("evaluation cut short", "contact_id", req.ContactID, "results", len(results))
			writeJSON(w, http.StatusOK, nonNil(results))
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(results))
}

// ----------------------------------------------------------------------------
// Rewards
// ----------------------------------------------------------------------------

// rewardResponse is the wire shape of a reward catalog entry.
type rewardResponse struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Kind   string    `json:"kind"`
	Amount float64   `json:"amount"`
	Unit   string    `json:"unit"`
	Active bool      `json:"active"`
}

func toRewardResponse(reward *domain.Reward) rewardResponse {
	return rewardResponse{
		ID:     reward.ID,
		Name:   reward.Name,
		Kind:   string(reward.Kind),
		Amount: reward.Value.Amount,
		Unit:   reward.Value.Unit,
		Active: reward.Active,
	}
}

func (s *Server) handleCreateReward(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req authoring.RewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reward, err := s.authoring.CreateReward(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardResponse(reward))
}

func (s *Server) handleListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := s.authoring.ListRewards(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	out := make([]rewardResponse, 0, len(rewards))
	for _, reward := range rewards {
		out = append(out, toRewardResponse(reward))
	}
	writeJSON(w, http.StatusOK, out)
}

// ----------------------------------------------------------------------------
// Health
// ----------------------------------------------------------------------------

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness probe failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

// writeServiceError maps service errors onto transport status codes:
// validation and compile failures are the caller's fault, invariant
// conflicts race with other writers, and missing entities are 404.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr), errors.Is(err, authoring.ErrCompileFailed):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrDuplicateTier),
		errors.Is(err, domain.ErrDuplicateGroup),
		errors.Is(err, domain.ErrDuplicateGrant),
		errors.Is(err, domain.ErrVersionImmutable),
		errors.Is(err, domain.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already partially written; nothing to recover.
		_ = err
	}
}

// nonNil keeps empty result sets as [] on the wire.
func nonNil(results []evaluator.Result) []evaluator.Result {
	if results == nil {
		return []evaluator.Result{}
	}
	return results
}
