package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiendalab/promoengine/authoring"
	"github.com/tiendalab/promoengine/config"
	"github.com/tiendalab/promoengine/domain"
	"github.com/tiendalab/promoengine/evaluator"
)

type fakeAuthoring struct {
	draftResult   *authoring.DraftResult
	draftErr      error
	publishResult *authoring.PublishResult
	publishErr    error
	retireResult  *authoring.RetireResult
	retireErr     error
	reward        *domain.Reward
	rewardErr     error
	rewards       []*domain.Reward
	listErr       error

	lastDraft   authoring.DraftRequest
	lastCountry string
}

func (f *fakeAuthoring) UpsertDraft(ctx context.Context, req authoring.DraftRequest) (*authoring.DraftResult, error) {
	f.lastDraft = req
	return f.draftResult, f.draftErr
}

func (f *fakeAuthoring) Publish(ctx context.Context, promotionID uuid.UUID, countryISO string) (*authoring.PublishResult, error) {
	f.lastCountry = countryISO
	return f.publishResult, f.publishErr
}

func (f *fakeAuthoring) Retire(ctx context.Context, promotionID uuid.UUID, countryISO string) (*authoring.RetireResult, error) {
	return f.retireResult, f.retireErr
}

func (f *fakeAuthoring) CreateReward(ctx context.Context, req authoring.RewardRequest) (*domain.Reward, error) {
	return f.reward, f.rewardErr
}

func (f *fakeAuthoring) ListRewards(ctx context.Context) ([]*domain.Reward, error) {
	return f.rewards, f.listErr
}

type fakeEvaluating struct {
	results []evaluator.Result
	err     error
	last    evaluator.Request
}

func (f *fakeEvaluating) Evaluate(ctx context.Context, req evaluator.Request) ([]evaluator.Result, error) {
	f.last = req
	return f.results, f.err
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	return f.err
}

func newTestServer(auth *fakeAuthoring, eval *fakeEvaluating, pinger *fakePinger) *Server {
	if auth == nil {
		auth = &fakeAuthoring{}
	}
	if eval == nil {
		eval = &fakeEvaluating{}
	}
	if pinger == nil {
		pinger = &fakePinger{}
	}
	cfg := config.DefaultConfig().HTTP
	return New(cfg, auth, eval, pinger,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDraftUpsertReturnsResultWithWarnings(t *testing.T) {
	promotionID := uuid.New()
	auth := &fakeAuthoring{draftResult: &authoring.DraftResult{
		PromotionID:  promotionID,
		Version:      2,
		CountryISO:   "ES",
		WorkflowName: fmt.Sprintf("promo:%s:country:ES", promotionID),
		Warnings:     []string{"tier 1 group 2: unsupported operator"},
	}}
	s := newTestServer(auth, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/authoring/promotions/draft",
		`{"name":"spring","timezone":"Europe/Madrid","countryIso":"ES","tiers":[{"tierLevel":1,"order":0,"groups":[]}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var result authoring.DraftResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Version)
	assert.Len(t, result.Warnings, 1)
	assert.Equal(t, "spring", auth.lastDraft.Name)
}

func TestDraftUpsertStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation failure", &domain.ValidationError{Field: "name", Message: "required"}, http.StatusBadRequest},
		{"compile produced no rules", fmt.Errorf("%w: unsupported operator", authoring.ErrCompileFailed), http.StatusBadRequest},
		{"duplicate tier level", fmt.Errorf("tier level 1: %w", domain.ErrDuplicateTier), http.StatusConflict},
		{"version conflict", domain.ErrVersionConflict, http.StatusConflict},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeAuthoring{draftErr: tt.err}, nil, nil)
			rec := doJSON(t, s, http.MethodPost, "/api/authoring/promotions/draft", `{"name":"x"}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestDraftUpsertRejectsMalformedBody(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/authoring/promotions/draft", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublish(t *testing.T) {
	promotionID := uuid.New()
	auth := &fakeAuthoring{publishResult: &authoring.PublishResult{
		PromotionID: promotionID,
		CountryISO:  "ES",
		Version:     3,
	}}
	s := newTestServer(auth, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/authoring/promotions/"+promotionID.String()+"/es/publish", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var result authoring.PublishResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 3, result.Version)
	assert.Equal(t, "es", auth.lastCountry)
}

func TestPublishInvalidID(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/authoring/promotions/not-a-uuid/ES/publish", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublishUnknownPromotionIs404(t *testing.T) {
	s := newTestServer(&fakeAuthoring{publishErr: fmt.Errorf("publish: %w", domain.ErrNotFound)}, nil, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/authoring/promotions/"+uuid.NewString()+"/ES/publish", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetire(t *testing.T) {
	promotionID := uuid.New()
	auth := &fakeAuthoring{retireResult: &authoring.RetireResult{
		PromotionID: promotionID,
		CountryISO:  "ES",
		Version:     1,
	}}
	s := newTestServer(auth, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/authoring/promotions/"+promotionID.String()+"/ES/retire", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEvaluateReturnsResults(t *testing.T) {
	promotionID := uuid.New()
	groupID := uuid.New()
	eval := &fakeEvaluating{results: []evaluator.Result{{
		PromotionID:       promotionID,
		Version:           1,
		CountryISO:        "ES",
		AwardedTier:       1,
		ExpressionGroupID: groupID,
	}}}
	s := newTestServer(nil, eval, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/runtime/evaluate",
		`{"contactId":"C1","countryIso":"ES","asOfUtc":"2024-01-01T00:00:00Z","ctx":{"gasto":60,"club":"","esVip":false,"eventId":"e1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []evaluator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, promotionID, results[0].PromotionID)
	assert.Equal(t, 1, results[0].AwardedTier)

	// The ctx payload travels into the evaluation request.
	assert.Equal(t, "C1", eval.last.ContactID)
	assert.Equal(t, "e1", eval.last.EventContext["eventId"])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), eval.last.AsOfUTC)
}

func TestEvaluateEmptyResultIsEmptyArray(t *testing.T) {
	s := newTestServer(nil, &fakeEvaluating{}, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/runtime/evaluate", `{"contactId":"C1","countryIso":"ES","ctx":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestEvaluateCancelledReturnsPartialResults(t *testing.T) {
	eval := &fakeEvaluating{
		results: []evaluator.Result{{PromotionID: uuid.New(), Version: 1, CountryISO: "ES", AwardedTier: 1}},
		err:     context.Canceled,
	}
	s := newTestServer(nil, eval, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/runtime/evaluate", `{"contactId":"C1","countryIso":"ES","ctx":{}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []evaluator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	assert.Len(t, results, 1)
}

func TestEvaluateValidationErrorIs400(t *testing.T) {
	s := newTestServer(nil, &fakeEvaluating{err: &domain.ValidationError{Field: "contactId", Message: "required"}}, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/runtime/evaluate", `{"countryIso":"ES","ctx":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAndListRewards(t *testing.T) {
	value, err := domain.NewMonetaryValue(10, "EUR")
	require.NoError(t, err)
	reward, err := domain.NewReward(uuid.Nil, "welcome coupon", domain.RewardCoupon, value, time.Now())
	require.NoError(t, err)

	auth := &fakeAuthoring{reward: reward, rewards: []*domain.Reward{reward}}
	s := newTestServer(auth, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/authoring/rewards",
		`{"name":"welcome coupon","kind":"coupon","amount":10,"unit":"EUR"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created rewardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "coupon", created.Kind)
	assert.True(t, created.Active)

	rec = doJSON(t, s, http.MethodGet, "/api/authoring/rewards", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []rewardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(nil, nil, nil)
	rec := doJSON(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReflectsStore(t *testing.T) {
	s := newTestServer(nil, nil, &fakePinger{})
	rec := doJSON(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	s = newTestServer(nil, nil, &fakePinger{err: errors.New("connection refused")})
	rec = doJSON(t, s, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
