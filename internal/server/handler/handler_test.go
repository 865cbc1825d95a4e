package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelabs/microroute/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

type stubPlanner struct {
	plan domain.ExecutionPlan
	err  error
}

func (s *stubPlanner) CreatePlan(_ context.Context, symbol string, size float64, urgency domain.Urgency) (domain.ExecutionPlan, error) {
	if s.err != nil {
		return domain.ExecutionPlan{}, s.err
	}
	plan := s.plan
	plan.Symbol = symbol
	plan.TotalSize = size
	plan.Urgency = urgency
	return plan, nil
}

type stubPlanStore struct {
	plans map[string]domain.ExecutionPlan
	err   error
}

func (s *stubPlanStore) Insert(context.Context, domain.ExecutionPlan) error { return s.err }

func (s *stubPlanStore) Get(_ context.Context, id string) (domain.ExecutionPlan, error) {
	if s.err != nil {
		return domain.ExecutionPlan{}, s.err
	}
	plan, ok := s.plans[id]
	if !ok {
		return domain.ExecutionPlan{}, domain.ErrNotFound
	}
	return plan, nil
}

func (s *stubPlanStore) List(context.Context, domain.ListOpts) ([]domain.ExecutionPlan, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]domain.ExecutionPlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubPlanStore) ListBefore(context.Context, time.Time, int) ([]domain.ExecutionPlan, error) {
	return nil, s.err
}

func (s *stubPlanStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, s.err }

func TestPlanHandler_CreatePlan(t *testing.T) {
	h := NewPlanHandler(&stubPlanner{plan: domain.ExecutionPlan{ID: "p-1", Style: domain.StyleTWAP}}, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/plans",
		strings.NewReader(`{"symbol":"BTC-USD","size":2.5,"urgency":"high"}`))
	rec := httptest.NewRecorder()
	h.CreatePlan(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "BTC-USD", body["Symbol"])
	assert.Equal(t, 2.5, body["TotalSize"])
	assert.Equal(t, "high", body["Urgency"])
}

func TestPlanHandler_CreatePlanValidation(t *testing.T) {
	h := NewPlanHandler(&stubPlanner{}, nil, testLogger())

	cases := map[string]string{
		"bad json":  `{`,
		"no symbol": `{"size":1}`,
		"bad size":  `{"symbol":"BTC-USD","size":0}`,
		"negative":  `{"symbol":"BTC-USD","size":-3}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/plans", strings.NewReader(payload))
			rec := httptest.NewRecorder()
			h.CreatePlan(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPlanHandler_GetPlan(t *testing.T) {
	store := &stubPlanStore{plans: map[string]domain.ExecutionPlan{
		"p-1": {ID: "p-1", Symbol: "BTC-USD"},
	}}
	h := NewPlanHandler(&stubPlanner{}, store, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/plans/p-1", nil)
	req.SetPathValue("id", "p-1")
	rec := httptest.NewRecorder()
	h.GetPlan(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p-1", decodeBody(t, rec)["ID"])

	req = httptest.NewRequest(http.MethodGet, "/api/plans/missing", nil)
	req.SetPathValue("id", "missing")
	rec = httptest.NewRecorder()
	h.GetPlan(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlanHandler_ReadsUnavailableWithoutStore(t *testing.T) {
	h := NewPlanHandler(&stubPlanner{}, nil, testLogger())

	rec := httptest.NewRecorder()
	h.ListPlans(rec, httptest.NewRequest(http.MethodGet, "/api/plans", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stubVenues struct {
	metrics  []domain.VenueMetrics
	scores   []domain.VenueScore
	choice   domain.VenueChoice
	err      error
	degraded []string
}

func (s *stubVenues) All() []domain.VenueMetrics { return s.metrics }

func (s *stubVenues) Score(string, float64, domain.Urgency) []domain.VenueScore { return s.scores }

func (s *stubVenues) ChooseVenue(string, float64, domain.Urgency) (domain.VenueChoice, error) {
	return s.choice, s.err
}

func (s *stubVenues) MarkDegraded(venue string) { s.degraded = append(s.degraded, venue) }

func (s *stubVenues) MarkRecovered(venue string) {}

func TestVenueHandler_GetChoice(t *testing.T) {
	h := NewVenueHandler(&stubVenues{
		choice: domain.VenueChoice{Venue: "binance", Score: 0.82, Confidence: 0.7},
	}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/venues/choice?symbol=BTC-USD&size=2&urgency=high", nil)
	rec := httptest.NewRecorder()
	h.GetChoice(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "binance", body["Venue"])
	assert.Equal(t, 0.82, body["Score"])
}

func TestVenueHandler_GetChoiceErrors(t *testing.T) {
	h := NewVenueHandler(&stubVenues{err: domain.ErrNoVenues}, testLogger())

	rec := httptest.NewRecorder()
	h.GetChoice(rec, httptest.NewRequest(http.MethodGet, "/api/venues/choice", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing symbol")

	rec = httptest.NewRecorder()
	h.GetChoice(rec, httptest.NewRequest(http.MethodGet, "/api/venues/choice?symbol=BTC-USD&size=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unparseable size")

	rec = httptest.NewRecorder()
	h.GetChoice(rec, httptest.NewRequest(http.MethodGet, "/api/venues/choice?symbol=BTC-USD", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "no venues registered")
}

func TestVenueHandler_MarkDegraded(t *testing.T) {
	venues := &stubVenues{}
	h := NewVenueHandler(venues, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/venues/binance/degraded", nil)
	req.SetPathValue("venue", "binance")
	rec := httptest.NewRecorder()
	h.MarkDegraded(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"binance"}, venues.degraded)
	assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
}

type stubMicroSource struct {
	snap domain.MicrostructureSnapshot
}

func (s *stubMicroSource) Snapshot(symbol string) domain.MicrostructureSnapshot {
	snap := s.snap
	snap.Symbol = symbol
	return snap
}

func TestMicroHandler_GetMicrostructure(t *testing.T) {
	h := NewMicroHandler(&stubMicroSource{
		snap: domain.MicrostructureSnapshot{SpreadBps: 4.2, Confidence: 0.9},
	}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/microstructure/BTC-USD", nil)
	req.SetPathValue("symbol", "BTC-USD")
	rec := httptest.NewRecorder()
	h.GetMicrostructure(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "BTC-USD", body["Symbol"])
	assert.Equal(t, 4.2, body["SpreadBps"])

	rec = httptest.NewRecorder()
	h.GetMicrostructure(rec, httptest.NewRequest(http.MethodGet, "/api/microstructure/", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubPinger struct{ err error }

func (s *stubPinger) Ping(context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(testLogger(), map[string]Pinger{
		"redis":    &stubPinger{},
		"postgres": &stubPinger{err: errors.New("connection refused")},
		"skipped":  nil,
	})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["redis"])
	assert.Equal(t, "down", deps["postgres"])
	assert.NotContains(t, deps, "skipped")
}

func TestParseListOpts(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet,
		"/api/plans?limit=10&offset=20&since=2026-08-01T00:00:00Z", nil)
	opts := parseListOpts(req)

	assert.Equal(t, 10, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
	require.NotNil(t, opts.Since)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), *opts.Since)
	assert.Nil(t, opts.Until)

	// Defaults and caps.
	opts = parseListOpts(httptest.NewRequest(http.MethodGet, "/api/plans", nil))
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)

	opts = parseListOpts(httptest.NewRequest(http.MethodGet, "/api/plans?limit=9999&offset=-5", nil))
	assert.Equal(t, 500, opts.Limit)
	assert.Zero(t, opts.Offset)
}
