package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/venuelabs/microroute/internal/domain"
)

// PlanService defines what the plan handler requires from the planning
// layer.
type PlanService interface {
	CreatePlan(ctx context.Context, symbol string, size float64, urgency domain.Urgency) (domain.ExecutionPlan, error)
}

// PlanHandler serves execution plan endpoints.
type PlanHandler struct {
	planner PlanService
	store   domain.PlanStore
	logger  *slog.Logger
}

// NewPlanHandler creates a PlanHandler. store may be nil, in which case the
// read endpoints return 503.
func NewPlanHandler(planner PlanService, store domain.PlanStore, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{
		planner: planner,
		store:   store,
		logger:  logHandler(logger, "plan"),
	}
}

// createPlanRequest is the POST body for plan creation.
type createPlanRequest struct {
	Symbol  string  `json:"symbol"`
	Size    float64 `json:"size"`
	Urgency string  `json:"urgency"`
}

// CreatePlan computes an execution plan for a parent order.
// POST /api/plans
func (h *PlanHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if req.Size <= 0 {
		writeError(w, http.StatusBadRequest, "size must be > 0")
		return
	}

	plan, err := h.planner.CreatePlan(r.Context(), req.Symbol, req.Size, domain.ParseUrgency(req.Urgency))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create plan failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, plan)
}

// ListPlans returns recent plans, newest first.
// GET /api/plans?limit=50&offset=0&since=...&until=...
func (h *PlanHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "plan persistence is disabled")
		return
	}

	opts := parseListOpts(r)
	plans, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list plans failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"plans":  plans,
		"total":  len(plans),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetPlan returns a single plan by ID.
// GET /api/plans/{id}
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "plan persistence is disabled")
		return
	}

	id := pathParam(r, "id")
	plan, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get plan failed",
			slog.String("plan_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read plan")
		return
	}

	writeJSON(w, http.StatusOK, plan)
}
