package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/venuelabs/microroute/internal/domain"
)

// VenueService defines what the venue handler requires from the scorer.
type VenueService interface {
	All() []domain.VenueMetrics
	Score(symbol string, size float64, urgency domain.Urgency) []domain.VenueScore
	ChooseVenue(symbol string, size float64, urgency domain.Urgency) (domain.VenueChoice, error)
	MarkDegraded(venue string)
	MarkRecovered(venue string)
}

// VenueHandler serves venue scoring and health endpoints.
type VenueHandler struct {
	venues VenueService
	logger *slog.Logger
}

// NewVenueHandler creates a VenueHandler with the given service and logger.
func NewVenueHandler(venues VenueService, logger *slog.Logger) *VenueHandler {
	return &VenueHandler{
		venues: venues,
		logger: logHandler(logger, "venue"),
	}
}

// ListMetrics returns the current metrics for every registered venue.
// GET /api/venues
func (h *VenueHandler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.venues.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"venues": metrics,
		"total":  len(metrics),
	})
}

// scoreParams extracts the symbol/size/urgency scoring inputs from the
// query string.
func scoreParams(r *http.Request) (symbol string, size float64, urgency domain.Urgency, err error) {
	q := r.URL.Query()

	symbol = q.Get("symbol")
	if symbol == "" {
		return "", 0, "", errors.New("symbol is required")
	}

	size = 1
	if v := q.Get("size"); v != "" {
		size, err = strconv.ParseFloat(v, 64)
		if err != nil || size <= 0 {
			return "", 0, "", errors.New("size must be a positive number")
		}
	}

	return symbol, size, domain.ParseUrgency(q.Get("urgency")), nil
}

// GetScores returns ranked venue scores for a symbol and order size.
// GET /api/venues/scores?symbol=BTC-USD&size=2&urgency=high
func (h *VenueHandler) GetScores(w http.ResponseWriter, r *http.Request) {
	symbol, size, urgency, err := scoreParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"scores": h.venues.Score(symbol, size, urgency),
	})
}

// GetChoice returns the routing recommendation for a symbol and order size.
// GET /api/venues/choice?symbol=BTC-USD&size=2&urgency=high
func (h *VenueHandler) GetChoice(w http.ResponseWriter, r *http.Request) {
	symbol, size, urgency, err := scoreParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	choice, err := h.venues.ChooseVenue(symbol, size, urgency)
	if err != nil {
		if errors.Is(err, domain.ErrNoVenues) {
			writeError(w, http.StatusNotFound, "no venues registered")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: choose venue failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to choose venue")
		return
	}

	writeJSON(w, http.StatusOK, choice)
}

// MarkDegraded raises the degrade level of a venue by one.
// POST /api/venues/{venue}/degraded
func (h *VenueHandler) MarkDegraded(w http.ResponseWriter, r *http.Request) {
	venue := pathParam(r, "venue")
	h.venues.MarkDegraded(venue)
	h.logger.InfoContext(r.Context(), "venue marked degraded", slog.String("venue", venue))
	writeJSON(w, http.StatusOK, map[string]string{"venue": venue, "status": "degraded"})
}

// MarkRecovered lowers the degrade level of a venue by one.
// POST /api/venues/{venue}/recovered
func (h *VenueHandler) MarkRecovered(w http.ResponseWriter, r *http.Request) {
	venue := pathParam(r, "venue")
	h.venues.MarkRecovered(venue)
	h.logger.InfoContext(r.Context(), "venue marked recovered", slog.String("venue", venue))
	writeJSON(w, http.StatusOK, map[string]string{"venue": venue, "status": "recovered"})
}
