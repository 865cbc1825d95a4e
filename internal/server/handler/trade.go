package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
)

// TradeRecorder defines what the trade handler requires from the feed layer.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, trade domain.Trade) error
}

// TradeHandler accepts out-of-band trade prints, mainly for testing and
// backfill tooling. Live prints normally arrive over the connector stream.
type TradeHandler struct {
	feed   TradeRecorder
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given recorder and logger.
func NewTradeHandler(feed TradeRecorder, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		feed:   feed,
		logger: logHandler(logger, "trade"),
	}
}

// recordTradeRequest is the POST body for trade ingestion.
type recordTradeRequest struct {
	Symbol    string     `json:"symbol"`
	Price     float64    `json:"price"`
	Size      float64    `json:"size"`
	Side      string     `json:"side"`
	Timestamp *time.Time `json:"timestamp"`
}

// RecordTrade ingests one trade print into the estimators.
// POST /api/trades
func (h *TradeHandler) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var req recordTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	side := domain.TradeSide(req.Side)
	if side != domain.TradeBuy && side != domain.TradeSell {
		writeError(w, http.StatusBadRequest, `side must be "BUY" or "SELL"`)
		return
	}

	trade := domain.Trade{
		Symbol: req.Symbol,
		Price:  req.Price,
		Size:   req.Size,
		Side:   side,
	}
	if req.Timestamp != nil {
		trade.Timestamp = *req.Timestamp
	}

	if err := h.feed.RecordTrade(r.Context(), trade); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: record trade failed",
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
