package handler

import (
	"log/slog"
	"net/http"

	"github.com/venuelabs/microroute/internal/domain"
)

// MicroSource supplies the current microstructure snapshot for a symbol.
type MicroSource interface {
	Snapshot(symbol string) domain.MicrostructureSnapshot
}

// MicroHandler serves microstructure signal endpoints.
type MicroHandler struct {
	micro  MicroSource
	logger *slog.Logger
}

// NewMicroHandler creates a MicroHandler with the given source and logger.
func NewMicroHandler(micro MicroSource, logger *slog.Logger) *MicroHandler {
	return &MicroHandler{
		micro:  micro,
		logger: logHandler(logger, "micro"),
	}
}

// GetMicrostructure returns the latest signal snapshot for a symbol. A
// symbol with no data yields the documented fallback snapshot rather than
// an error, so the Fallback field must be checked by the caller.
// GET /api/microstructure/{symbol}
func (h *MicroHandler) GetMicrostructure(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	writeJSON(w, http.StatusOK, h.micro.Snapshot(symbol))
}
