package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/venuelabs/microroute/internal/domain"
)

// BookReader defines what the book handler needs from the reconciled book
// store. Declared locally so the handler package does not depend on the
// concrete store implementation.
type BookReader interface {
	GetSnapshot(venue, symbol string) (domain.OrderBook, error)
	Keys() []domain.BookKey
}

// BookHandler serves reconciled order book endpoints.
type BookHandler struct {
	books  BookReader
	logger *slog.Logger
}

// NewBookHandler creates a BookHandler with the given store and logger.
func NewBookHandler(books BookReader, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		books:  books,
		logger: logHandler(logger, "book"),
	}
}

// ListBooks returns the keys of all tracked books.
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	keys := h.books.Keys()
	writeJSON(w, http.StatusOK, map[string]any{
		"books": keys,
		"total": len(keys),
	})
}

// GetBook returns the current reconciled book for one venue/symbol. Stale
// books are still served; the State field tells the caller how much to
// trust the depth.
// GET /api/books/{venue}/{symbol}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	venue := pathParam(r, "venue")
	symbol := pathParam(r, "symbol")

	book, err := h.books.GetSnapshot(venue, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get book failed",
			slog.String("venue", venue),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read book")
		return
	}

	writeJSON(w, http.StatusOK, book)
}
