package domain

import (
	"context"
	"time"
)

// BookCache mirrors the latest per-key book snapshot for external readers
// (dashboards, sibling services). It holds current state only, not history.
type BookCache interface {
	SetBook(ctx context.Context, book OrderBook) error
	GetBook(ctx context.Context, key BookKey) (OrderBook, error)
	GetBBO(ctx context.Context, key BookKey) (bestBid, bestAsk float64, err error)
}

// RateBudget tracks per-venue request consumption against a sliding window
// so the scorer can see the remaining quota.
type RateBudget interface {
	// Consume counts one request against the venue's window. It returns
	// whether the request fit the budget and how much quota remains.
	Consume(ctx context.Context, venue string, limit int, window time.Duration) (allowed bool, remaining int, err error)
	// Remaining reports the unused quota without consuming any of it.
	Remaining(ctx context.Context, venue string, limit int, window time.Duration) (int, error)
}

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out plus durable, ordered streams for the
// engine's outbound events (book health, microstructure, plans).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
