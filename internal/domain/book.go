package domain

import "time"

// BookState tracks where a book is in its snapshot/delta lifecycle.
type BookState string

const (
	BookUninitialized   BookState = "uninitialized"
	BookSnapshotLoading BookState = "snapshot_loading"
	BookLive            BookState = "live"
	BookGapDetected     BookState = "gap_detected"
	BookResyncing       BookState = "resyncing"
	// BookStale marks a book whose resync retries were exhausted. Reads are
	// still served but callers must treat the data as advisory.
	BookStale BookState = "stale"
)

// PriceLevel is a single price+size entry in an order book. A level with
// size 0 is never stored; zero-size delta entries remove the level.
type PriceLevel struct {
	Price float64
	Size  float64
}

// BookKey identifies one order book.
type BookKey struct {
	Venue  string
	Symbol string
}

func (k BookKey) String() string { return k.Venue + ":" + k.Symbol }

// OrderBook is the reconciled depth state for one venue/symbol. Bids are
// strictly descending by price, asks strictly ascending. While state is
// BookLive the book is uncrossed (best bid < best ask).
type OrderBook struct {
	Venue      string
	Symbol     string
	Bids       []PriceLevel
	Asks       []PriceLevel
	Sequence   uint64
	LastUpdate time.Time
	State      BookState
}

// BestBid returns the highest bid, or zero value if the side is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, or zero value if the side is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// MidPrice returns (bestBid+bestAsk)/2, or 0 when either side is empty.
func (b *OrderBook) MidPrice() float64 {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// Clone returns a deep copy so readers can never mutate store-owned state.
func (b *OrderBook) Clone() OrderBook {
	cp := *b
	cp.Bids = append([]PriceLevel(nil), b.Bids...)
	cp.Asks = append([]PriceLevel(nil), b.Asks...)
	return cp
}

// BookSnapshot is a full depth image from the connector layer. Applying it
// resets the book's sequence and forces state to BookLive.
type BookSnapshot struct {
	Venue     string
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Sequence  uint64
	Timestamp time.Time
}

// BookDelta is an incremental depth update. It is valid to apply only when
// contiguous with the book's current sequence; anything else is a gap.
type BookDelta struct {
	Venue  string
	Symbol string
	// FirstSequence is the first sequence covered by a range-sequenced
	// delta (e.g. Binance diff depth). Zero for single-sequence venues.
	FirstSequence uint64
	Sequence      uint64
	BidChanges []PriceLevel
	AskChanges []PriceLevel
	Timestamp  time.Time
}

// Key returns the book key this delta addresses.
func (d BookDelta) Key() BookKey { return BookKey{Venue: d.Venue, Symbol: d.Symbol} }
