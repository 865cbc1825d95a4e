package book

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuelabs/microroute/internal/domain"
)

// stubFetcher serves canned snapshots and counts calls.
type stubFetcher struct {
	snap  domain.BookSnapshot
	err   error
	calls atomic.Int64
}

func (f *stubFetcher) FetchSnapshot(ctx context.Context, key domain.BookKey) (domain.BookSnapshot, error) {
	f.calls.Add(1)
	if f.err != nil {
		return domain.BookSnapshot{}, f.err
	}
	snap := f.snap
	snap.Venue = key.Venue
	snap.Symbol = key.Symbol
	return snap, nil
}

func testSnapshot(seq uint64) domain.BookSnapshot {
	return domain.BookSnapshot{
		Venue:  "alpha",
		Symbol: "BTC-USD",
		Bids: []domain.PriceLevel{
			{Price: 99, Size: 2},
			{Price: 100, Size: 1},
			{Price: 98, Size: 3},
		},
		Asks: []domain.PriceLevel{
			{Price: 102, Size: 2},
			{Price: 101, Size: 1},
			{Price: 103, Size: 3},
		},
		Sequence:  seq,
		Timestamp: time.Now(),
	}
}

func waitForEvent(t *testing.T, ch <-chan Update, event UpdateEvent) Update {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-ch:
			if u.Event == event {
				return u
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s update", event)
		}
	}
}

func TestStore_ApplySnapshot_SortsAndGoesLive(t *testing.T) {
	s := NewStore(Config{}, nil, slog.Default())
	defer s.Close()
	ch := s.Subscribe(16)

	require.NoError(t, s.ApplySnapshot(context.Background(), testSnapshot(10)))
	u := waitForEvent(t, ch, EventSnapshot)

	assert.Equal(t, domain.BookLive, u.Book.State)
	assert.Equal(t, uint64(10), u.Book.Sequence)
	// Bids descending, asks ascending.
	require.Len(t, u.Book.Bids, 3)
	assert.Equal(t, 100.0, u.Book.Bids[0].Price)
	assert.Equal(t, 98.0, u.Book.Bids[2].Price)
	require.Len(t, u.Book.Asks, 3)
	assert.Equal(t, 101.0, u.Book.Asks[0].Price)
	assert.Equal(t, 103.0, u.Book.Asks[2].Price)
}

func TestStore_ApplySnapshot_EmptyRejected(t *testing.T) {
	s := NewStore(Config{}, nil, slog.Default())
	defer s.Close()

	err := s.ApplySnapshot(context.Background(), domain.BookSnapshot{Venue: "alpha", Symbol: "BTC-USD"})
	assert.ErrorIs(t, err, domain.ErrEmptyDepth)
}

func TestStore_ApplyDelta_Contiguous(t *testing.T) {
	s := NewStore(Config{}, nil, slog.Default())
	defer s.Close()
	ch := s.Subscribe(16)

	require.NoError(t, s.ApplySnapshot(context.Background(), testSnapshot(10)))
	waitForEvent(t, ch, EventSnapshot)

	delta := domain.BookDelta{
		Venue:    "alpha",
		Symbol:   "BTC-USD",
		Sequence: 11,
		BidChanges: []domain.PriceLevel{
			{Price: 100, Size: 5},  // resize best bid
			{Price: 98, Size: 0},   // remove level
			{Price: 99.5, Size: 4}, // insert between
		},
		AskChanges: []domain.PriceLevel{
			{Price: 101, Size: 0}, // remove best ask
		},
		Timestamp: time.Now(),
	}
	require.NoError(t, s.ApplyDelta(context.Background(), delta))
	u := waitForEvent(t, ch, EventDelta)

	assert.Equal(t, uint64(11), u.Book.Sequence)
	assert.Equal(t, domain.BookLive, u.Book.State)
	require.Len(t, u.Book.Bids, 3)
	assert.Equal(t, domain.PriceLevel{Price: 100, Size: 5}, u.Book.Bids[0])
	assert.Equal(t, domain.PriceLevel{Price: 99.5, Size: 4}, u.Book.Bids[1])
	assert.Equal(t, domain.PriceLevel{Price: 99, Size: 2}, u.Book.Bids[2])
	require.Len(t, u.Book.Asks, 2)
	assert.Equal(t, 102.0, u.Book.Asks[0].Price)
}

func TestStore_GapTriggersResync(t *testing.T) {
	fetcher := &stubFetcher{snap: testSnapshot(50)}
	s := NewStore(Config{ResyncBackoff: 5 * time.Millisecond}, fetcher, slog.Default())
	defer s.Close()
	ch := s.Subscribe(16)

	require.NoError(t, s.ApplySnapshot(context.Background(), testSnapshot(10)))
	waitForEvent(t, ch, EventSnapshot)

	// Sequence 13 on top of 10 is a gap.
	gap := domain.BookDelta{
		Venue:      "alpha",
		Symbol:     "BTC-USD",
		Sequence:   13,
		BidChanges: []domain.PriceLevel{{Price: 100, Size: 9}},
		Timestamp:  time.Now(),
	}
	require.NoError(t, s.ApplyDelta(context.Background(), gap))

	u := waitForEvent(t, ch, EventGap)
	assert.Equal(t, domain.BookGapDetected, u.Book.State)

	// The resync fetches a fresh snapshot and the book returns to live.
	u = waitForEvent(t, ch, EventSnapshot)
	assert.Equal(t, domain.BookLive, u.Book.State)
	assert.Equal(t, uint64(50), u.Book.Sequence)
	assert.GreaterOrEqual(t, fetcher.calls.Load(), int64(1))
}

func TestStore_ResyncExhaustionMarksStale(t *testing.T) {
	fetcher := &stubFetcher{err: domain.ErrRateLimited}
	s := NewStore(Config{
		ResyncBackoff:     time.Millisecond,
		ResyncTimeout:     50 * time.Millisecond,
		MaxResyncAttempts: 2,
	}, fetcher, slog.Default())
	defer s.Close()
	ch := s.Subscribe(16)

	require.NoError(t, s.ApplySnapshot(context.Background(), testSnapshot(10)))
	waitForEvent(t, ch, EventSnapshot)

	require.NoError(t, s.ApplyDelta(context.Background(), domain.BookDelta{
		Venue:      "alpha",
		Symbol:     "BTC-USD",
		Sequence:   99,
		BidChanges: []domain.PriceLevel{{Price: 100, Size: 9}},
	}))

	waitForEvent(t, ch, EventGap)
	u := waitForEvent(t, ch, EventStale)
	assert.Equal(t, domain.BookStale, u.Book.State)
	assert.Equal(t, int64(2), fetcher.calls.Load())

	// Stale books are still readable but report unhealthy.
	b, err := s.GetSnapshot("alpha", "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, domain.BookStale, b.State)
	assert.NotEmpty(t, b.Bids)
	assert.ErrorIs(t, s.Health("alpha", "BTC-USD"), domain.ErrStale)
}

func TestStore_CrossedBookForcesResync(t *testing.T) {
	fetcher := &stubFetcher{snap: testSnapshot(50)}
	s := NewStore(Config{ResyncBackoff: 5 * time.Millisecond}, fetcher, slog.Default())
	defer s.Close()
	ch := s.Subscribe(16)

	require.NoError(t, s.ApplySnapshot(context.Background(), testSnapshot(10)))
	waitForEvent(t, ch, EventSnapshot)

	// Contiguous delta that crosses the book: bid above best ask.
	require.NoError(t, s.ApplyDelta(context.Background(), domain.BookDelta{
		Venue:      "alpha",
		Symbol:     "BTC-USD",
		Sequence:   11,
		BidChanges: []domain.PriceLevel{{Price: 105, Size: 1}},
	}))

	u := waitForEvent(t, ch, EventGap)
	assert.Equal(t, domain.BookGapDetected, u.Book.State)
	u = waitForEvent(t, ch, EventSnapshot)
	assert.Equal(t, domain.BookLive, u.Book.State)
}

func TestStore_DeltaBeforeSnapshotIgnored(t *testing.T) {
	s := NewStore(Config{}, nil, slog.Default())
	defer s.Close()

	require.NoError(t, s.ApplyDelta(context.Background(), domain.BookDelta{
		Venue:      "alpha",
		Symbol:     "BTC-USD",
		Sequence:   1,
		BidChanges: []domain.PriceLevel{{Price: 100, Size: 1}},
	}))

	require.Eventually(t, func() bool {
		b, err := s.GetSnapshot("alpha", "BTC-USD")
		return err == nil && b.State == domain.BookUninitialized && len(b.Bids) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStore_GetSnapshotUnknownKey(t *testing.T) {
	s := NewStore(Config{}, nil, slog.Default())
	defer s.Close()

	_, err := s.GetSnapshot("alpha", "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_SnapshotDropsZeroSizeLevels(t *testing.T) {
	s := NewStore(Config{}, nil, slog.Default())
	defer s.Close()
	ch := s.Subscribe(16)

	snap := testSnapshot(10)
	snap.Bids = append(snap.Bids, domain.PriceLevel{Price: 97, Size: 0})
	snap.Asks = append(snap.Asks, domain.PriceLevel{Price: 104, Size: -1})
	require.NoError(t, s.ApplySnapshot(context.Background(), snap))
	u := waitForEvent(t, ch, EventSnapshot)

	require.Len(t, u.Book.Bids, 3)
	require.Len(t, u.Book.Asks, 3)
	for _, lv := range append(u.Book.Bids, u.Book.Asks...) {
		assert.Greater(t, lv.Size, 0.0, "stored level at %v must have positive size", lv.Price)
	}
}

func TestStore_SnapshotReapplyIdempotent(t *testing.T) {
	s := NewStore(Config{}, nil, slog.Default())
	defer s.Close()
	ch := s.Subscribe(16)

	require.NoError(t, s.ApplySnapshot(context.Background(), testSnapshot(10)))
	first := waitForEvent(t, ch, EventSnapshot)

	require.NoError(t, s.ApplySnapshot(context.Background(), testSnapshot(10)))
	second := waitForEvent(t, ch, EventSnapshot)

	assert.Equal(t, domain.BookLive, second.Book.State)
	assert.Equal(t, first.Book.Sequence, second.Book.Sequence)
	assert.Equal(t, first.Book.Bids, second.Book.Bids)
	assert.Equal(t, first.Book.Asks, second.Book.Asks)
}

func TestStore_GapLeavesLevelsUntouched(t *testing.T) {
	fetcher := &stubFetcher{err: domain.ErrRateLimited}
	s := NewStore(Config{
		ResyncBackoff:     time.Millisecond,
		ResyncTimeout:     50 * time.Millisecond,
		MaxResyncAttempts: 2,
	}, fetcher, slog.Default())
	defer s.Close()
	ch := s.Subscribe(16)

	require.NoError(t, s.ApplySnapshot(context.Background(), testSnapshot(10)))
	before := waitForEvent(t, ch, EventSnapshot)

	// The gap delta's level changes must not be merged into the book.
	require.NoError(t, s.ApplyDelta(context.Background(), domain.BookDelta{
		Venue:      "alpha",
		Symbol:     "BTC-USD",
		Sequence:   42,
		BidChanges: []domain.PriceLevel{{Price: 100, Size: 9}},
		AskChanges: []domain.PriceLevel{{Price: 101, Size: 0}},
	}))
	gap := waitForEvent(t, ch, EventGap)

	assert.Equal(t, before.Book.Bids, gap.Book.Bids)
	assert.Equal(t, before.Book.Asks, gap.Book.Asks)
	assert.Equal(t, before.Book.Sequence, gap.Book.Sequence)

	// After resync exhaustion the stale book still holds the old levels.
	waitForEvent(t, ch, EventStale)
	b, err := s.GetSnapshot("alpha", "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, before.Book.Bids, b.Bids)
	assert.Equal(t, before.Book.Asks, b.Asks)
}

func TestStore_Health(t *testing.T) {
	fetcher := &stubFetcher{err: domain.ErrRateLimited}
	s := NewStore(Config{
		ResyncBackoff:     500 * time.Millisecond,
		ResyncTimeout:     50 * time.Millisecond,
		MaxResyncAttempts: 5,
	}, fetcher, slog.Default())
	defer s.Close()
	ch := s.Subscribe(16)

	assert.ErrorIs(t, s.Health("alpha", "BTC-USD"), domain.ErrNotFound)

	require.NoError(t, s.ApplySnapshot(context.Background(), testSnapshot(10)))
	waitForEvent(t, ch, EventSnapshot)
	assert.NoError(t, s.Health("alpha", "BTC-USD"))

	require.NoError(t, s.ApplyDelta(context.Background(), domain.BookDelta{
		Venue:      "alpha",
		Symbol:     "BTC-USD",
		Sequence:   42,
		BidChanges: []domain.PriceLevel{{Price: 100, Size: 9}},
	}))
	waitForEvent(t, ch, EventGap)

	require.Eventually(t, func() bool {
		return s.Health("alpha", "BTC-USD") != nil
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Health("alpha", "BTC-USD"), domain.ErrSequenceGap)
}

func TestRangeContiguity(t *testing.T) {
	// A range delta applies when it covers bookSeq+1.
	d := domain.BookDelta{FirstSequence: 8, Sequence: 12}
	assert.True(t, RangeContiguity(7, d))
	assert.True(t, RangeContiguity(11, d))
	assert.False(t, RangeContiguity(12, d)) // already past
	assert.False(t, RangeContiguity(5, d))  // hole before the range
}

func TestStore_VenueContiguityRule(t *testing.T) {
	s := NewStore(Config{}, nil, slog.Default())
	defer s.Close()
	s.SetContiguityRule("rangey", RangeContiguity)
	ch := s.Subscribe(16)

	snap := testSnapshot(10)
	snap.Venue = "rangey"
	require.NoError(t, s.ApplySnapshot(context.Background(), snap))
	waitForEvent(t, ch, EventSnapshot)

	// Covers 11 even though it starts before the book head.
	require.NoError(t, s.ApplyDelta(context.Background(), domain.BookDelta{
		Venue:         "rangey",
		Symbol:        "BTC-USD",
		FirstSequence: 9,
		Sequence:      14,
		BidChanges:    []domain.PriceLevel{{Price: 100, Size: 7}},
	}))
	u := waitForEvent(t, ch, EventDelta)
	assert.Equal(t, uint64(14), u.Book.Sequence)
}
