// Package book owns reconciled order-book state per (venue, symbol). Each
// book is an independently owned unit: one single-writer goroutine applies
// snapshots and sequenced deltas in arrival order, detects sequence gaps,
// and schedules bounded resyncs. Readers only ever see immutable copies.
package book

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
)

// UpdateEvent classifies what a published book update represents.
type UpdateEvent string

const (
	EventSnapshot UpdateEvent = "snapshot"
	EventDelta    UpdateEvent = "delta"
	EventGap      UpdateEvent = "gap"
	EventStale    UpdateEvent = "stale"
)

// Update is the message fanned out to subscribers after every accepted book
// mutation. Book is a deep copy and safe to retain.
type Update struct {
	Event UpdateEvent
	Book  domain.OrderBook
}

// SnapshotFetcher retrieves a fresh full snapshot for a key during resync.
// Implementations are expected to honour the context deadline.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, key domain.BookKey) (domain.BookSnapshot, error)
}

// ContiguityFunc decides whether a delta may be applied on top of a book
// currently at bookSeq. The default rule is delta.Sequence == bookSeq+1;
// venues with range-based sequencing register their own rule.
type ContiguityFunc func(bookSeq uint64, delta domain.BookDelta) bool

func defaultContiguity(bookSeq uint64, delta domain.BookDelta) bool {
	return delta.Sequence == bookSeq+1
}

// RangeContiguity accepts deltas that span a sequence range covering
// bookSeq+1, the rule used by venues that publish first/final update IDs
// per diff message.
func RangeContiguity(bookSeq uint64, delta domain.BookDelta) bool {
	next := bookSeq + 1
	return delta.FirstSequence <= next && next <= delta.Sequence
}

// Config tunes the store's queues and resync behaviour.
type Config struct {
	// QueueSize is the per-key delta queue depth. When full, the oldest
	// queued delta is dropped; the resulting gap is caught by the normal
	// sequence check.
	QueueSize int
	// ResyncTimeout bounds a single snapshot refetch.
	ResyncTimeout time.Duration
	// ResyncBackoff is the base delay between failed refetch attempts;
	// it doubles per attempt.
	ResyncBackoff time.Duration
	// MaxResyncAttempts caps refetches before the book is marked stale.
	MaxResyncAttempts int
}

// DefaultConfig returns the tuning used in production.
func DefaultConfig() Config {
	return Config{
		QueueSize:         1024,
		ResyncTimeout:     5 * time.Second,
		ResyncBackoff:     500 * time.Millisecond,
		MaxResyncAttempts: 5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.ResyncTimeout <= 0 {
		c.ResyncTimeout = d.ResyncTimeout
	}
	if c.ResyncBackoff <= 0 {
		c.ResyncBackoff = d.ResyncBackoff
	}
	if c.MaxResyncAttempts <= 0 {
		c.MaxResyncAttempts = d.MaxResyncAttempts
	}
	return c
}

// Store is the registry of all live books. It is constructed once and passed
// by reference; there is no package-level state.
type Store struct {
	cfg     Config
	fetcher SnapshotFetcher
	logger  *slog.Logger

	mu         sync.RWMutex
	books      map[domain.BookKey]*actor
	contiguity map[string]ContiguityFunc
	subs       []chan Update
	closed     bool

	wg sync.WaitGroup
}

// NewStore creates a Store. fetcher may be nil, in which case gaps mark the
// book stale immediately instead of resyncing.
func NewStore(cfg Config, fetcher SnapshotFetcher, logger *slog.Logger) *Store {
	return &Store{
		cfg:        cfg.withDefaults(),
		fetcher:    fetcher,
		logger:     logger.With(slog.String("component", "book_store")),
		books:      make(map[domain.BookKey]*actor),
		contiguity: make(map[string]ContiguityFunc),
	}
}

// SetContiguityRule registers a venue-specific delta contiguity rule. It
// must be called before the venue's first update arrives.
func (s *Store) SetContiguityRule(venue string, fn ContiguityFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contiguity[venue] = fn
}

// Subscribe returns a channel receiving every accepted book update. Slow
// subscribers lose updates rather than blocking the writers.
func (s *Store) Subscribe(buffer int) <-chan Update {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan Update, buffer)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// ApplySnapshot routes a full snapshot to the key's writer, creating the
// book lazily on first use.
func (s *Store) ApplySnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	if len(snap.Bids) == 0 && len(snap.Asks) == 0 {
		s.logger.Warn("skipping empty snapshot",
			slog.String("venue", snap.Venue),
			slog.String("symbol", snap.Symbol),
		)
		return domain.ErrEmptyDepth
	}
	a := s.getOrCreate(domain.BookKey{Venue: snap.Venue, Symbol: snap.Symbol})
	if a == nil {
		return domain.ErrNotFound
	}
	return a.enqueue(ctx, command{snapshot: &snap})
}

// ApplyDelta routes a sequenced delta to the key's writer. The delta is
// validated against the book sequence inside the writer goroutine, so
// ApplyDelta itself never reports gaps.
func (s *Store) ApplyDelta(ctx context.Context, delta domain.BookDelta) error {
	a := s.getOrCreate(delta.Key())
	if a == nil {
		return domain.ErrNotFound
	}
	return a.enqueue(ctx, command{delta: &delta})
}

// GetSnapshot returns a read-only copy of the book. Callers must inspect
// Book.State: stale and resyncing books are served as advisory data.
func (s *Store) GetSnapshot(venue, symbol string) (domain.OrderBook, error) {
	s.mu.RLock()
	a, ok := s.books[domain.BookKey{Venue: venue, Symbol: symbol}]
	s.mu.RUnlock()
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return a.snapshot(), nil
}

// Health reports whether a book can be trusted. It returns ErrSequenceGap
// while a gap is being resynced, ErrStale once resync attempts are
// exhausted, ErrNotFound for unknown keys, and nil otherwise.
func (s *Store) Health(venue, symbol string) error {
	s.mu.RLock()
	a, ok := s.books[domain.BookKey{Venue: venue, Symbol: symbol}]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrNotFound
	}
	switch a.state() {
	case domain.BookGapDetected, domain.BookResyncing:
		return fmt.Errorf("book %s/%s: %w", venue, symbol, domain.ErrSequenceGap)
	case domain.BookStale:
		return fmt.Errorf("book %s/%s: %w", venue, symbol, domain.ErrStale)
	default:
		return nil
	}
}

// Keys lists the currently tracked book keys.
func (s *Store) Keys() []domain.BookKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.BookKey, 0, len(s.books))
	for k := range s.books {
		keys = append(keys, k)
	}
	return keys
}

// Drop destroys the book for a key, ending its writer goroutine. Used on
// unsubscribe.
func (s *Store) Drop(key domain.BookKey) {
	s.mu.Lock()
	a, ok := s.books[key]
	if ok {
		delete(s.books, key)
	}
	s.mu.Unlock()
	if ok {
		a.stop()
	}
}

// Close stops every writer goroutine and closes subscriber channels.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	actors := make([]*actor, 0, len(s.books))
	for _, a := range s.books {
		actors = append(actors, a)
	}
	s.books = make(map[domain.BookKey]*actor)
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, a := range actors {
		a.stop()
	}
	s.wg.Wait()
	for _, ch := range subs {
		close(ch)
	}
}

func (s *Store) getOrCreate(key domain.BookKey) *actor {
	s.mu.RLock()
	a, ok := s.books[key]
	closed := s.closed
	s.mu.RUnlock()
	if ok {
		return a
	}
	if closed {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if a, ok = s.books[key]; ok {
		return a
	}
	contig := s.contiguity[key.Venue]
	if contig == nil {
		contig = defaultContiguity
	}
	a = newActor(s, key, contig)
	s.books[key] = a
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.run()
	}()
	return a
}

// publish fans an update out to all subscribers, dropping for any whose
// buffer is full.
func (s *Store) publish(u Update) {
	s.mu.RLock()
	subs := s.subs
	s.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// command is one unit of work for a book writer.
type command struct {
	snapshot *domain.BookSnapshot
	delta    *domain.BookDelta
}

// actor is the single writer for one book key.
type actor struct {
	store  *Store
	key    domain.BookKey
	contig ContiguityFunc
	queue  chan command
	done   chan struct{}
	stopMu sync.Mutex

	mu   sync.RWMutex
	book domain.OrderBook

	resync *resyncer
}

func newActor(s *Store, key domain.BookKey, contig ContiguityFunc) *actor {
	a := &actor{
		store:  s,
		key:    key,
		contig: contig,
		queue:  make(chan command, s.cfg.QueueSize),
		done:   make(chan struct{}),
		book: domain.OrderBook{
			Venue:  key.Venue,
			Symbol: key.Symbol,
			State:  domain.BookUninitialized,
		},
	}
	a.resync = newResyncer(a, s.cfg, s.fetcher, s.logger)
	return a
}

func (a *actor) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-a.done:
		return domain.ErrNotFound
	case <-ctx.Done():
		return ctx.Err()
	case a.queue <- cmd:
		return nil
	default:
	}
	// Queue full: shed the oldest entry so the feed never blocks. The hole
	// this tears in the sequence stream is caught by the contiguity check.
	select {
	case <-a.queue:
	default:
	}
	select {
	case <-a.done:
		return domain.ErrNotFound
	case <-ctx.Done():
		return ctx.Err()
	case a.queue <- cmd:
		return nil
	}
}

func (a *actor) stop() {
	a.stopMu.Lock()
	defer a.stopMu.Unlock()
	select {
	case <-a.done:
		return
	default:
		close(a.done)
	}
	a.resync.cancel()
}

func (a *actor) run() {
	for {
		select {
		case <-a.done:
			return
		case cmd := <-a.queue:
			switch {
			case cmd.snapshot != nil:
				a.applySnapshot(*cmd.snapshot)
			case cmd.delta != nil:
				a.applyDelta(*cmd.delta)
			}
		}
	}
}

func (a *actor) snapshot() domain.OrderBook {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.book.Clone()
}

func (a *actor) state() domain.BookState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.book.State
}

// applySnapshot replaces the book wholesale. A snapshot always transitions
// to live and cancels any pending resync; it supersedes everything dropped
// while the resync was in flight.
func (a *actor) applySnapshot(snap domain.BookSnapshot) {
	// Venues occasionally include zero-size placeholders in full snapshots;
	// a stored level always has positive size.
	bids := positiveLevels(snap.Bids)
	asks := positiveLevels(snap.Asks)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	a.mu.Lock()
	a.book.Bids = bids
	a.book.Asks = asks
	a.book.Sequence = snap.Sequence
	a.book.LastUpdate = snap.Timestamp
	a.book.State = domain.BookLive
	copyOut := a.book.Clone()
	a.mu.Unlock()

	a.resync.cancel()
	a.store.publish(Update{Event: EventSnapshot, Book: copyOut})
}

// applyDelta merges one sequenced delta. Deltas arriving while not live are
// dropped: the snapshot that ends the resync supersedes them.
func (a *actor) applyDelta(delta domain.BookDelta) {
	a.mu.Lock()
	switch a.book.State {
	case domain.BookLive:
	case domain.BookGapDetected, domain.BookResyncing:
		a.mu.Unlock()
		a.store.logger.Debug("dropping delta during resync",
			slog.String("key", a.key.String()),
			slog.Uint64("sequence", delta.Sequence),
		)
		return
	default:
		// No snapshot yet; a delta cannot seed a book.
		a.mu.Unlock()
		return
	}

	if !a.contig(a.book.Sequence, delta) {
		a.book.State = domain.BookGapDetected
		expected := a.book.Sequence + 1
		copyOut := a.book.Clone()
		a.mu.Unlock()

		a.store.logger.Info("sequence gap detected",
			slog.String("key", a.key.String()),
			slog.Uint64("expected", expected),
			slog.Uint64("got", delta.Sequence),
		)
		a.store.publish(Update{Event: EventGap, Book: copyOut})
		a.resync.schedule()
		return
	}

	a.book.Bids = mergeSide(a.book.Bids, delta.BidChanges, true)
	a.book.Asks = mergeSide(a.book.Asks, delta.AskChanges, false)
	a.book.Sequence = delta.Sequence
	a.book.LastUpdate = delta.Timestamp

	// A crossed book after a contiguous merge means venue-side corruption;
	// treat it like a gap and rebuild from a fresh snapshot.
	if crossed(&a.book) {
		a.book.State = domain.BookGapDetected
		copyOut := a.book.Clone()
		a.mu.Unlock()

		a.store.logger.Warn("book crossed after delta, forcing resync",
			slog.String("key", a.key.String()),
			slog.Uint64("sequence", delta.Sequence),
		)
		a.store.publish(Update{Event: EventGap, Book: copyOut})
		a.resync.schedule()
		return
	}

	copyOut := a.book.Clone()
	a.mu.Unlock()
	a.store.publish(Update{Event: EventDelta, Book: copyOut})
}

// setState transitions the book's state from the resyncer goroutine.
func (a *actor) setState(st domain.BookState) {
	a.mu.Lock()
	a.book.State = st
	copyOut := a.book.Clone()
	a.mu.Unlock()
	if st == domain.BookStale {
		a.store.publish(Update{Event: EventStale, Book: copyOut})
	}
}

// positiveLevels copies levels, dropping entries with non-positive size.
func positiveLevels(levels []domain.PriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lv := range levels {
		if lv.Size > 0 {
			out = append(out, lv)
		}
	}
	return out
}

func crossed(b *domain.OrderBook) bool {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return false
	}
	return b.Bids[0].Price >= b.Asks[0].Price
}

// mergeSide applies level changes keeping the side ordered. Size 0 removes
// the level, size > 0 upserts.
func mergeSide(levels []domain.PriceLevel, changes []domain.PriceLevel, descending bool) []domain.PriceLevel {
	for _, ch := range changes {
		idx := sort.Search(len(levels), func(i int) bool {
			if descending {
				return levels[i].Price <= ch.Price
			}
			return levels[i].Price >= ch.Price
		})
		exists := idx < len(levels) && levels[idx].Price == ch.Price
		switch {
		case ch.Size <= 0 && exists:
			levels = append(levels[:idx], levels[idx+1:]...)
		case ch.Size <= 0:
			// Removal of an unknown level; nothing to do.
		case exists:
			levels[idx].Size = ch.Size
		default:
			levels = append(levels, domain.PriceLevel{})
			copy(levels[idx+1:], levels[idx:])
			levels[idx] = ch
		}
	}
	return levels
}
