package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/venuelabs/microroute/internal/domain"
)

// BookCache implements domain.BookCache using Redis sorted sets and hashes
// for each venue/symbol book.
//
// Key schema:
//
//	book:{venue}:{symbol}:bids     - sorted set of bid prices (score = price)
//	book:{venue}:{symbol}:asks     - sorted set of ask prices (score = price)
//	book:{venue}:{symbol}:bid:size - hash mapping price -> size for bids
//	book:{venue}:{symbol}:ask:size - hash mapping price -> size for asks
//	book:{venue}:{symbol}:bbo      - hash with fields "bid" and "ask"
//	book:{venue}:{symbol}:meta     - hash with "seq", "state", "ts" fields
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookBidsKey(k domain.BookKey) string    { return "book:" + k.String() + ":bids" }
func bookAsksKey(k domain.BookKey) string    { return "book:" + k.String() + ":asks" }
func bookBidSizeKey(k domain.BookKey) string { return "book:" + k.String() + ":bid:size" }
func bookAskSizeKey(k domain.BookKey) string { return "book:" + k.String() + ":ask:size" }
func bookBBOKey(k domain.BookKey) string     { return "book:" + k.String() + ":bbo" }
func bookMetaKey(k domain.BookKey) string    { return "book:" + k.String() + ":meta" }

// SetBook atomically replaces the mirrored book for a key. It clears the
// existing keys and repopulates both sides, the BBO hash, and the metadata
// hash in a single transaction.
func (bc *BookCache) SetBook(ctx context.Context, book domain.OrderBook) error {
	key := domain.BookKey{Venue: book.Venue, Symbol: book.Symbol}
	bidsKey := bookBidsKey(key)
	asksKey := bookAsksKey(key)
	bidSizeKey := bookBidSizeKey(key)
	askSizeKey := bookAskSizeKey(key)
	bboKey := bookBBOKey(key)
	metaKey := bookMetaKey(key)

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, bidsKey, asksKey, bidSizeKey, askSizeKey, bboKey, metaKey)

	for _, lvl := range book.Bids {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		sizeStr := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, bidSizeKey, priceStr, sizeStr)
	}
	for _, lvl := range book.Asks {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		sizeStr := strconv.FormatFloat(lvl.Size, 'f', -1, 64)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, askSizeKey, priceStr, sizeStr)
	}

	if bid, ok := book.BestBid(); ok {
		pipe.HSet(ctx, bboKey, "bid", strconv.FormatFloat(bid.Price, 'f', -1, 64))
	}
	if ask, ok := book.BestAsk(); ok {
		pipe.HSet(ctx, bboKey, "ask", strconv.FormatFloat(ask.Price, 'f', -1, 64))
	}

	pipe.HSet(ctx, metaKey,
		"seq", strconv.FormatUint(book.Sequence, 10),
		"state", string(book.State),
		"ts", strconv.FormatInt(book.LastUpdate.UnixNano(), 10),
	)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", key, err)
	}
	return nil
}

// GetBook reconstructs a full OrderBook mirror from Redis. It returns
// domain.ErrNotFound if no book data exists for the key.
func (bc *BookCache) GetBook(ctx context.Context, key domain.BookKey) (domain.OrderBook, error) {
	pipe := bc.rdb.Pipeline()

	// Bids sorted descending (highest first), asks ascending.
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(key), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(key), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(key))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(key))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(key))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s: %w", key, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return domain.OrderBook{}, domain.ErrNotFound
	}

	book := domain.OrderBook{
		Venue:  key.Venue,
		Symbol: key.Symbol,
		State:  domain.BookState(metaVals["state"]),
	}
	if seqStr, ok := metaVals["seq"]; ok {
		book.Sequence, _ = strconv.ParseUint(seqStr, 10, 64)
	}
	if tsStr, ok := metaVals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			book.LastUpdate = time.Unix(0, tsNano)
		}
	}

	book.Bids = levelsFromZ(bidsCmd, bidSizeCmd)
	book.Asks = levelsFromZ(asksCmd, askSizeCmd)
	return book, nil
}

func levelsFromZ(zCmd *redis.ZSliceCmd, sizeCmd *redis.MapStringStringCmd) []domain.PriceLevel {
	sizes, _ := sizeCmd.Result()
	zs, _ := zCmd.Result()
	levels := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		size := 0.0
		if sizeStr, exists := sizes[priceStr]; exists {
			size, _ = strconv.ParseFloat(sizeStr, 64)
		}
		levels = append(levels, domain.PriceLevel{Price: z.Score, Size: size})
	}
	return levels
}

// GetBBO retrieves the current best bid and ask from the BBO hash. It
// returns domain.ErrNotFound if no BBO data exists.
func (bc *BookCache) GetBBO(ctx context.Context, key domain.BookKey) (bestBid, bestAsk float64, err error) {
	vals, err := bc.rdb.HGetAll(ctx, bookBBOKey(key)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", key, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(askStr, 64)
	}
	return bestBid, bestAsk, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
