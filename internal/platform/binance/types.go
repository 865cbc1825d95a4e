package binance

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/venuelabs/microroute/internal/domain"
)

// Venue is the venue identifier used for all books sourced from this
// connector.
const Venue = "binance"

// subscribeCommand is the JSON frame for stream (un)subscription.
type subscribeCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// streamEnvelope wraps every message on the combined stream endpoint.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// depthUpdateMessage is an incremental diff-depth event. Price levels are
// decimal strings; U/u delimit the sequence range the diff covers.
type depthUpdateMessage struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID uint64     `json:"U"`
	FinalUpdateID uint64     `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// tradeMessage is a single trade print.
type tradeMessage struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// depthSnapshotResponse is the REST depth snapshot body.
type depthSnapshotResponse struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func parseLevels(raw [][]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(entry[0], 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(entry[1], 64)
		if err != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels
}

// depthToDelta converts a diff-depth event into a domain delta. The delta's
// Sequence is the final update ID; FirstSequence carries the range start for
// the store's contiguity rule.
func depthToDelta(msg *depthUpdateMessage, symbol string) domain.BookDelta {
	return domain.BookDelta{
		Venue:         Venue,
		Symbol:        symbol,
		FirstSequence: msg.FirstUpdateID,
		Sequence:      msg.FinalUpdateID,
		BidChanges:    parseLevels(msg.Bids),
		AskChanges:    parseLevels(msg.Asks),
		Timestamp:     time.UnixMilli(msg.EventTime),
	}
}

// tradeToDomain converts a trade event. When the buyer is the maker the
// aggressor was a seller.
func tradeToDomain(msg *tradeMessage, symbol string) domain.Trade {
	price, _ := strconv.ParseFloat(msg.Price, 64)
	size, _ := strconv.ParseFloat(msg.Quantity, 64)

	side := domain.TradeBuy
	if msg.IsBuyerMaker {
		side = domain.TradeSell
	}
	return domain.Trade{
		Symbol:    symbol,
		Price:     price,
		Size:      size,
		Side:      side,
		Timestamp: time.UnixMilli(msg.TradeTime),
	}
}

// streamSymbol lowercases and strips the dash from an engine symbol:
// "BTC-USD" subscribes as "btcusd". Exchange symbols in messages come back
// uppercase without the dash, so both directions need a mapping.
func streamSymbol(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "-", ""))
}

func exchangeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}
