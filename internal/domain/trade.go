package domain

import "time"

// TradeSide is the aggressor side of a print.
type TradeSide string

const (
	TradeBuy  TradeSide = "BUY"
	TradeSell TradeSide = "SELL"
)

// Trade is a single trade print from the connector layer.
type Trade struct {
	Symbol    string
	Price     float64
	Size      float64
	Side      TradeSide
	Timestamp time.Time
}

// Notional returns price*size in quote currency.
func (t Trade) Notional() float64 { return t.Price * t.Size }
