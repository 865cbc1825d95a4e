package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrStale            = errors.New("book state is stale")
	ErrSequenceGap      = errors.New("sequence gap")
	ErrEmptyDepth       = errors.New("empty depth update")
	ErrInsufficientData = errors.New("insufficient history")
	ErrNoVenues         = errors.New("no venues registered")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrRateLimited      = errors.New("rate limited")
)
