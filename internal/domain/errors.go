package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrStorage           = errors.New("storage failure")
	ErrPriceFeed         = errors.New("price feed unavailable")
	ErrAlreadyClosed     = errors.New("position already closed")
	ErrUnknownProfile    = errors.New("unknown risk profile")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrLockHeld          = errors.New("lock already held")
)
