package domain

import "errors"

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrCatalogFetchFailed   = errors.New("market catalog fetch failed")
	ErrNoEligibleMarket     = errors.New("no eligible market")
	ErrOrderCreationFailure = errors.New("order creation failed")
	ErrOrderHeld            = errors.New("an order is already held")
	ErrStreamClosed         = errors.New("stream closed")
	ErrStreamError          = errors.New("stream error")
	ErrMalformedEvent       = errors.New("malformed event")

	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrLockHeld     = errors.New("lock already held")
	ErrLockLost     = errors.New("lock lost")
	ErrInvalidOrder = errors.New("invalid order")
)
