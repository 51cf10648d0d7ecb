package models

import "errors"

// Custom errors
var (
	ErrNotFound             = errors.New("record not found")
	ErrDuplicateKey         = errors.New("duplicate key violation")
	ErrInvalidID            = errors.New("invalid ID format")
	ErrUnresolvedGame       = errors.New("game identity could not be resolved")
	ErrUnresolvedSportsbook = errors.New("sportsbook identity could not be resolved")
	ErrResourceExhausted    = errors.New("resource exhausted")
	ErrFutureTimestamp      = errors.New("odds timestamp beyond skew tolerance")
	ErrInvalidOdds          = errors.New("odds outside sanity range")
	ErrCircuitOpen          = errors.New("circuit breaker open")
)
