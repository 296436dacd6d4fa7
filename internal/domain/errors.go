// internal/domain/errors.go
package domain

import "errors"

var (
	// ErrInvalidAmount rejects non-positive trade inputs.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientReserves fires when a trade would drain a reserve to zero or below.
	ErrInsufficientReserves = errors.New("insufficient reserves")
	// ErrMarketGraduated fires for any curve operation on a frozen or graduated market.
	ErrMarketGraduated = errors.New("market graduated")
	// ErrInvalidTransition rejects state-machine moves that are not forward edges.
	ErrInvalidTransition = errors.New("invalid market state transition")
	// ErrMarketNotFound is returned for operations on unknown market ids.
	ErrMarketNotFound = errors.New("market not found")
	// ErrNotEligible rejects graduation requests before thresholds are met.
	ErrNotEligible = errors.New("market not eligible for graduation")
)
