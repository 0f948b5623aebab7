package gateway

import "errors"

var (
	// ErrInvalidProvider is returned for provider kinds outside the
	// closed set.
	ErrInvalidProvider = errors.New("invalid provider")
	// ErrAPIKeyRequired is returned when a provider needs a caller key
	// and none (or a junk one) was given.
	ErrAPIKeyRequired = errors.New("api key required")
	// ErrNotReady is returned when the gateway process never answered
	// the readiness probe within its budget.
	ErrNotReady = errors.New("gateway did not become ready")
	// ErrNotRunning is returned by operations that need a live gateway.
	ErrNotRunning = errors.New("gateway is not running")
	// ErrNotOwner is returned when a non-owner calls an owner-only
	// gateway operation.
	ErrNotOwner = errors.New("not the gateway owner")
	// ErrOwnedByOther is returned when the gateway is already running
	// for a different user.
	ErrOwnedByOther = errors.New("gateway is running for another user")
	// ErrStartFailed is returned when the supervisor could not launch
	// the program at all.
	ErrStartFailed = errors.New("gateway failed to start")
)
