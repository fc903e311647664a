package negotiation

import "errors"

var (
	// ErrCapability means local media could not be acquired. The engine
	// stays Idle and does not retry on its own.
	ErrCapability = errors.New("local media unavailable")

	// ErrProtocol marks a malformed or unusable session description or
	// candidate. The offending message is dropped.
	ErrProtocol = errors.New("signaling protocol error")

	ErrWrongRole      = errors.New("operation not allowed for this role")
	ErrClosed         = errors.New("negotiation closed")
	ErrNotInitialized = errors.New("peer connection not initialized")
)
