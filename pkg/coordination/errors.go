package coordination

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("coordination invalid argument")
	// ErrNotInitialized classifies operations on a zero or closed provider.
	ErrNotInitialized = errors.New("coordination provider not initialized")
	// ErrStoreUnavailable classifies coordination store connectivity failures.
	// Callers must treat this as "exclusivity unknown", never as "lock held".
	ErrStoreUnavailable = errors.New("coordination store unavailable")
	// ErrLockLost classifies renew attempts after ownership moved to another
	// holder. The protected task must abort immediately.
	ErrLockLost = errors.New("coordination lock lost")
	// ErrValidation classifies configuration validation failures.
	ErrValidation = errors.New("coordination validation error")
)

func coordinationError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
