package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid caller/config arguments.
	ErrInvalidArgument = errors.New("pricing invalid argument")
	// ErrFetchFailed classifies remote source failures (connectivity, HTTP status).
	ErrFetchFailed = errors.New("pricing fetch failed")
	// ErrFetchTimeout classifies fetches abandoned at their deadline.
	ErrFetchTimeout = errors.New("pricing fetch timed out")
	// ErrInvalidPayload classifies responses that decode but fail validation.
	ErrInvalidPayload = errors.New("pricing payload invalid")
)

func pricingError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
