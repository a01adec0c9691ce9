package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument classifies invalid caller arguments.
	ErrInvalidArgument = errors.New("cache invalid argument")
	// ErrSnapshotWrite classifies durable snapshot write failures. The
	// in-memory state is still updated when this is returned.
	ErrSnapshotWrite = errors.New("cache snapshot write failed")
)

func cacheError(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}
