// Package coordination provides the distributed lock used to elect a single
// catalog refresher across a fleet of otherwise identical instances.
//
// The lock is built on two atomic store primitives: conditional-set-with-expiry
// (acquire) and compare-and-delete (release). The stored token acts as a
// fencing value so a delayed release from a previous holder can never delete
// a lock acquired after its TTL expired.
package coordination

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Lease identifies one successful lock acquisition.
// Token is generated fresh per acquisition; only the holder of a matching
// token can renew or release the underlying record.
type Lease struct {
	Key      string
	Token    string
	ExpireAt time.Time
}

// LockProvider coordinates singleton execution across instances.
//
// Acquire returns (lease, true, nil) when this caller won the lock,
// (nil, false, nil) when another holder has it (contention is an expected
// outcome, not an error), and (nil, false, err) wrapping ErrStoreUnavailable
// when the store could not be reached, in which case exclusivity is unknown.
type LockProvider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error)

	// Renew extends the lease expiry while the stored token still matches.
	// Returns ErrLockLost when ownership is gone; the caller must abort the
	// protected work because another instance may now be running it.
	Renew(ctx context.Context, lease *Lease, ttl time.Duration) error

	// Release deletes the lock record only if the stored token matches the
	// lease. A failed compare (expired, or re-acquired by someone else) is a
	// no-op and returns nil.
	Release(ctx context.Context, lease *Lease) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// RecordStore publishes and fetches the shared result record so instances
// that lose the election still converge on the winner's catalog without
// refetching the remote source.
type RecordStore interface {
	// PublishRecord overwrites the shared record for key. Last writer wins;
	// the protected task is idempotent so concurrent degraded writers
	// produce equivalent records.
	PublishRecord(ctx context.Context, key string, value []byte) error

	// FetchRecord reads the shared record. The boolean is false when no
	// record has been published yet.
	FetchRecord(ctx context.Context, key string) ([]byte, bool, error)
}

// Store combines the lock and record primitives one coordination backend
// provides.
type Store interface {
	LockProvider
	RecordStore
}

func randomToken() string {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(raw)
}
