package coordination

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryRecord struct {
	token    string
	expireAt time.Time
}

// MemoryLockProvider implements LockProvider with process-local state.
//
// It honors the same token and TTL semantics as the Redis provider and is
// meant for single-instance deployments and tests; it provides no cross-fleet
// exclusion.
type MemoryLockProvider struct {
	mu        sync.Mutex
	records   map[string]memoryRecord
	published map[string][]byte
	closed    bool
	now       func() time.Time
}

// NewMemoryLockProvider creates an in-process lock provider.
func NewMemoryLockProvider() *MemoryLockProvider {
	return &MemoryLockProvider{
		records:   map[string]memoryRecord{},
		published: map[string][]byte{},
		now:       time.Now,
	}
}

// Acquire wins the lock when no unexpired record exists for the key.
func (p *MemoryLockProvider) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if p == nil {
		return nil, false, coordinationError(ErrNotInitialized, "memory lock provider is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, coordinationError(ErrInvalidArgument, "lock key is required")
	}
	if ttl <= 0 {
		return nil, false, coordinationError(ErrInvalidArgument, "ttl must be > 0")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, coordinationError(ErrNotInitialized, "memory lock provider is closed")
	}

	now := p.now().UTC()
	if record, exists := p.records[key]; exists && record.expireAt.After(now) {
		return nil, false, nil
	}

	token := randomToken()
	expireAt := now.Add(ttl)
	p.records[key] = memoryRecord{token: token, expireAt: expireAt}
	return &Lease{Key: key, Token: token, ExpireAt: expireAt}, true, nil
}

// Renew extends the expiry while the stored token matches the lease.
func (p *MemoryLockProvider) Renew(_ context.Context, lease *Lease, ttl time.Duration) error {
	if p == nil {
		return coordinationError(ErrNotInitialized, "memory lock provider is not initialized")
	}
	if err := validateLease(lease); err != nil {
		return err
	}
	if ttl <= 0 {
		return coordinationError(ErrInvalidArgument, "ttl must be > 0")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC()
	record, exists := p.records[lease.Key]
	if !exists || record.token != lease.Token || !record.expireAt.After(now) {
		return coordinationError(ErrLockLost, "lock renew rejected")
	}
	record.expireAt = now.Add(ttl)
	p.records[lease.Key] = record
	lease.ExpireAt = record.expireAt
	return nil
}

// Release deletes the record only while the token matches; anything else is
// a no-op, same as the Redis provider.
func (p *MemoryLockProvider) Release(_ context.Context, lease *Lease) error {
	if p == nil {
		return coordinationError(ErrNotInitialized, "memory lock provider is not initialized")
	}
	if err := validateLease(lease); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	record, exists := p.records[lease.Key]
	if exists && record.token == lease.Token {
		delete(p.records, lease.Key)
	}
	return nil
}

// PublishRecord overwrites the shared result record for the key.
func (p *MemoryLockProvider) PublishRecord(_ context.Context, key string, value []byte) error {
	if p == nil {
		return coordinationError(ErrNotInitialized, "memory lock provider is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return coordinationError(ErrInvalidArgument, "record key is required")
	}
	if len(value) == 0 {
		return coordinationError(ErrInvalidArgument, "record value is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return coordinationError(ErrNotInitialized, "memory lock provider is closed")
	}
	p.published[key] = append([]byte(nil), value...)
	return nil
}

// FetchRecord reads the shared result record for the key.
func (p *MemoryLockProvider) FetchRecord(_ context.Context, key string) ([]byte, bool, error) {
	if p == nil {
		return nil, false, coordinationError(ErrNotInitialized, "memory lock provider is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, coordinationError(ErrInvalidArgument, "record key is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, coordinationError(ErrNotInitialized, "memory lock provider is closed")
	}
	value, exists := p.published[key]
	if !exists {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

// HealthCheck always succeeds while the provider is open.
func (p *MemoryLockProvider) HealthCheck(context.Context) error {
	if p == nil {
		return coordinationError(ErrNotInitialized, "memory lock provider is not initialized")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return coordinationError(ErrNotInitialized, "memory lock provider is closed")
	}
	return nil
}

// Close releases all records and rejects further acquisitions.
func (p *MemoryLockProvider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.records = map[string]memoryRecord{}
	p.published = map[string][]byte{}
	return nil
}
