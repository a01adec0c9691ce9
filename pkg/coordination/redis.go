package coordination

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pricefeed/pricefeed/pkg/observability/logger"
)

const (
	defaultRedisPrefix           = "pricefeed"
	defaultRedisOperationTimeout = 3 * time.Second
)

var (
	// releaseScript deletes the key only while it still holds our token.
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

	// renewScript extends the expiry only while the key still holds our token.
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

// RedisLockProviderConfig configures distributed locks backed by Redis.
type RedisLockProviderConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
}

func (c *RedisLockProviderConfig) normalize() {
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
}

// RedisLockProvider implements LockProvider using Redis SET NX PX semantics
// plus Lua compare-and-delete / compare-and-expire scripts.
type RedisLockProvider struct {
	client *redis.Client
	log    logger.Logger
	config RedisLockProviderConfig
}

// NewRedisLockProvider creates a Redis-based lock provider.
//
// An unreachable store at construction time is logged but not fatal: the
// coordinator must be able to start during a store outage and fall back to
// degraded refreshes until connectivity returns.
func NewRedisLockProvider(cfg RedisLockProviderConfig, log logger.Logger) (*RedisLockProvider, error) {
	if log == nil {
		return nil, coordinationError(ErrInvalidArgument, "logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, coordinationError(ErrInvalidArgument, "redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(coordinationError(ErrValidation, "parse redis url failed"), err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("coordination store unreachable at startup, continuing", "error", err)
	}

	return &RedisLockProvider{
		client: client,
		log:    log,
		config: cfg,
	}, nil
}

// Acquire attempts an atomic "set if absent with expiry" using a fresh token.
func (p *RedisLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if p == nil || p.client == nil {
		return nil, false, coordinationError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, coordinationError(ErrInvalidArgument, "lock key is required")
	}
	if ttl <= 0 {
		return nil, false, coordinationError(ErrInvalidArgument, "ttl must be > 0")
	}

	token := randomToken()

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	acquired, err := p.client.SetNX(opCtx, p.fullKey(key), token, ttl).Result()
	if err != nil {
		return nil, false, errors.Join(coordinationError(ErrStoreUnavailable, "acquire lock failed"), err)
	}
	if !acquired {
		return nil, false, nil
	}

	return &Lease{
		Key:      key,
		Token:    token,
		ExpireAt: time.Now().UTC().Add(ttl),
	}, true, nil
}

// Renew extends the lease expiry while the token still matches.
func (p *RedisLockProvider) Renew(ctx context.Context, lease *Lease, ttl time.Duration) error {
	if p == nil || p.client == nil {
		return coordinationError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	if err := validateLease(lease); err != nil {
		return err
	}
	if ttl <= 0 {
		return coordinationError(ErrInvalidArgument, "ttl must be > 0")
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	result, err := renewScript.Run(opCtx, p.client, []string{p.fullKey(lease.Key)}, lease.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return errors.Join(coordinationError(ErrStoreUnavailable, "renew lock failed"), err)
	}
	if result == 0 {
		return coordinationError(ErrLockLost, "lock renew rejected")
	}

	lease.ExpireAt = time.Now().UTC().Add(ttl)
	return nil
}

// Release deletes the lock only while the token still matches. A failed
// compare means the lease already expired or another instance holds the key
// now; both are expected and resolve to nil.
func (p *RedisLockProvider) Release(ctx context.Context, lease *Lease) error {
	if p == nil || p.client == nil {
		return coordinationError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	if err := validateLease(lease); err != nil {
		return err
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	result, err := releaseScript.Run(opCtx, p.client, []string{p.fullKey(lease.Key)}, lease.Token).Int64()
	if err != nil {
		return errors.Join(coordinationError(ErrStoreUnavailable, "release lock failed"), err)
	}
	if result == 0 {
		p.log.Debug("lock release skipped, token no longer current", "key", lease.Key)
	}
	return nil
}

// PublishRecord writes the shared result record with a plain SET. The record
// has no expiry; a stale record is still the best answer a cold instance has.
func (p *RedisLockProvider) PublishRecord(ctx context.Context, key string, value []byte) error {
	if p == nil || p.client == nil {
		return coordinationError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return coordinationError(ErrInvalidArgument, "record key is required")
	}
	if len(value) == 0 {
		return coordinationError(ErrInvalidArgument, "record value is required")
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.client.Set(opCtx, p.fullKey(key), value, 0).Err(); err != nil {
		return errors.Join(coordinationError(ErrStoreUnavailable, "publish record failed"), err)
	}
	return nil
}

// FetchRecord reads the shared result record.
func (p *RedisLockProvider) FetchRecord(ctx context.Context, key string) ([]byte, bool, error) {
	if p == nil || p.client == nil {
		return nil, false, coordinationError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, coordinationError(ErrInvalidArgument, "record key is required")
	}

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	value, err := p.client.Get(opCtx, p.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Join(coordinationError(ErrStoreUnavailable, "fetch record failed"), err)
	}
	return value, true, nil
}

// HealthCheck verifies Redis connectivity.
func (p *RedisLockProvider) HealthCheck(ctx context.Context) error {
	if p == nil || p.client == nil {
		return coordinationError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.client.Ping(opCtx).Err(); err != nil {
		return errors.Join(coordinationError(ErrStoreUnavailable, "redis healthcheck failed"), err)
	}
	return nil
}

// Close closes Redis client connections.
func (p *RedisLockProvider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *RedisLockProvider) fullKey(key string) string {
	return strings.TrimRight(p.config.Prefix, ":") + ":" + strings.TrimSpace(key)
}

func validateLease(lease *Lease) error {
	if lease == nil {
		return coordinationError(ErrInvalidArgument, "lease is required")
	}
	if strings.TrimSpace(lease.Key) == "" || strings.TrimSpace(lease.Token) == "" {
		return coordinationError(ErrInvalidArgument, "lease key and token are required")
	}
	return nil
}
