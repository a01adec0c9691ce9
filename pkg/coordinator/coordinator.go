// Package coordinator runs the singleton refresh loop: it decides when the
// shared catalog is due, elects a single refresher fleet-wide through the
// distributed lock, executes the fetch with a hard deadline, and always
// republishes into the shared result cache. When the coordination store is
// unreachable it trades exclusivity for availability and refreshes
// unilaterally rather than letting the fleet go stale forever.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/pricefeed/pricefeed/pkg/cache"
	"github.com/pricefeed/pricefeed/pkg/coordination"
	"github.com/pricefeed/pricefeed/pkg/observability/logger"
	"github.com/pricefeed/pricefeed/pkg/pricing"
	"github.com/pricefeed/pricefeed/pkg/resilience"
)

const (
	DefaultLockKey         = "model-prices"
	DefaultRefreshInterval = 3 * time.Hour
	DefaultCheckInterval   = time.Minute
	DefaultLockTTL         = 30 * time.Minute

	// The task deadline stays below the lock TTL so a live holder always
	// finishes (or is abandoned) and releases before the TTL safety net fires.
	taskDeadlineNumerator   = 4
	taskDeadlineDenominator = 5

	releaseTimeout = 5 * time.Second
)

// Outcome classifies how one scheduler cycle ended.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeFresh            Outcome = "fresh"
	OutcomeAdopted          Outcome = "adopted"
	OutcomeContended        Outcome = "lock_contended"
	OutcomeStoreUnavailable Outcome = "store_unavailable"
	OutcomeTaskFailed       Outcome = "task_failed"
	OutcomeDeferred         Outcome = "deferred"
	OutcomeInFlight         Outcome = "in_flight"
)

// Attempt records the result of the most recent refresh attempt. It is used
// for logging and health reporting only, never for correctness decisions.
type Attempt struct {
	Outcome  Outcome   `json:"outcome"`
	Degraded bool      `json:"degraded"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Config controls coordinator behavior.
type Config struct {
	// LockKey names the protected task; one key per task type fleet-wide.
	LockKey string
	// RefreshInterval is the staleness threshold for the cached catalog.
	RefreshInterval time.Duration
	// CheckInterval is how often each instance re-evaluates freshness.
	CheckInterval time.Duration
	// LockTTL bounds how long a crashed holder can block the fleet. Must be
	// conservatively longer than the worst-case task duration.
	LockTTL time.Duration
	// Source identifies this instance in published snapshots.
	Source string
}

func (c *Config) normalize() {
	if strings.TrimSpace(c.LockKey) == "" {
		c.LockKey = DefaultLockKey
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if strings.TrimSpace(c.Source) == "" {
		c.Source = defaultSource()
	}
}

func defaultSource() string {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		hostname = "instance"
	}
	return hostname + "-" + uuid.NewString()[:8]
}

// Coordinator is the singleton scheduler. It is constructed once at process
// start with its collaborators injected, and shared with the request-serving
// layer only through the result cache and ForceRefresh.
type Coordinator struct {
	store   coordination.Store
	fetcher pricing.Fetcher
	cache   *cache.ResultCache
	log     logger.Logger
	config  Config

	// inFlight prevents a slow cycle from being re-entered by the next tick.
	inFlight atomic.Bool
	degraded atomic.Bool

	mu          sync.Mutex
	lastAttempt *Attempt
	retry       *backoff.ExponentialBackOff
	nextRetryAt time.Time
}

// New creates a coordinator from its injected dependencies.
func New(store coordination.Store, fetcher pricing.Fetcher, resultCache *cache.ResultCache, log logger.Logger, cfg Config) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("coordination store is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if resultCache == nil {
		return nil, errors.New("result cache is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	cfg.normalize()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.CheckInterval
	retry.MaxInterval = cfg.RefreshInterval / 4
	if retry.MaxInterval < retry.InitialInterval {
		retry.MaxInterval = retry.InitialInterval
	}
	retry.MaxElapsedTime = 0

	return &Coordinator{
		store:   store,
		fetcher: fetcher,
		cache:   resultCache,
		log:     log.With("component", "coordinator", "lock_key", cfg.LockKey),
		config:  cfg,
		retry:   retry,
	}, nil
}

// Run executes the scheduler loop until ctx is cancelled. One cycle runs
// immediately so a freshly booted instance with a stale snapshot does not
// wait a full check interval.
func (c *Coordinator) Run(ctx context.Context) error {
	if c == nil {
		return errors.New("coordinator is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	c.log.Info("coordinator started",
		"refresh_interval", c.config.RefreshInterval,
		"check_interval", c.config.CheckInterval,
		"lock_ttl", c.config.LockTTL,
		"source", c.config.Source,
	)

	c.runCycle(ctx, false)

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("coordinator stopped")
			return nil
		case <-ticker.C:
			c.runCycle(ctx, false)
		}
	}
}

// ForceRefresh bypasses the freshness check but still goes through the full
// lock path, so concurrent admin-triggered refreshes from different
// instances cannot race.
func (c *Coordinator) ForceRefresh(ctx context.Context) Attempt {
	return c.runCycle(ctx, true)
}

// LastAttempt reports the most recent real refresh attempt. Cycles that
// short-circuited (fresh cache, deferred retry, local re-entry) do not count.
func (c *Coordinator) LastAttempt() (Attempt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastAttempt == nil {
		return Attempt{}, false
	}
	return *c.lastAttempt, true
}

// Degraded reports whether the last store contact failed. Any successful
// contact clears it: a lock acquisition, a published-record fetch, or a
// readiness probe through StoreHealthChecker.
func (c *Coordinator) Degraded() bool {
	return c.degraded.Load()
}

func (c *Coordinator) runCycle(ctx context.Context, force bool) Attempt {
	if !c.inFlight.CompareAndSwap(false, true) {
		recordCycle(OutcomeInFlight)
		return Attempt{Outcome: OutcomeInFlight, At: time.Now().UTC()}
	}
	defer c.inFlight.Store(false)

	start := time.Now()
	attempt := c.cycle(ctx, force)
	recordCycle(attempt.Outcome)
	observeRefreshDuration(time.Since(start))
	return attempt
}

func (c *Coordinator) cycle(ctx context.Context, force bool) Attempt {
	now := time.Now().UTC()

	if !force {
		if !c.cache.IsStale(c.config.RefreshInterval) {
			// Fresh result: return without contacting the store at all, so a
			// large fleet does not hammer the backend on every tick.
			return Attempt{Outcome: OutcomeFresh, At: now}
		}
		if c.adoptPublished(ctx) {
			// Another instance already refreshed; its published record is the
			// current catalog and no remote fetch is needed here.
			return c.record(Attempt{Outcome: OutcomeAdopted, At: now})
		}
		if deferUntil := c.retryDeadline(); now.Before(deferUntil) {
			c.log.Debug("refresh deferred after recent task failure", "until", deferUntil)
			return Attempt{Outcome: OutcomeDeferred, At: now}
		}
	}

	lease, acquired, err := c.store.Acquire(ctx, c.config.LockKey, c.config.LockTTL)
	if err != nil {
		recordLockAcquire("error")
		return c.degradedCycle(ctx, err)
	}
	c.setDegraded(false)

	if !acquired {
		recordLockAcquire("contended")
		c.log.Debug("lock held by another instance, skipping cycle")
		return c.record(Attempt{Outcome: OutcomeContended, At: now})
	}
	recordLockAcquire("acquired")

	payload, runErr := c.runTask(ctx, lease)
	if runErr != nil {
		c.releaseLease(lease)
		c.deferRetry()
		c.log.Error("refresh task failed, keeping previous catalog", "error", runErr)
		return c.record(Attempt{Outcome: OutcomeTaskFailed, At: now, Error: runErr.Error()})
	}

	c.publish(payload)
	c.publishRecord()
	c.releaseLease(lease)
	c.resetRetry()
	c.log.Info("catalog refreshed", "models", len(payload.Models), "source", c.config.Source)
	return c.record(Attempt{Outcome: OutcomeSuccess, At: now})
}

// degradedCycle implements the degradation policy: with the store
// unreachable exclusivity cannot be guaranteed, so prefer availability and
// refresh unilaterally. Redundant remote calls during an outage are accepted;
// stale-forever data is not. Normal singleton behavior resumes on the next
// cycle once the store answers again.
func (c *Coordinator) degradedCycle(ctx context.Context, acquireErr error) Attempt {
	c.setDegraded(true)
	now := time.Now().UTC()
	c.log.Warn("coordination store unreachable, running degraded refresh without lock", "error", acquireErr)

	payload, runErr := c.runUnlockedTask(ctx)
	if runErr != nil {
		c.deferRetry()
		c.log.Error("degraded refresh failed, keeping previous catalog", "error", runErr)
		return c.record(Attempt{Outcome: OutcomeStoreUnavailable, Degraded: true, At: now, Error: runErr.Error()})
	}

	c.publish(payload)
	c.resetRetry()
	c.log.Warn("catalog refreshed in degraded mode", "models", len(payload.Models))
	return c.record(Attempt{Outcome: OutcomeStoreUnavailable, Degraded: true, At: now})
}

// runTask executes the fetch under the lease with a hard deadline below the
// lock TTL. A renewal loop guards tasks that run long; losing ownership
// aborts the task immediately because another instance may now be running it.
func (c *Coordinator) runTask(ctx context.Context, lease *coordination.Lease) (*pricing.Catalog, error) {
	var payload *pricing.Catalog
	err := resilience.WithTimeout(ctx, c.taskDeadline(), func(taskCtx context.Context) error {
		taskCtx, cancel := context.WithCancel(taskCtx)
		defer cancel()

		stopRenewal := c.keepLease(taskCtx, lease, cancel)
		defer stopRenewal()

		fetched, fetchErr := c.fetcher.Fetch(taskCtx)
		if fetchErr != nil {
			return fetchErr
		}
		payload = fetched
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrTimeout) {
			return nil, fmt.Errorf("task abandoned at deadline %s: %w", c.taskDeadline(), err)
		}
		return nil, err
	}
	return payload, nil
}

func (c *Coordinator) runUnlockedTask(ctx context.Context) (*pricing.Catalog, error) {
	var payload *pricing.Catalog
	err := resilience.WithTimeout(ctx, c.taskDeadline(), func(taskCtx context.Context) error {
		fetched, fetchErr := c.fetcher.Fetch(taskCtx)
		if fetchErr != nil {
			return fetchErr
		}
		payload = fetched
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrTimeout) {
			return nil, fmt.Errorf("task abandoned at deadline %s: %w", c.taskDeadline(), err)
		}
		return nil, err
	}
	return payload, nil
}

// keepLease renews the lease at TTL/3 intervals while the task runs.
// ErrLockLost cancels the task; transient store errors only log, since the
// task deadline already sits below the original TTL.
func (c *Coordinator) keepLease(ctx context.Context, lease *coordination.Lease, abort context.CancelFunc) func() {
	renewalCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.config.LockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-renewalCtx.Done():
				return
			case <-ticker.C:
				err := c.store.Renew(renewalCtx, lease, c.config.LockTTL)
				switch {
				case err == nil:
					recordLockRenew("ok")
				case errors.Is(err, coordination.ErrLockLost):
					recordLockRenew("lost")
					c.log.Error("lock ownership lost during task, aborting refresh")
					abort()
					return
				default:
					recordLockRenew("error")
					c.log.Warn("lock renew failed, relying on original TTL", "error", err)
				}
			}
		}
	}()

	return func() {
		stop()
		<-done
	}
}

// publish writes the payload into the shared cache. A durable snapshot write
// failure does not fail the cycle: readers already see the in-memory update
// and persistence is retried on the next publish.
func (c *Coordinator) publish(payload *pricing.Catalog) {
	if err := c.cache.Put(payload, c.config.Source); err != nil {
		if errors.Is(err, cache.ErrSnapshotWrite) {
			c.log.Warn("durable snapshot write failed, in-memory cache updated", "error", err)
			return
		}
		c.log.Error("cache publish failed", "error", err)
	}
}

// adoptPublished pulls the record the last winner published into the shared
// store and installs it locally when it is fresher than the staleness
// threshold. This is how losing instances converge on the winner's catalog
// without refetching the remote source. Any store or decode problem resolves
// to false and the cycle proceeds to the lock path.
func (c *Coordinator) adoptPublished(ctx context.Context) bool {
	raw, found, err := c.store.FetchRecord(ctx, c.recordKey())
	if err != nil {
		c.log.Debug("published record unavailable", "error", err)
		return false
	}
	c.setDegraded(false)
	if !found {
		return false
	}

	snapshot, err := cache.DecodeSnapshot(raw)
	if err != nil {
		c.log.Warn("published record corrupt, ignoring", "error", err)
		return false
	}
	if time.Now().UTC().Sub(snapshot.ComputedAt) >= c.config.RefreshInterval {
		return false
	}

	if err := c.cache.Adopt(snapshot); err != nil {
		if errors.Is(err, cache.ErrSnapshotWrite) {
			c.log.Warn("durable snapshot write failed, in-memory cache updated", "error", err)
			return true
		}
		c.log.Warn("published record rejected", "error", err)
		return false
	}
	c.log.Info("adopted catalog published by another instance", "source", snapshot.Source, "computed_at", snapshot.ComputedAt)
	return true
}

// publishRecord mirrors the freshly cached snapshot into the shared store so
// the rest of the fleet can adopt it before their own staleness threshold
// forces a redundant fetch. Publication failures only log; local readers
// already see the new catalog.
func (c *Coordinator) publishRecord() {
	snapshot, ok := c.cache.Get()
	if !ok {
		return
	}
	raw, err := cache.EncodeSnapshot(snapshot)
	if err != nil {
		c.log.Warn("encode published record failed", "error", err)
		return
	}

	publishCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.store.PublishRecord(publishCtx, c.recordKey(), raw); err != nil {
		c.log.Warn("publish record failed, fleet converges by refetching", "error", err)
	}
}

func (c *Coordinator) recordKey() string {
	return c.config.LockKey + ":published"
}

// releaseLease always runs on a detached context: at shutdown the parent may
// already be cancelled, and leaving the key to expire by TTL would block the
// whole fleet's next refresh.
func (c *Coordinator) releaseLease(lease *coordination.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.store.Release(releaseCtx, lease); err != nil {
		c.log.Warn("lock release failed, TTL will expire it", "error", err)
	}
}

func (c *Coordinator) taskDeadline() time.Duration {
	return c.config.LockTTL * taskDeadlineNumerator / taskDeadlineDenominator
}

func (c *Coordinator) record(attempt Attempt) Attempt {
	c.mu.Lock()
	c.lastAttempt = &attempt
	c.mu.Unlock()
	return attempt
}

func (c *Coordinator) setDegraded(degraded bool) {
	c.degraded.Store(degraded)
	setDegradedGauge(degraded)
}

func (c *Coordinator) retryDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextRetryAt
}

// deferRetry paces retries after a task failure so a degraded remote source
// is not hammered on every check tick. The freshness check alone would retry
// at CheckInterval; the exponential delay caps well below RefreshInterval so
// data never goes stale-forever because of pacing.
func (c *Coordinator) deferRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextRetryAt = time.Now().UTC().Add(c.retry.NextBackOff())
}

func (c *Coordinator) resetRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retry.Reset()
	c.nextRetryAt = time.Time{}
}
