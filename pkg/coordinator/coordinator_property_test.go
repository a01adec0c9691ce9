package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pricefeed/pricefeed/pkg/cache"
	"github.com/pricefeed/pricefeed/pkg/coordination"
	"github.com/pricefeed/pricefeed/pkg/observability/logger"
)

const (
	scriptWin = iota
	scriptContend
	scriptStoreError
)

// scriptedStore plays back a fixed sequence of acquire outcomes.
type scriptedStore struct {
	mu       sync.Mutex
	script   []int
	index    int
	acquires int
	releases int
	token    int
}

func newScriptedStore(script []int) *scriptedStore {
	copied := make([]int, len(script))
	copy(copied, script)
	return &scriptedStore{script: copied}
}

func (s *scriptedStore) Acquire(_ context.Context, key string, ttl time.Duration) (*coordination.Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires++

	outcome := scriptContend
	if s.index < len(s.script) {
		outcome = s.script[s.index]
	}
	s.index++

	switch outcome {
	case scriptWin:
		s.token++
		return &coordination.Lease{
			Key:      key,
			Token:    fmt.Sprintf("lease-%d", s.token),
			ExpireAt: time.Now().UTC().Add(ttl),
		}, true, nil
	case scriptStoreError:
		return nil, false, errors.Join(coordination.ErrStoreUnavailable, errors.New("scripted outage"))
	default:
		return nil, false, nil
	}
}

func (s *scriptedStore) Renew(context.Context, *coordination.Lease, time.Duration) error { return nil }

func (s *scriptedStore) Release(context.Context, *coordination.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	return nil
}

func (s *scriptedStore) PublishRecord(context.Context, string, []byte) error { return nil }

func (s *scriptedStore) FetchRecord(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (s *scriptedStore) HealthCheck(context.Context) error { return nil }
func (s *scriptedStore) Close() error                      { return nil }

func (s *scriptedStore) stats() (acquires int, releases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquires, s.releases
}

func TestCoordinator_Property_FetchesAndReleasesMatchAcquisitions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("every won lock is released and fetches happen only with a lock or during an outage", prop.ForAll(
		func(script []int) bool {
			store := newScriptedStore(script)
			fetcher := newFakeFetcher()

			resultCache, err := cache.NewResultCache("", logger.Nop())
			if err != nil {
				return false
			}
			coord, err := New(store, fetcher, resultCache, logger.Nop(), Config{Source: "property"})
			if err != nil {
				return false
			}

			for range script {
				coord.ForceRefresh(context.Background())
			}

			wins, outages := 0, 0
			for _, outcome := range script {
				switch outcome {
				case scriptWin:
					wins++
				case scriptStoreError:
					outages++
				}
			}

			acquires, releases := store.stats()
			return acquires == len(script) &&
				releases == wins &&
				fetcher.callCount() == wins+outages
		},
		gen.SliceOf(gen.IntRange(scriptWin, scriptStoreError)),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
