package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (clock *fakeClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *fakeClock) Advance(d time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(d)
}

type countingRecorder struct {
	mu          sync.Mutex
	sweeps      int
	evicted     int
	tracked     int
	storeErrors map[string]int
}

func (recorder *countingRecorder) RecordSweep(evicted, tracked int, _ time.Duration) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	recorder.sweeps++
	recorder.evicted += evicted
	recorder.tracked = tracked
}

func (recorder *countingRecorder) RecordStoreError(operation string) {
	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	if recorder.storeErrors == nil {
		recorder.storeErrors = make(map[string]int)
	}
	recorder.storeErrors[operation]++
}

func newTestLimiter(t *testing.T, clock *fakeClock) *Limiter {
	t.Helper()
	return New(Config{Clock: clock.Now})
}

func TestLimiter_AdmitsExactlyMaxWithinWindow(t *testing.T) {
	cases := []struct {
		name  string
		calls int
		max   int
	}{
		{name: "fewer calls than max", calls: 3, max: 5},
		{name: "calls equal max", calls: 5, max: 5},
		{name: "calls exceed max", calls: 12, max: 5},
		{name: "single slot", calls: 4, max: 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := newFakeClock()
			limiter := newTestLimiter(t, clock)
			ctx := context.Background()

			admitted := 0
			for i := 0; i < tc.calls; i++ {
				result := limiter.CheckAndRecord(ctx, "k", tc.max, time.Minute)
				if result.Allowed {
					admitted++
					assert.Zero(t, result.RetryAfterSeconds)
				} else {
					assert.Equal(t, min(tc.calls, tc.max), admitted, "denial before the limit was reached")
					assert.GreaterOrEqual(t, result.RetryAfterSeconds, 1)
				}
				clock.Advance(10 * time.Millisecond)
			}

			require.Equal(t, min(tc.calls, tc.max), admitted)
		})
	}
}

func TestLimiter_LeadSubmissionScenario(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock)
	ctx := context.Background()
	policy := DefaultPolicies()[PolicyLeads]
	key := policy.Key("1.2.3.4")

	require.Equal(t, "leads:1.2.3.4", key)
	for i := 0; i < 5; i++ {
		result := limiter.CheckAndRecord(ctx, key, policy.MaxRequests, policy.Window)
		require.Truef(t, result.Allowed, "call %d should be allowed", i+1)
	}

	clock.Advance(time.Second)
	result := limiter.CheckAndRecord(ctx, key, policy.MaxRequests, policy.Window)
	require.False(t, result.Allowed)
	require.Equal(t, 3599, result.RetryAfterSeconds)
}

func TestLimiter_PostsReadScenario(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock)
	ctx := context.Background()
	policy := DefaultPolicies()[PolicyPosts]
	key := policy.Key("198.51.100.20")

	for i := 0; i < 60; i++ {
		require.Truef(t, limiter.CheckAndRecord(ctx, key, policy.MaxRequests, policy.Window).Allowed, "call %d", i+1)
		clock.Advance(50 * time.Millisecond)
	}

	result := limiter.CheckAndRecord(ctx, key, policy.MaxRequests, policy.Window)
	require.False(t, result.Allowed)
	require.GreaterOrEqual(t, result.RetryAfterSeconds, 1)
	require.LessOrEqual(t, result.RetryAfterSeconds, 60)
}

func TestLimiter_RetryAfterIsCeilingUntilOldestLeaves(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock)
	ctx := context.Background()

	require.True(t, limiter.CheckAndRecord(ctx, "k", 2, 10*time.Second).Allowed)
	clock.Advance(2500 * time.Millisecond)
	require.True(t, limiter.CheckAndRecord(ctx, "k", 2, 10*time.Second).Allowed)

	clock.Advance(700 * time.Millisecond)
	result := limiter.CheckAndRecord(ctx, "k", 2, 10*time.Second)
	require.False(t, result.Allowed)
	// Oldest leaves 6.8s from now.
	require.Equal(t, 7, result.RetryAfterSeconds)
}

func TestLimiter_TimestampOnBoundaryStillCounts(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock)
	ctx := context.Background()

	require.True(t, limiter.CheckAndRecord(ctx, "k", 1, time.Minute).Allowed)
	clock.Advance(time.Minute)

	result := limiter.CheckAndRecord(ctx, "k", 1, time.Minute)
	require.False(t, result.Allowed)
	require.Equal(t, 1, result.RetryAfterSeconds)

	clock.Advance(time.Nanosecond)
	require.True(t, limiter.CheckAndRecord(ctx, "k", 1, time.Minute).Allowed)
}

func TestLimiter_AdmitsAfterWindowExpires(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, limiter.CheckAndRecord(ctx, "k", 3, time.Hour).Allowed)
	}
	require.False(t, limiter.CheckAndRecord(ctx, "k", 3, time.Hour).Allowed)

	clock.Advance(time.Hour + time.Millisecond)
	require.True(t, limiter.CheckAndRecord(ctx, "k", 3, time.Hour).Allowed)
}

func TestLimiter_SlidingWindowHasNoBoundaryDoubleBurst(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock)
	ctx := context.Background()

	clock.Advance(50 * time.Second)
	for i := 0; i < 4; i++ {
		require.True(t, limiter.CheckAndRecord(ctx, "k", 4, time.Minute).Allowed)
	}

	// A fixed one-minute bucket would reset here and admit another four.
	clock.Advance(15 * time.Second)
	result := limiter.CheckAndRecord(ctx, "k", 4, time.Minute)
	require.False(t, result.Allowed)
	require.Equal(t, 45, result.RetryAfterSeconds)
}

func TestLimiter_ResetClearsKey(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock)
	ctx := context.Background()

	require.True(t, limiter.CheckAndRecord(ctx, "k", 1, time.Hour).Allowed)
	require.False(t, limiter.CheckAndRecord(ctx, "k", 1, time.Hour).Allowed)

	limiter.Reset(ctx, "k")
	require.Zero(t, limiter.Size(ctx))
	require.True(t, limiter.CheckAndRecord(ctx, "k", 1, time.Hour).Allowed)

	limiter.Reset(ctx, "never-seen")
	require.Equal(t, 1, limiter.Size(ctx))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.True(t, limiter.CheckAndRecord(ctx, "leads:a", 2, time.Hour).Allowed)
	}
	require.False(t, limiter.CheckAndRecord(ctx, "leads:a", 2, time.Hour).Allowed)

	require.True(t, limiter.CheckAndRecord(ctx, "leads:b", 2, time.Hour).Allowed)
	require.True(t, limiter.CheckAndRecord(ctx, "posts:a", 2, time.Hour).Allowed)
	require.Equal(t, 3, limiter.Size(ctx))
}

func TestLimiter_ConcurrentCallersAdmitExactlyMax(t *testing.T) {
	clock := newFakeClock()
	limiter := newTestLimiter(t, clock)
	ctx := context.Background()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.CheckAndRecord(ctx, "shared", 50, time.Minute).Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 50, admitted.Load())
}

func TestLimiter_NonPositiveLimitsAdmitWithoutTracking(t *testing.T) {
	limiter := newTestLimiter(t, newFakeClock())
	ctx := context.Background()

	require.True(t, limiter.CheckAndRecord(ctx, "k", 0, time.Minute).Allowed)
	require.True(t, limiter.CheckAndRecord(ctx, "k", 5, 0).Allowed)
	require.Zero(t, limiter.Size(ctx))
}

func TestLimiter_SeparateInstancesDoNotShareCounts(t *testing.T) {
	clock := newFakeClock()
	first := newTestLimiter(t, clock)
	second := newTestLimiter(t, clock)
	ctx := context.Background()

	require.True(t, first.CheckAndRecord(ctx, "leads:1.2.3.4", 1, time.Hour).Allowed)
	require.False(t, first.CheckAndRecord(ctx, "leads:1.2.3.4", 1, time.Hour).Allowed)

	// Each process enforces its own limit with the memory store.
	require.True(t, second.CheckAndRecord(ctx, "leads:1.2.3.4", 1, time.Hour).Allowed)
}

func TestLimiter_SweepEvictsIdleAndEmptyKeys(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore()
	recorder := &countingRecorder{}
	limiter := New(Config{Store: store, Clock: clock.Now, Recorder: recorder})
	ctx := context.Background()

	limiter.CheckAndRecord(ctx, "old", 5, time.Minute)
	clock.Advance(23 * time.Hour)
	limiter.CheckAndRecord(ctx, "recent", 5, time.Minute)
	require.NoError(t, store.Update(ctx, "empty", func([]time.Time) []time.Time { return nil }))
	require.Equal(t, 3, limiter.Size(ctx))

	clock.Advance(time.Hour + time.Second)
	evicted := limiter.Sweep(ctx)

	require.Equal(t, 2, evicted)
	require.Equal(t, 1, limiter.Size(ctx))
	require.Equal(t, 1, recorder.sweeps)
	require.Equal(t, 2, recorder.evicted)
	require.Equal(t, 1, recorder.tracked)

	// The surviving key still carries its history.
	require.True(t, limiter.CheckAndRecord(ctx, "recent", 5, 48*time.Hour).Allowed)
}

func TestLimiter_StartSweeperRunsUntilCancelled(t *testing.T) {
	clock := newFakeClock()
	recorder := &countingRecorder{}
	limiter := New(Config{
		Clock:         clock.Now,
		Recorder:      recorder,
		SweepInterval: 5 * time.Millisecond,
		Retention:     time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter.CheckAndRecord(ctx, "k", 1, time.Minute)
	clock.Advance(2 * time.Hour)

	limiter.StartSweeper(ctx)
	require.Eventually(t, func() bool {
		return limiter.Size(context.Background()) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
}

type failingStore struct{}

func (failingStore) Update(context.Context, string, func([]time.Time) []time.Time) error {
	return errors.New("store unavailable")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("store unavailable") }
func (failingStore) Len(context.Context) (int, error)     { return 0, errors.New("store unavailable") }
func (failingStore) Sweep(context.Context, func([]time.Time) bool) (int, error) {
	return 0, errors.New("store unavailable")
}

func TestLimiter_StoreErrorsFailOpen(t *testing.T) {
	recorder := &countingRecorder{}
	limiter := New(Config{Store: failingStore{}, Recorder: recorder})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, limiter.CheckAndRecord(ctx, "k", 1, time.Minute).Allowed)
	}
	limiter.Reset(ctx, "k")
	require.Zero(t, limiter.Size(ctx))
	require.Zero(t, limiter.Sweep(ctx))

	require.Equal(t, 3, recorder.storeErrors["update"])
	require.Equal(t, 1, recorder.storeErrors["delete"])
	require.Equal(t, 1, recorder.storeErrors["sweep"])
	require.Equal(t, 2, recorder.storeErrors["len"])
}
