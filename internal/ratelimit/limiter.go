// Package ratelimit implements a sliding-window request limiter keyed by
// caller-chosen strings such as "leads:203.0.113.7".
//
// Each key keeps the timestamps of the requests it admitted. On every check the
// timestamps older than the window are dropped and the request is admitted only
// if fewer than the allowed number remain. A background sweeper removes keys
// that have been idle longer than the retention ceiling.
//
// The default MemoryStore keeps state inside the process, so every replica
// enforces its own independent limit. RedisStore shares one window per key
// across replicas without changing the algorithm.
package ratelimit

import (
	"context"
	"log"
	"time"
)

const (
	DefaultSweepInterval = time.Minute
	DefaultRetention     = 24 * time.Hour
)

// Clock returns the current instant. time.Now carries a monotonic reading,
// which keeps window arithmetic safe from wall-clock jumps.
type Clock func() time.Time

// Result is the outcome of a single check. RetryAfterSeconds is only set when
// the request was denied and is never lower than 1.
type Result struct {
	Allowed           bool
	RetryAfterSeconds int
}

// Recorder receives limiter housekeeping events.
type Recorder interface {
	RecordSweep(evicted, tracked int, duration time.Duration)
	RecordStoreError(operation string)
}

type Config struct {
	Store         WindowStore
	Clock         Clock
	Recorder      Recorder
	SweepInterval time.Duration
	Retention     time.Duration
}

type Limiter struct {
	store         WindowStore
	clock         Clock
	recorder      Recorder
	sweepInterval time.Duration
	retention     time.Duration
}

func New(config Config) *Limiter {
	if config.Store == nil {
		config.Store = NewMemoryStore()
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Recorder == nil {
		config.Recorder = noopRecorder{}
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}

	return &Limiter{
		store:         config.Store,
		clock:         config.Clock,
		recorder:      config.Recorder,
		sweepInterval: config.SweepInterval,
		retention:     config.Retention,
	}
}

// CheckAndRecord decides whether one more request for key fits in the trailing
// window and records it when it does. It never fails: a store error is logged
// and the request is admitted.
func (limiter *Limiter) CheckAndRecord(ctx context.Context, key string, maxRequests int, window time.Duration) Result {
	if maxRequests < 1 || window <= 0 {
		return Result{Allowed: true}
	}

	now := limiter.clock()
	cutoff := now.Add(-window)

	if admitter, ok := limiter.store.(WindowAdmitter); ok {
		admitted, oldest, err := admitter.Admit(ctx, key, now, window, maxRequests)
		if err != nil {
			limiter.recorder.RecordStoreError("update")
			log.Printf("ratelimit check failed key=%s err=%v", key, err)
			return Result{Allowed: true}
		}
		if admitted {
			return Result{Allowed: true}
		}
		return Result{Allowed: false, RetryAfterSeconds: retryAfterSeconds(oldest, window, now)}
	}

	var result Result
	err := limiter.store.Update(ctx, key, func(timestamps []time.Time) []time.Time {
		pruned := timestamps[:0]
		for _, timestamp := range timestamps {
			if !timestamp.Before(cutoff) {
				pruned = append(pruned, timestamp)
			}
		}

		if len(pruned) >= maxRequests {
			result = Result{Allowed: false, RetryAfterSeconds: retryAfterSeconds(pruned[0], window, now)}
			return pruned
		}

		result = Result{Allowed: true}
		return append(pruned, now)
	})
	if err != nil {
		limiter.recorder.RecordStoreError("update")
		log.Printf("ratelimit check failed key=%s err=%v", key, err)
		return Result{Allowed: true}
	}

	return result
}

// Reset forgets everything recorded for key.
func (limiter *Limiter) Reset(ctx context.Context, key string) {
	if err := limiter.store.Delete(ctx, key); err != nil {
		limiter.recorder.RecordStoreError("delete")
		log.Printf("ratelimit reset failed key=%s err=%v", key, err)
	}
}

// Size reports how many keys are currently tracked.
func (limiter *Limiter) Size(ctx context.Context) int {
	size, err := limiter.store.Len(ctx)
	if err != nil {
		limiter.recorder.RecordStoreError("len")
		log.Printf("ratelimit size failed err=%v", err)
		return 0
	}
	return size
}

// Sweep deletes keys with no timestamps or whose newest timestamp is older
// than the retention ceiling, and returns how many were removed.
func (limiter *Limiter) Sweep(ctx context.Context) int {
	started := limiter.clock()
	cutoff := started.Add(-limiter.retention)

	evicted, err := limiter.store.Sweep(ctx, func(timestamps []time.Time) bool {
		return len(timestamps) == 0 || timestamps[len(timestamps)-1].Before(cutoff)
	})
	if err != nil {
		limiter.recorder.RecordStoreError("sweep")
		log.Printf("ratelimit sweep failed evicted=%d err=%v", evicted, err)
	}

	limiter.recorder.RecordSweep(evicted, limiter.Size(ctx), limiter.clock().Sub(started))
	return evicted
}

// StartSweeper runs Sweep every sweep interval until ctx is cancelled.
func (limiter *Limiter) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(limiter.sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep(ctx)
			}
		}
	}()
}

func retryAfterSeconds(oldest time.Time, window time.Duration, now time.Time) int {
	wait := oldest.Add(window).Sub(now)
	if wait <= 0 {
		return 1
	}
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

type noopRecorder struct{}

func (noopRecorder) RecordSweep(int, int, time.Duration) {}
func (noopRecorder) RecordStoreError(string)            {}
