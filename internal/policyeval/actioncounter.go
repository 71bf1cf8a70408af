package policyeval

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// bucketGranularity is the time resolution for counter buckets.
	bucketGranularity = time.Second

	// gcInterval controls how often expired buckets are pruned. Checked
	// lazily on each Record call rather than via a background goroutine.
	gcInterval = 30 * time.Second

	// maxWindowDuration caps the lookback GetCount will accept, so a
	// caller requesting a huge window cannot force unbounded retention.
	maxWindowDuration = 24 * time.Hour
)

type bucket struct {
	key   int64 // unix-second timestamp of the bucket start
	count int
}

// WindowTracker is a thread-safe sliding-window action counter, the
// concrete backer for an ActionCounter callback passed to Evaluate. Each
// key (typically an action type or resource kind) maintains its own
// time-bucketed counters; expired buckets are lazily garbage-collected.
type WindowTracker struct {
	mu      sync.Mutex
	buckets map[string][]bucket
	lastGC  time.Time
	logger  *slog.Logger
}

// NewWindowTracker creates an empty WindowTracker.
func NewWindowTracker(logger *slog.Logger) *WindowTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowTracker{
		buckets: make(map[string][]bucket),
		lastGC:  time.Now(),
		logger:  logger.With("component", "policyeval.WindowTracker"),
	}
}

// Record increments the counter for key at the current time bucket.
func (t *WindowTracker) Record(key string) {
	now := time.Now()
	bucketKey := now.Truncate(bucketGranularity).Unix()

	t.mu.Lock()
	defer t.mu.Unlock()

	bs := t.buckets[key]
	if len(bs) > 0 && bs[len(bs)-1].key == bucketKey {
		bs[len(bs)-1].count++
	} else {
		bs = append(bs, bucket{key: bucketKey, count: 1})
	}
	t.buckets[key] = bs

	if now.Sub(t.lastGC) > gcInterval {
		t.gcLocked(now)
		t.lastGC = now
	}
}

// Count returns the total recorded for key within window, a Go duration
// string such as "60s" or "5m". Invalid or non-positive windows yield 0;
// windows beyond maxWindowDuration are clamped.
func (t *WindowTracker) Count(key, window string) int {
	dur, err := time.ParseDuration(window)
	if err != nil || dur <= 0 {
		if err != nil {
			t.logger.Warn("invalid window duration, returning 0", "window", window, "error", err)
		}
		return 0
	}
	if dur > maxWindowDuration {
		dur = maxWindowDuration
	}

	cutoff := time.Now().Add(-dur).Truncate(bucketGranularity).Unix()

	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for _, b := range t.buckets[key] {
		if b.key >= cutoff {
			total += b.count
		}
	}
	return total
}

// AsActionCounter adapts Count to the ActionCounter signature expected by
// Evaluate, where the first argument is the action type named in the CEL
// expression's action_count_in_window(type, window) call.
func (t *WindowTracker) AsActionCounter() ActionCounter {
	return func(actionType, window string) int { return t.Count(actionType, window) }
}

// Reset removes all tracked counters for key.
func (t *WindowTracker) Reset(key string) {
	t.mu.Lock()
	delete(t.buckets, key)
	t.mu.Unlock()
}

func (t *WindowTracker) gcLocked(now time.Time) {
	cutoff := now.Add(-maxWindowDuration).Truncate(bucketGranularity).Unix()
	pruned := 0

	for key, bs := range t.buckets {
		firstValid := len(bs)
		for i, b := range bs {
			if b.key >= cutoff {
				firstValid = i
				break
			}
		}
		if firstValid > 0 {
			pruned += firstValid
			bs = bs[firstValid:]
		}
		if len(bs) == 0 {
			delete(t.buckets, key)
		} else {
			t.buckets[key] = bs
		}
	}

	if pruned > 0 {
		t.logger.Debug("window tracker GC complete", "pruned_buckets", pruned, "active_keys", len(t.buckets))
	}
}
