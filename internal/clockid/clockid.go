// Package clockid provides the pipeline's sole sources of monotonic time
// and opaque unique identifiers (C1). Every entity id in the control plane
// is minted here so that ids stay lexicographically sortable and tests can
// substitute a fixed or sequenced clock.
package clockid

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Clock abstracts time.Now so tests can inject fixed or sequenced time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Source mints opaque, monotonically-sortable ids and reads the clock.
// NewID draws from ulid.DefaultEntropy(), which is documented safe for
// concurrent use, so Source needs no locking of its own beyond what
// Clock requires.
type Source struct {
	clock Clock
}

// New builds a Source using the given Clock. A nil Clock defaults to
// SystemClock.
func New(clock Clock) *Source {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Source{clock: clock}
}

// Now returns the current time per the configured Clock.
func (s *Source) Now() time.Time {
	return s.clock.Now()
}

// NewID mints a new opaque, time-sortable identifier with the given
// prefix (e.g. "exec", "apr", "evt"). Prefix may be empty.
func (s *Source) NewID(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(s.clock.Now()), ulid.DefaultEntropy())
	if prefix == "" {
		return id.String()
	}
	return prefix + "_" + id.String()
}

// FixedClock is a test Clock that always returns the same instant.
type FixedClock struct {
	At time.Time
}

func (f FixedClock) Now() time.Time { return f.At }

// SequencedClock is a test Clock that advances by Step on every call,
// starting at the instant given to NewSequencedClock. Useful for asserting strict audit ordering in tests.
type SequencedClock struct {
	mu    sync.Mutex
	next  time.Time
	Step  time.Duration
}

// NewSequencedClock builds a SequencedClock starting at start and
// advancing by step on each Now() call.
func NewSequencedClock(start time.Time, step time.Duration) *SequencedClock {
	return &SequencedClock{next: start, Step: step}
}

func (c *SequencedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.Step)
	return t
}
