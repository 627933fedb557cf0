// Package editqueue buffers pending edit operations between change
// detection and persistence. The queue is bounded, coalescing, and
// guarded against re-entrant drains.
package editqueue

import (
	"sort"
	"sync"
	"time"

	"github.com/avorein/quire/internal/clock"
	"github.com/avorein/quire/internal/models"
)

// Defaults applied when the corresponding option is zero.
const (
	DefaultMaxLength = 64
	DefaultRetention = 30 * time.Second
)

// Queue is an ordered, bounded buffer of pending edit operations.
//
// Enqueue attempts during a drain are absorbed (an expected race, not a
// failure): the in-flight drain already operates on the latest document
// snapshot, so the rejected operation's content is not lost.
type Queue struct {
	clk       clock.Clock
	max       int
	retention time.Duration

	// onOverflow is invoked synchronously when the queue exceeds max.
	// The owner is expected to drain immediately.
	onOverflow func()

	mu       sync.Mutex
	ops      []models.EditOperation
	draining bool
	absorbed int
	dropped  int
}

// New creates a queue. maxLen and retention fall back to defaults when
// zero; onOverflow may be nil.
func New(clk clock.Clock, maxLen int, retention time.Duration, onOverflow func()) *Queue {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Queue{clk: clk, max: maxLen, retention: retention, onOverflow: onOverflow}
}

// Enqueue appends op to the queue. It reports false when the operation
// was absorbed because a drain is in progress. Exceeding the maximum
// length triggers the overflow callback synchronously.
func (q *Queue) Enqueue(op models.EditOperation) bool {
	q.mu.Lock()
	if q.draining {
		q.absorbed++
		q.mu.Unlock()
		return false
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = q.clk.Now()
	}
	q.ops = append(q.ops, op)
	overflow := len(q.ops) > q.max
	q.mu.Unlock()

	if overflow && q.onOverflow != nil {
		q.onOverflow()
	}
	return true
}

// Drain prunes stale operations, hands the survivors (in timestamp
// order) to apply, and clears them when apply succeeds. On error the
// operations stay queued, unapplied, for the next cycle. A drain that
// finds another drain in flight is a no-op.
func (q *Queue) Drain(apply func(ops []models.EditOperation) error) (int, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return 0, nil
	}
	q.draining = true

	cutoff := q.clk.Now().Add(-q.retention)
	var pending []models.EditOperation
	for _, op := range q.ops {
		if op.Applied {
			continue
		}
		if op.Timestamp.Before(cutoff) {
			q.dropped++
			continue
		}
		pending = append(pending, op)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})
	q.mu.Unlock()

	var err error
	if len(pending) > 0 && apply != nil {
		err = apply(pending)
	}

	q.mu.Lock()
	if err == nil {
		q.ops = q.ops[:0]
	} else {
		// Keep the surviving operations for the retry on the next
		// debounce cycle; stale ones stay dropped.
		q.ops = append(q.ops[:0], pending...)
	}
	q.draining = false
	q.mu.Unlock()

	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Len returns the number of buffered operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Absorbed returns how many enqueue attempts were ignored because a
// drain was in progress.
func (q *Queue) Absorbed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.absorbed
}

// Dropped returns how many stale operations were pruned.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
