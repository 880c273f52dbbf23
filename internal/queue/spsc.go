// Package queue provides the bounded single-producer/single-consumer
// hand-off between the run controller's dispatcher and a worker (spec.md
// §4.1, component C1).
//
// The queue itself is code.hybscloud.com/lfq's lock-free SPSC ring;
// this package adds the backpressure policy spec.md requires (block with
// bounded spin then yield, never drop) and the single-store wakeup the
// worker uses to park instead of busy-polling an empty queue.
package queue

import (
	"runtime"
	"sync/atomic"
	"time"

	"code.hybscloud.com/lfq"

	"github.com/athrvk/vayu-sub005/internal/transfer"
)

// spinBudget is how many times Enqueue retries with runtime.Gosched
// before falling back to a short sleep. Keeps the fast path allocation-free
// and lock-free; only degrades to sleeping under sustained backpressure.
const spinBudget = 64

// SPSC is a bounded, wait-free-on-the-fast-path queue of *transfer.Job, one
// per worker. Capacity must be a power of two.
type SPSC struct {
	q *lfq.SPSC[transfer.Job]

	// hasItems lets the consumer sleep and be woken with a single store +
	// channel send, per spec.md §4.1, instead of spinning on an empty
	// queue between ticks.
	hasItems int32
	wake     chan struct{}
}

// New builds an SPSC queue with the given power-of-two capacity.
func New(capacity int) *SPSC {
	return &SPSC{
		q:    lfq.NewSPSC[transfer.Job](capacity),
		wake: make(chan struct{}, 1),
	}
}

// Enqueue hands a job to the queue. On a full queue it blocks with bounded
// spin then yields via sleep; it never drops a job, matching spec.md's
// "producers must block, not drop" backpressure policy.
func (s *SPSC) Enqueue(j *transfer.Job) {
	spins := 0
	for {
		if err := s.q.Enqueue(j); err == nil {
			atomic.StoreInt32(&s.hasItems, 1)
			select {
			case s.wake <- struct{}{}:
			default:
			}
			return
		}
		spins++
		if spins < spinBudget {
			runtime.Gosched()
			continue
		}
		time.Sleep(time.Millisecond)
	}
}

// TryDequeue is the worker's non-blocking drain call: it returns (job, true)
// if one was available, else (nil, false).
func (s *SPSC) TryDequeue() (*transfer.Job, bool) {
	j, err := s.q.Dequeue()
	if err != nil {
		return nil, false
	}
	return &j, true
}

// WaitForItem parks the owning worker until an item is likely available or
// the timeout elapses, without spinning.
func (s *SPSC) WaitForItem(timeout time.Duration) {
	if atomic.LoadInt32(&s.hasItems) != 0 {
		atomic.StoreInt32(&s.hasItems, 0)
		return
	}
	select {
	case <-s.wake:
	case <-time.After(timeout):
	}
}
