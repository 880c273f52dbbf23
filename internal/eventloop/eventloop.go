// Package eventloop implements the public surface of the execution layer
// (spec.md §4.6, component C7): a collection of workers plus the
// submission/dispatch policy in front of them.
package eventloop

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgryski/go-rendezvous"
	"go.uber.org/zap"

	"github.com/athrvk/vayu-sub005/internal/queue"
	"github.com/athrvk/vayu-sub005/internal/spec"
	"github.com/athrvk/vayu-sub005/internal/transfer"
	"github.com/athrvk/vayu-sub005/internal/worker"
)

const queueCapacity = 4096 // power of two, per SPSC's requirement

// Future is returned by Submit; it resolves once the worker publishes the
// outcome.
type Future struct {
	ch chan transfer.Outcome
}

// Wait blocks until the outcome is available.
func (f *Future) Wait() transfer.Outcome {
	return <-f.ch
}

// Options configures the loop and is forwarded to every worker.
type Options struct {
	NumWorkers  int
	Concurrency int // per-worker concurrency hint; sizes the worker and outcome channel buffers
	WorkerOpts  worker.Options
	Logger      *zap.Logger
}

// Loop is N workers plus the round-robin/affinity dispatcher in front of
// them. It is the only piece of the pipeline the run controller talks to.
type Loop struct {
	workers    []*worker.Worker
	queues     []*queue.SPSC
	hasher     *rendezvous.Rendezvous
	memberIdx  map[string]int

	nextID  uint64
	rrIndex uint64

	outcomes chan transfer.Outcome

	pending int64 // admitted, not yet published (atomic)

	log *zap.Logger
	wg  sync.WaitGroup
}

// New builds a Loop with numWorkers workers, each with channel buffers
// sized for the given concurrency; the in-flight bound per worker is set by
// Start. numWorkers<=0 defaults to the host's CPU count.
func New(opts Options) *Loop {
	n := opts.NumWorkers
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	members := make([]string, n)
	memberIdx := make(map[string]int, n)
	for i := range members {
		members[i] = fmt.Sprintf("worker-%d", i)
		memberIdx[members[i]] = i
	}

	l := &Loop{
		queues:    make([]*queue.SPSC, n),
		workers:   make([]*worker.Worker, n),
		hasher:    rendezvous.New(members, hashString),
		memberIdx: memberIdx,
		outcomes:  make(chan transfer.Outcome, opts.Concurrency*n+1),
		log:       log,
	}

	for i := 0; i < n; i++ {
		q := queue.New(queueCapacity)
		l.queues[i] = q
		l.workers[i] = worker.New(i, q, opts.Concurrency, opts.WorkerOpts)
	}

	return l
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// Start launches every worker's Run loop plus the outcome fan-in.
func (l *Loop) Start(concurrency int) {
	for _, w := range l.workers {
		l.wg.Add(1)
		go func(w *worker.Worker) {
			defer l.wg.Done()
			w.Run(concurrency)
		}(w)
	}
	for _, w := range l.workers {
		go l.pumpOutcomes(w)
	}
}

func (l *Loop) pumpOutcomes(w *worker.Worker) {
	for st := range w.Outcomes() {
		atomic.AddInt64(&l.pending, -1)
		outcome := st.ToOutcome()
		if st.Job != nil && st.Job.Callback != nil {
			st.Job.Callback(outcome)
		}
		l.outcomes <- outcome
	}
}

// Outcomes is the stream the aggregator consumes from.
func (l *Loop) Outcomes() <-chan transfer.Outcome {
	return l.outcomes
}

// Submit dispatches a request spec to a worker's SPSC queue, returning a
// future that resolves with the outcome. Dispatch is round-robin by
// submission order, except when the target host is known: rendezvous
// hashing then picks the worker so repeated calls to the same host land on
// the same worker, improving keep-alive reuse (spec.md §4.6).
func (l *Loop) Submit(r *spec.Request) *Future {
	idx := l.workerIndex(r)
	id := atomic.AddUint64(&l.nextID, 1)

	future := &Future{ch: make(chan transfer.Outcome, 1)}
	job := &transfer.Job{
		ID:        id,
		Request:   r,
		Submitted: time.Now(),
		Callback: func(o transfer.Outcome) {
			future.ch <- o
		},
	}

	atomic.AddInt64(&l.pending, 1)
	l.queues[idx].Enqueue(job)
	return future
}

func (l *Loop) workerIndex(r *spec.Request) int {
	if host := r.Host(); host != "" {
		if idx, ok := l.memberIdx[l.hasher.Lookup(host)]; ok {
			return idx
		}
	}
	idx := atomic.AddUint64(&l.rrIndex, 1)
	return int(idx) % len(l.workers)
}

// NumWorkers returns the number of workers in the loop.
func (l *Loop) NumWorkers() int {
	return len(l.workers)
}

// Pending returns the number of admissions not yet published as outcomes.
func (l *Loop) Pending() int64 {
	return atomic.LoadInt64(&l.pending)
}

// Stop stops every worker. waitForPending=true lets in-flight transfers
// finish; false cancels them immediately.
func (l *Loop) Stop(waitForPending bool) {
	for _, w := range l.workers {
		w.Stop(waitForPending)
	}
}

// ForceCancel escalates an in-progress graceful stop to an immediate
// cancellation of every in-flight transfer, across all workers.
func (l *Loop) ForceCancel() {
	for _, w := range l.workers {
		w.ForceCancel()
	}
}

// Wait blocks until every worker's Run loop has returned, then closes the
// outcome channel.
func (l *Loop) Wait() {
	l.wg.Wait()
	close(l.outcomes)
}
