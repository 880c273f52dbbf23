// Package runner implements the run controller of spec.md §4.7 (component
// C8): it turns a run profile's Mode into a concrete admission policy and
// drives the event loop through one run's lifecycle. Per the spec's design
// note that "policies are small and closed, a polymorphic hierarchy is
// overkill," Mode is a closed tagged union resolved with a type switch, not
// an interface hierarchy of policy types.
package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/athrvk/vayu-sub005/internal/aggregator"
	"github.com/athrvk/vayu-sub005/internal/eventloop"
	"github.com/athrvk/vayu-sub005/internal/ratelimit"
	"github.com/athrvk/vayu-sub005/internal/runprofile"
	"github.com/athrvk/vayu-sub005/internal/spec"
)

// Status is the run's lifecycle state: pending → running → stopping →
// complete or failed. A run ended by Stop also finishes as complete; there
// is no separate stopped state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// gracePeriod bounds how long a graceful stop waits for in-flight transfers
// before the run controller escalates to a forced cancellation, per the
// spec's "bounded grace window" requirement.
const gracePeriod = 10 * time.Second

// admissionTick is how often the controller's own scheduling loop wakes to
// evaluate rate/ramp targets and end-of-run conditions.
const admissionTick = 100 * time.Millisecond

// Runner drives one run from admission through completion.
type Runner struct {
	id      string
	request *spec.Request
	profile runprofile.Profile
	loop    *eventloop.Loop
	agg     *aggregator.Aggregator
	log     *zap.Logger

	status int32 // atomic, holds a Status as its index in statusNames

	startedAt  time.Time
	submitted  int64
	stopCh     chan struct{}
	doneCh     chan struct{}
}

var statusNames = []Status{StatusPending, StatusRunning, StatusStopping, StatusComplete, StatusFailed}

func statusIndex(s Status) int32 {
	for i, n := range statusNames {
		if n == s {
			return int32(i)
		}
	}
	return -1
}

// New builds a runner for one request spec and run profile. The caller
// owns the event loop's lifetime; New does not start it.
func New(id string, r *spec.Request, profile runprofile.Profile, loop *eventloop.Loop, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	profile = profile.WithDefaults()
	return &Runner{
		id:      id,
		request: r,
		profile: profile,
		loop:    loop,
		agg:     aggregator.New(profile),
		log:     log,
		status:  statusIndex(StatusPending),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Aggregator exposes the run's metrics sink, for the live-stream and report
// endpoints.
func (rn *Runner) Aggregator() *aggregator.Aggregator { return rn.agg }

// Status returns the run's current lifecycle state.
func (rn *Runner) Status() Status {
	return statusNames[atomic.LoadInt32(&rn.status)]
}

func (rn *Runner) setStatus(s Status) {
	atomic.StoreInt32(&rn.status, statusIndex(s))
}

// Done reports when the run has finished (complete or failed).
func (rn *Runner) Done() <-chan struct{} { return rn.doneCh }

// Start runs the admission loop according to the profile's Mode, and the
// aggregator's ingest loop, both on their own goroutines, returning
// immediately.
func (rn *Runner) Start() {
	rn.startedAt = time.Now()
	rn.setStatus(StatusRunning)

	rn.loop.Start(rn.perWorkerConcurrency())
	go rn.agg.Run()
	go rn.pumpOutcomes()
	go rn.drive()
}

// perWorkerConcurrency spreads the profile's target concurrency evenly
// across the loop's workers; a profile with no concurrency set (such as
// constant_rps) spreads a total of 64 the same way, since admission there
// is paced by the token bucket, not by a concurrency ceiling.
func (rn *Runner) perWorkerConcurrency() int {
	n := rn.loop.NumWorkers()
	if n <= 0 {
		n = 1
	}
	c := rn.profile.Concurrency
	if c <= 0 {
		c = 64
	}
	perWorker := (c + n - 1) / n
	if perWorker < 1 {
		perWorker = 1
	}
	return perWorker
}

// pumpOutcomes forwards every outcome the event loop publishes into this
// run's aggregator, until the loop's outcome channel closes.
func (rn *Runner) pumpOutcomes() {
	for o := range rn.loop.Outcomes() {
		rn.agg.Ingress() <- o
	}
	close(rn.agg.Ingress())
}

func (rn *Runner) drive() {
	defer close(rn.doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-rn.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var err error
	switch rn.profile.Mode {
	case runprofile.ModeConstantRPS:
		err = rn.runConstantRPS(ctx)
	case runprofile.ModeConstantConcurrency:
		err = rn.runConstantConcurrency(ctx)
	case runprofile.ModeIterations:
		err = rn.runIterations(ctx)
	case runprofile.ModeRampUp:
		err = rn.runRampUp(ctx)
	default:
		err = fmt.Errorf("unknown run mode: %q", rn.profile.Mode)
	}

	rn.finish(err)
}

func (rn *Runner) finish(err error) {
	rn.setStatus(StatusStopping)

	graceCtx, graceCancel := context.WithTimeout(context.Background(), gracePeriod)
	defer graceCancel()

	rn.loop.Stop(true)

	workersDone := make(chan struct{})
	go func() {
		rn.loop.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
	case <-graceCtx.Done():
		rn.log.Warn("grace window exceeded, forcing cancellation", zap.String("run_id", rn.id))
		rn.loop.ForceCancel()
		<-workersDone
	}

	if err != nil {
		rn.log.Error("run failed", zap.String("run_id", rn.id), zap.Error(err))
		rn.setStatus(StatusFailed)
		return
	}
	rn.setStatus(StatusComplete)
}

// Stop requests the run end. graceful=true lets in-flight transfers finish
// within the grace window before forcing; graceful=false cancels
// immediately.
func (rn *Runner) Stop(graceful bool) {
	select {
	case <-rn.stopCh:
	default:
		close(rn.stopCh)
	}
	if !graceful {
		rn.loop.ForceCancel()
	}
}

func (rn *Runner) submit() {
	rn.loop.Submit(rn.request)
	rn.agg.Admit()
	atomic.AddInt64(&rn.submitted, 1)
}

// runConstantRPS admits at exactly target_rps for the profile's duration,
// enforced by a process-wide token bucket sized target_rps with burst
// 2×target_rps (spec.md §4.7 constant_rps mode).
func (rn *Runner) runConstantRPS(ctx context.Context) error {
	limiter := ratelimit.NewGuarded(float64(rn.profile.TargetRPS), 0)
	deadline := time.Now().Add(time.Duration(rn.profile.DurationSeconds * float64(time.Second)))

	for {
		if time.Now().After(deadline) || ctx.Err() != nil {
			return nil
		}
		limiter.Acquire()
		if ctx.Err() != nil {
			return nil
		}
		rn.submit()
	}
}

// runConstantConcurrency keeps Concurrency requests in flight for the
// profile's duration: on every admission tick (100ms) it tops the pending
// count back up to Concurrency. A completed request is replaced at the next
// tick, not the moment it completes.
func (rn *Runner) runConstantConcurrency(ctx context.Context) error {
	deadline := time.Now().Add(time.Duration(rn.profile.DurationSeconds * float64(time.Second)))

	for i := 0; i < rn.profile.Concurrency; i++ {
		rn.submit()
	}

	ticker := time.NewTicker(admissionTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				return nil
			}
			inFlight := rn.loop.Pending()
			for inFlight < int64(rn.profile.Concurrency) {
				rn.submit()
				inFlight++
			}
		}
	}
}

// runIterations submits Iterations total requests, Concurrency at a time,
// ending once every iteration has completed (spec.md §3 iterations mode).
func (rn *Runner) runIterations(ctx context.Context) error {
	remaining := rn.profile.Iterations

	for i := 0; i < rn.profile.Concurrency && remaining > 0; i++ {
		rn.submit()
		remaining--
	}

	ticker := time.NewTicker(admissionTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			submitted := atomic.LoadInt64(&rn.submitted)
			if submitted >= int64(rn.profile.Iterations) && rn.loop.Pending() == 0 {
				return nil
			}
			inFlight := rn.loop.Pending()
			for inFlight < int64(rn.profile.Concurrency) && remaining > 0 {
				rn.submit()
				remaining--
				inFlight++
			}
		}
	}
}

// runRampUp linearly increases target concurrency from 0 to Concurrency
// over RampDurationSeconds, then holds for DurationSeconds (spec.md §3
// ramp_up mode).
func (rn *Runner) runRampUp(ctx context.Context) error {
	rampStart := time.Now()
	rampEnd := rampStart.Add(time.Duration(rn.profile.RampDurationSeconds * float64(time.Second)))
	holdEnd := rampEnd.Add(time.Duration(rn.profile.DurationSeconds * float64(time.Second)))

	ticker := time.NewTicker(admissionTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if now.After(holdEnd) {
				return nil
			}
			target := rn.profile.Concurrency
			if now.Before(rampEnd) {
				frac := float64(now.Sub(rampStart)) / float64(rampEnd.Sub(rampStart))
				target = int(frac * float64(rn.profile.Concurrency))
			}
			inFlight := rn.loop.Pending()
			for inFlight < int64(target) {
				rn.submit()
				inFlight++
			}
		}
	}
}
