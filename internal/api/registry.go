package api

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/athrvk/vayu-sub005/internal/dnscache"
	"github.com/athrvk/vayu-sub005/internal/eventloop"
	"github.com/athrvk/vayu-sub005/internal/livestream"
	"github.com/athrvk/vayu-sub005/internal/runner"
	"github.com/athrvk/vayu-sub005/internal/runprofile"
	"github.com/athrvk/vayu-sub005/internal/spec"
	"github.com/athrvk/vayu-sub005/internal/worker"
)

// RunnerOptions are the daemon-wide worker defaults every run's event loop
// is built with.
type RunnerOptions struct {
	NumWorkers     int
	UserAgent      string
	DefaultTimeout float64 // seconds
	DNSCache       *dnscache.Cache
}

// entry bundles one run's controller and its live-stream fan-out.
type entry struct {
	run    *runner.Runner
	stream *livestream.Stream
}

// Registry owns every run the daemon has started, keyed by run id.
type Registry struct {
	mu    sync.RWMutex
	runs  map[string]*entry
	opts  RunnerOptions
	log   *zap.Logger
	newID func() string
}

// NewRegistry builds an empty run registry.
func NewRegistry(opts RunnerOptions, log *zap.Logger, newID func() string) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		runs:  make(map[string]*entry),
		opts:  opts,
		log:   log,
		newID: newID,
	}
}

// StartRun builds a fresh event loop and run controller for the given
// request spec and profile, starts it, and returns its id.
func (reg *Registry) StartRun(r *spec.Request, profile runprofile.Profile) (string, error) {
	if err := profile.Validate(); err != nil {
		return "", fmt.Errorf("invalid run profile: %w", err)
	}
	if err := r.Validate(); err != nil {
		return "", fmt.Errorf("invalid request spec: %w", err)
	}

	id := reg.newID()

	workerOpts := worker.Options{
		Timeout:   time.Duration(reg.opts.DefaultTimeout * float64(time.Second)),
		UserAgent: reg.opts.UserAgent,
		DNSCache:  reg.opts.DNSCache,
		Logger:    reg.log,
	}

	loop := eventloop.New(eventloop.Options{
		NumWorkers:  reg.opts.NumWorkers,
		Concurrency: concurrencyHint(profile),
		WorkerOpts:  workerOpts,
		Logger:      reg.log,
	})

	rn := runner.New(id, r, profile, loop, reg.log)
	stream := livestream.New(rn.Aggregator(), rn.Done())

	reg.mu.Lock()
	reg.runs[id] = &entry{run: rn, stream: stream}
	reg.mu.Unlock()

	rn.Start()
	go stream.Run()

	return id, nil
}

func concurrencyHint(p runprofile.Profile) int {
	if p.Concurrency > 0 {
		return p.Concurrency
	}
	return 64
}

// Get returns the run and its stream, or ok=false if the id is unknown.
func (reg *Registry) Get(id string) (*runner.Runner, *livestream.Stream, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	e, ok := reg.runs[id]
	if !ok {
		return nil, nil, false
	}
	return e.run, e.stream, true
}
