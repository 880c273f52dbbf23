// Package aggregator is the metrics aggregator of spec.md §4.9 (component
// C9): a single goroutine owns all counter mutation, fed by a buffered
// channel every worker publishes outcomes onto — the idiomatic Go
// realization of the spec's "lock-free MPSC channel or spinlock-guarded
// slot".
package aggregator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/athrvk/vayu-sub005/internal/histogram"
	"github.com/athrvk/vayu-sub005/internal/runprofile"
	"github.com/athrvk/vayu-sub005/internal/spec"
	"github.com/athrvk/vayu-sub005/internal/transfer"
)

const (
	maxErrorSamples   = 200 // M_err
	maxSuccessSamples = 200 // M_ok
	maxSlowSamples    = 200 // M_slow

	histogramMaxMs = 600_000
)

// Sample is one captured trace entry, subject to the spec's sampling caps.
type Sample struct {
	RequestID  uint64             `json:"request_id"`
	StartedAt  time.Time          `json:"started_at"`
	StatusCode int                `json:"status_code"`
	LatencyMs  float64            `json:"latency_ms"`
	ErrorKind  transfer.ErrorKind `json:"error_kind"`
	Timing     transfer.Timing    `json:"timing"`

	RequestHeaders  []spec.HeaderPair `json:"request_headers,omitempty"`
	ResponseHeaders []spec.HeaderPair `json:"response_headers,omitempty"`
	RequestBody     []byte            `json:"request_body,omitempty"`
	ResponseBody    []byte            `json:"response_body,omitempty"`
}

// Snapshot is a point-in-time, allocation-cheap copy of the aggregator's
// state, safe to hand to a live-stream subscriber or an HTTP handler
// without holding any lock.
type Snapshot struct {
	TotalCompleted int64 `json:"total_completed"`
	TotalErrored   int64 `json:"total_errored"`
	BytesSent      int64 `json:"bytes_sent"`
	BytesReceived  int64 `json:"bytes_received"`

	StatusCodeCounts map[int]int64                 `json:"status_code_counts"`
	ErrorKindCounts  map[transfer.ErrorKind]int64 `json:"error_kind_counts"`

	Latency histogram.Stats `json:"latency"`

	CurrentRPS    float64 `json:"current_rps"`
	SendRate      float64 `json:"send_rate"`
	ThroughputBps float64 `json:"throughput_bps"`
	Backpressure  float64 `json:"backpressure"`

	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Aggregator owns the single-goroutine counter state. All public methods
// except Run are safe to call concurrently; they read under a
// lock held only for the snapshot copy.
type Aggregator struct {
	ingress chan transfer.Outcome

	mu sync.Mutex

	totalCompleted int64
	totalErrored   int64
	bytesSent      int64
	bytesReceived  int64

	statusCodeCounts map[int]int64
	errorKindCounts  map[transfer.ErrorKind]int64

	latency *histogram.Histogram

	rpsCounter        *ratecounter.RateCounter // completed-count delta, 1s window
	admissionCounter  *ratecounter.RateCounter // admissions delta, 1s window (send_rate)
	completionCounter *ratecounter.RateCounter // all outcomes (success+error), 1s window, for backpressure
	throughputCounter *ratecounter.RateCounter

	errorSamples   []Sample
	successSamples []Sample
	slowSamples    []Sample
	slowThresholdMs float64
	successSampleRate float64 // 0-100

	rng *rand.Rand

	percentiles []float64

	startedAt time.Time
	doneCh    chan struct{}
}

// New builds an aggregator for one run, wired to the run profile's
// sampling and percentile configuration.
func New(profile runprofile.Profile) *Aggregator {
	return &Aggregator{
		ingress:           make(chan transfer.Outcome, 4096),
		statusCodeCounts:  make(map[int]int64),
		errorKindCounts:   make(map[transfer.ErrorKind]int64),
		latency:           histogram.New(histogramMaxMs),
		rpsCounter:        ratecounter.NewRateCounter(time.Second),
		admissionCounter:  ratecounter.NewRateCounter(time.Second),
		completionCounter: ratecounter.NewRateCounter(time.Second),
		throughputCounter: ratecounter.NewRateCounter(time.Second),
		slowThresholdMs:   profile.SlowThresholdMs,
		successSampleRate: profile.SuccessSampleRate,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
		percentiles:       profile.Percentiles,
		startedAt:         time.Now(),
		doneCh:            make(chan struct{}),
	}
}

// Ingress is the channel every worker's outcome consumer should forward
// onto.
func (a *Aggregator) Ingress() chan<- transfer.Outcome {
	return a.ingress
}

// Admit records one admission, for the send_rate and backpressure metrics.
// The run controller calls this at submission time, before the outcome is
// known.
func (a *Aggregator) Admit() {
	a.mu.Lock()
	a.admissionCounter.Incr(1)
	a.mu.Unlock()
}

// Run consumes the ingress channel until it is closed, then signals Done.
// It is meant to run on its own goroutine for the lifetime of a run.
func (a *Aggregator) Run() {
	defer close(a.doneCh)
	for o := range a.ingress {
		a.ingest(o)
	}
}

// Done reports when Run has drained the ingress channel and returned.
func (a *Aggregator) Done() <-chan struct{} { return a.doneCh }

func (a *Aggregator) ingest(o transfer.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bytesSent += o.BytesSent
	a.bytesReceived += o.BytesReceived
	a.completionCounter.Incr(1)
	a.throughputCounter.Incr(o.BytesSent + o.BytesReceived)

	if o.ErrorKind == transfer.ErrorNone {
		a.totalCompleted++
		a.rpsCounter.Incr(1)
		a.statusCodeCounts[o.StatusCode]++
		a.latency.Record(o.LatencyMs)
	} else {
		a.totalErrored++
		a.errorKindCounts[o.ErrorKind]++
	}

	sample := Sample{
		RequestID:       o.RequestID,
		StartedAt:       o.StartedAt,
		StatusCode:      o.StatusCode,
		LatencyMs:       o.LatencyMs,
		ErrorKind:       o.ErrorKind,
		Timing:          o.Timing,
		RequestHeaders:  o.CapturedRequestHeaders,
		ResponseHeaders: o.CapturedResponseHeaders,
		RequestBody:     o.CapturedRequestBody,
		ResponseBody:    o.CapturedResponseBody,
	}

	switch {
	case o.ErrorKind != transfer.ErrorNone:
		a.errorSamples = appendCapped(a.errorSamples, sample, maxErrorSamples)
	case a.slowThresholdMs > 0 && o.LatencyMs >= a.slowThresholdMs:
		a.slowSamples = appendCapped(a.slowSamples, sample, maxSlowSamples)
	default:
		if a.rng.Float64()*100 < a.successSampleRate {
			a.successSamples = appendCapped(a.successSamples, sample, maxSuccessSamples)
		}
	}
}

// appendCapped keeps the most recent n samples, dropping the oldest once
// the cap is reached — a simple ring behavior via slice rotation.
func appendCapped(samples []Sample, s Sample, cap int) []Sample {
	if len(samples) < cap {
		return append(samples, s)
	}
	copy(samples, samples[1:])
	samples[len(samples)-1] = s
	return samples
}

// Snapshot returns a copy of the current state, safe to read without
// holding any lock afterward.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	statusCodes := make(map[int]int64, len(a.statusCodeCounts))
	for k, v := range a.statusCodeCounts {
		statusCodes[k] = v
	}
	errorKinds := make(map[transfer.ErrorKind]int64, len(a.errorKindCounts))
	for k, v := range a.errorKindCounts {
		errorKinds[k] = v
	}

	admitted := float64(a.admissionCounter.Rate())
	completed := float64(a.completionCounter.Rate())
	backpressure := 0.0
	if admitted > 0 {
		backpressure = (admitted - completed) / admitted
		if backpressure < 0 {
			backpressure = 0
		}
		if backpressure > 1 {
			backpressure = 1
		}
	}

	return Snapshot{
		TotalCompleted:   a.totalCompleted,
		TotalErrored:     a.totalErrored,
		BytesSent:        a.bytesSent,
		BytesReceived:    a.bytesReceived,
		StatusCodeCounts: statusCodes,
		ErrorKindCounts:  errorKinds,
		Latency:          a.latency.Snapshot(a.percentiles),
		CurrentRPS:       float64(a.rpsCounter.Rate()),
		SendRate:         admitted,
		ThroughputBps:    float64(a.throughputCounter.Rate()),
		Backpressure:     backpressure,
		ElapsedSeconds:   time.Since(a.startedAt).Seconds(),
	}
}

// ErrorSamples returns a copy of the currently retained error trace
// samples, up to the M_err cap.
func (a *Aggregator) ErrorSamples() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Sample, len(a.errorSamples))
	copy(out, a.errorSamples)
	return out
}

// SuccessSamples returns a copy of the currently retained success trace
// samples, up to the M_ok cap.
func (a *Aggregator) SuccessSamples() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Sample, len(a.successSamples))
	copy(out, a.successSamples)
	return out
}

// SlowSamples returns a copy of the currently retained slow-request trace
// samples, up to the M_slow cap.
func (a *Aggregator) SlowSamples() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Sample, len(a.slowSamples))
	copy(out, a.slowSamples)
	return out
}
