// Package transfer holds the per-request state a worker owns from
// acquisition to completion, and the outcome record it publishes at the end.
package transfer

import (
	"time"

	"github.com/athrvk/vayu-sub005/internal/spec"
)

// ErrorKind is the error taxonomy of spec.md §7.
type ErrorKind string

const (
	ErrorNone          ErrorKind = "none"
	ErrorTimeout       ErrorKind = "timeout"
	ErrorDNS           ErrorKind = "dns"
	ErrorConnect       ErrorKind = "connect"
	ErrorTLS           ErrorKind = "tls"
	ErrorInvalidURL    ErrorKind = "invalid_url"
	ErrorInvalidMethod ErrorKind = "invalid_method"
	ErrorCancelled     ErrorKind = "cancelled"
	ErrorInternal      ErrorKind = "internal"
)

// Timing is the detailed per-phase breakdown spec.md §3 requires.
type Timing struct {
	DNS       time.Duration `json:"dns_ms"`
	Connect   time.Duration `json:"connect_ms"`
	TLS       time.Duration `json:"tls_ms"`
	FirstByte time.Duration `json:"first_byte_ms"`
	Download  time.Duration `json:"download_ms"`
	Total     time.Duration `json:"total_ms"`
}

// Job is what the run controller hands to a worker's SPSC queue: a request
// spec reference plus the bookkeeping the worker needs to publish an
// outcome (request id, submission time, and optional callback/promise).
type Job struct {
	ID        uint64
	Request   *spec.Request
	Submitted time.Time

	// Callback is invoked with the completed outcome by the event loop's
	// outcome-forwarding goroutine for the worker that ran the job; kept as
	// a plain function to avoid allocating a promise on the hot path
	// (spec.md §9 "Callbacks vs. futures").
	Callback func(Outcome)
}

// State is the per-in-flight-request structure a worker exclusively owns
// between acquiring a handle and publishing the outcome. It is never read
// or written from any other goroutine.
type State struct {
	Job *Job

	StatusCode int
	Err        error
	ErrKind    ErrorKind

	BytesSent     int64
	BytesReceived int64

	Start time.Time
	End   time.Time
	Timing Timing

	CapturedRequestHeaders  []spec.HeaderPair
	CapturedResponseHeaders []spec.HeaderPair
	CapturedRequestBody     []byte
	CapturedResponseBody    []byte
}

// Outcome is the immutable record published to the aggregator and to the
// per-job callback. Exactly one outcome exists per admission.
type Outcome struct {
	RequestID     uint64     `json:"request_id"`
	StartedAt     time.Time  `json:"started_at"`
	StatusCode    int        `json:"status_code"`
	LatencyMs     float64    `json:"latency_ms"`
	ErrorKind     ErrorKind  `json:"error_kind"`
	Timing        Timing     `json:"timing"`
	BytesSent     int64      `json:"bytes_sent"`
	BytesReceived int64      `json:"bytes_received"`

	CapturedRequestHeaders  []spec.HeaderPair `json:"request_headers,omitempty"`
	CapturedResponseHeaders []spec.HeaderPair `json:"response_headers,omitempty"`
	CapturedRequestBody     []byte            `json:"request_body,omitempty"`
	CapturedResponseBody    []byte            `json:"response_body,omitempty"`
}

// ToOutcome freezes a worker-owned State into the record that crosses the
// ownership boundary into the aggregator.
func (s *State) ToOutcome() Outcome {
	return Outcome{
		RequestID:               s.Job.ID,
		StartedAt:                s.Start,
		StatusCode:               s.StatusCode,
		LatencyMs:                float64(s.End.Sub(s.Start)) / float64(time.Millisecond),
		ErrorKind:                s.ErrKind,
		Timing:                   s.Timing,
		BytesSent:                s.BytesSent,
		BytesReceived:            s.BytesReceived,
		CapturedRequestHeaders:   s.CapturedRequestHeaders,
		CapturedResponseHeaders:  s.CapturedResponseHeaders,
		CapturedRequestBody:      s.CapturedRequestBody,
		CapturedResponseBody:     s.CapturedResponseBody,
	}
}
