// Package worker implements the per-worker execution loop of spec.md §4.5
// (component C6): drains its SPSC queue, drives HTTP transfers to
// completion, and publishes outcomes. Timing instrumentation follows the
// teacher's own net/http/httptrace.ClientTrace pattern
// (bpowers/hithere/script/requests.go:instrument), extended with a TLS
// handshake trace for the tls timing bucket spec.md §3 requires.
//
// "Owns one I/O multiplexer" (spec.md §4.5/§5) is realized as one
// *http.Transport per worker, driven exclusively by that worker's
// goroutine: the transport's own connection pool and Go's netpoller are
// the multiplexer; concurrent transfers ride on bounded internal
// goroutines the worker itself caps at its configured concurrency, the
// same way the teacher's runRPSWorker bounds concurrent workers.
package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/athrvk/vayu-sub005/internal/dnscache"
	"github.com/athrvk/vayu-sub005/internal/handlepool"
	"github.com/athrvk/vayu-sub005/internal/queue"
	"github.com/athrvk/vayu-sub005/internal/ratelimit"
	"github.com/athrvk/vayu-sub005/internal/spec"
	"github.com/athrvk/vayu-sub005/internal/transfer"
)

const (
	pollInterval = 20 * time.Millisecond
	drainBatch   = 64
	maxIdleConn  = 500

	// maxCaptureBytes bounds how much of a request/response body the
	// transfer state accumulates for possible retention; the aggregator's
	// sampling policy (spec.md §4.9) decides which outcomes survive into
	// a result set, not this cap — this cap only bounds per-transfer
	// memory while the request is in flight.
	maxCaptureBytes = 8192
)

// Options configures a Worker's transport.
type Options struct {
	Timeout            time.Duration
	UserAgent          string
	DisableCompression bool
	DisableKeepAlives  bool
	H2                 bool
	DNSCache           *dnscache.Cache
	Limiter            *ratelimit.Unguarded // optional; nil disables per-worker gating
	Logger             *zap.Logger
}

// Worker owns one HTTP transport/client pair, one handle pool, one SPSC
// consumer end, and its own active-transfer bookkeeping — all exclusively,
// with no locking between workers.
type Worker struct {
	id      int
	queue   *queue.SPSC
	pool    *handlepool.Pool
	client  *http.Client
	opts    Options
	log     *zap.Logger

	pending []*transfer.Job // locally held jobs that failed admission (re-queued "at the head")

	active  int // mutated only by the Run goroutine
	done    chan transfer.State
	results chan transfer.State

	runCtx    context.Context
	runCancel context.CancelFunc

	stopAdmission chan struct{}
	forceCancel   chan struct{}
	doneCh        chan struct{}
}

// New builds a worker with its own transport. concurrency sizes the
// buffers of the worker's completion and outcome channels; the bound on
// in-flight transfers is the value later passed to Run.
func New(id int, q *queue.SPSC, concurrency int, opts Options) *Worker {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: false,
		},
		MaxIdleConnsPerHost: maxIdleConn,
		DisableCompression:  opts.DisableCompression,
		DisableKeepAlives:   opts.DisableKeepAlives,
	}
	if opts.DNSCache != nil {
		dialer := &net.Dialer{}
		cache := opts.DNSCache
		tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err == nil {
				if override, ok := cache.Override(host); ok {
					addr = net.JoinHostPort(override, port)
				} else {
					_, _ = cache.Resolve(ctx, host)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		}
	}
	if opts.H2 {
		_ = http2.ConfigureTransport(tr)
	} else {
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:            id,
		queue:         q,
		pool:          handlepool.New(),
		client:        &http.Client{Transport: tr, Timeout: opts.Timeout},
		opts:          opts,
		log:           log,
		done:          make(chan transfer.State, concurrency),
		results:       make(chan transfer.State, concurrency),
		runCtx:        ctx,
		runCancel:     cancel,
		stopAdmission: make(chan struct{}),
		forceCancel:   make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Outcomes is the channel the worker publishes completed transfer.State
// values on; the aggregator (or, in tests, a plain reader) consumes it.
func (w *Worker) Outcomes() <-chan transfer.State {
	return w.results
}

// HandlePoolStats exposes the handle pool's observability counters.
func (w *Worker) HandlePoolStats() handlepool.Stats {
	return w.pool.Stats()
}

// Run is the worker main loop (spec.md §4.5 steps 1-6). It blocks until
// Stop has been requested and all admitted transfers have finished or been
// cancelled, per the graceful/forced policy.
func (w *Worker) Run(concurrency int) {
	defer close(w.doneCh)
	var wg sync.WaitGroup

	for {
		stopping := false
		select {
		case <-w.stopAdmission:
			stopping = true
		default:
		}

		if !stopping {
			w.admit(concurrency, &wg)
		}

		w.reap(pollInterval)

		if stopping && w.active == 0 {
			break
		}
	}

	wg.Wait()

	// Every execute goroutine has returned and sent its state on w.done
	// (buffered to concurrency, so none of those sends could still be
	// blocked); drain whatever reap's last pass missed, then close
	// w.results so Outcomes' range loop terminates instead of blocking
	// forever on a worker that will never publish again.
	for {
		select {
		case st := <-w.done:
			w.active--
			w.results <- st
		default:
			close(w.results)
			return
		}
	}
}

// admit drains jobs (pending-first, then the SPSC queue) up to the
// concurrency budget, applying the per-worker rate limiter if configured,
// and launches one goroutine per admitted transfer (step 3 of spec.md
// §4.5). Handle acquisition, request configuration, and registration all
// happen inside that goroutine's call to execute.
func (w *Worker) admit(concurrency int, wg *sync.WaitGroup) {
	drained := 0
	for w.active < concurrency && drained < drainBatch {
		var job *transfer.Job
		if len(w.pending) > 0 {
			job = w.pending[0]
			w.pending = w.pending[1:]
		} else {
			j, ok := w.queue.TryDequeue()
			if !ok {
				break
			}
			job = j
		}
		drained++

		if w.opts.Limiter != nil && !w.opts.Limiter.TryAcquireUnlocked() {
			// Re-queue at the head: held ahead of anything still in the
			// SPSC queue for this worker's next admission pass.
			w.pending = append([]*transfer.Job{job}, w.pending...)
			break
		}

		w.active++
		wg.Add(1)
		go func(j *transfer.Job) {
			defer wg.Done()
			h := w.pool.Acquire()
			st := w.execute(j, h)
			w.pool.Release(h)
			w.done <- st
		}(job)
	}

	if drained == 0 {
		w.queue.WaitForItem(pollInterval)
	}
}

// reap polls for completed transfers (step 4-5 of spec.md §4.5): extract
// the finished state, publish it, release back to the caller, and
// decrement the active count. active is only ever mutated here and in
// admit, both on the Run goroutine, so no synchronization is needed.
func (w *Worker) reap(timeout time.Duration) {
	if w.active > 0 {
		select {
		case st := <-w.done:
			w.active--
			w.results <- st
		case <-time.After(timeout):
		}
	}
	// Drain any further already-completed transfers without blocking.
	for {
		select {
		case st := <-w.done:
			w.active--
			w.results <- st
		default:
			return
		}
	}
}

// Stop requests the worker stop admitting new jobs. If wait is false, it
// also cancels every in-flight transfer immediately (forced stop); if
// wait is true, in-flight transfers are left to finish on their own
// (graceful stop) — ForceCancel escalates a graceful stop already in
// progress, matching spec.md's "second stop signal forces" rule.
func (w *Worker) Stop(wait bool) {
	closeOnce(w.stopAdmission)
	if !wait {
		w.ForceCancel()
	}
}

// ForceCancel cancels every in-flight transfer immediately. Idempotent.
func (w *Worker) ForceCancel() {
	closeOnce(w.forceCancel)
	w.runCancel()
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Done reports when Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.doneCh }

// execute configures a handle from the request spec and drives one
// transfer to completion, instrumented with httptrace exactly as the
// teacher's script/requests.go:instrument does.
func (w *Worker) execute(job *transfer.Job, h *handlepool.Handle) transfer.State {
	st := transfer.State{Job: job, Start: time.Now()}
	r := job.Request

	if err := r.Validate(); err != nil {
		st.ErrKind = transfer.ErrorInvalidURL
		if errors.Is(err, spec.ErrInvalidMethod) {
			st.ErrKind = transfer.ErrorInvalidMethod
		}
		st.Err = err
		st.End = time.Now()
		return st
	}

	ctx := w.runCtx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.Timeout*float64(time.Second)))
		defer cancel()
	}

	var body io.Reader
	if len(r.Body) > 0 {
		h.ReqBodyBuf.Write(r.Body)
		body = &h.ReqBodyBuf
		st.BytesSent = int64(len(r.Body))
	}

	req, err := http.NewRequestWithContext(ctx, string(r.Method), r.URL, body)
	if err != nil {
		st.ErrKind = transfer.ErrorInvalidURL
		st.Err = err
		st.End = time.Now()
		return st
	}
	applyHeaders(req, r)
	if w.opts.UserAgent != "" {
		req.Header.Set("User-Agent", w.opts.UserAgent)
	}
	h.Request = req

	st.CapturedRequestHeaders = r.Headers
	if len(r.Body) > 0 {
		st.CapturedRequestBody = truncate(r.Body, maxCaptureBytes)
	}

	var firstByteAt time.Time
	trace := w.buildTrace(&st, &firstByteAt)
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	resp, err := w.client.Do(req)
	if err != nil {
		st.End = time.Now()
		st.Timing.Total = st.End.Sub(st.Start)
		st.ErrKind = classifyError(ctx, err)
		st.Err = err
		w.log.Debug("transfer failed",
			zap.Uint64("request_id", job.ID),
			zap.String("error_kind", string(st.ErrKind)),
			zap.Error(err))
		return st
	}
	defer resp.Body.Close()

	n, _ := io.Copy(&h.RespBodyBuf, resp.Body)
	st.End = time.Now()
	st.Timing.Total = st.End.Sub(st.Start)
	if !firstByteAt.IsZero() {
		st.Timing.Download = st.End.Sub(firstByteAt)
	}
	st.BytesReceived = n
	st.StatusCode = resp.StatusCode
	st.ErrKind = transfer.ErrorNone
	st.CapturedResponseHeaders = headerPairs(resp.Header)
	if h.RespBodyBuf.Len() > 0 {
		st.CapturedResponseBody = truncate(h.RespBodyBuf.Bytes(), maxCaptureBytes)
	}
	return st
}

// truncate returns a bounded copy of b; the transfer state never retains
// more than maxCaptureBytes of any single body.
func truncate(b []byte, max int) []byte {
	if len(b) > max {
		b = b[:max]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func headerPairs(h http.Header) []spec.HeaderPair {
	if len(h) == 0 {
		return nil
	}
	pairs := make([]spec.HeaderPair, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			pairs = append(pairs, spec.HeaderPair{Name: name, Value: v})
		}
	}
	return pairs
}

func applyHeaders(req *http.Request, r *spec.Request) {
	for _, hp := range r.Headers {
		req.Header.Add(hp.Name, hp.Value)
	}
	switch a := r.Auth.(type) {
	case spec.BearerAuth:
		req.Header.Set("Authorization", "Bearer "+a.Token)
	case spec.BasicAuth:
		req.SetBasicAuth(a.User, a.Pass)
	case spec.APIKeyAuth:
		switch a.Location {
		case spec.AuthLocationHeader:
			req.Header.Set(a.Name, a.Value)
		case spec.AuthLocationQuery:
			q := req.URL.Query()
			q.Set(a.Name, a.Value)
			req.URL.RawQuery = q.Encode()
		}
	}
}

func (w *Worker) buildTrace(st *transfer.State, firstByteAt *time.Time) *httptrace.ClientTrace {
	var dnsStart, connStart, tlsStart, reqStart time.Time
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone: func(httptrace.DNSDoneInfo) {
			if !dnsStart.IsZero() {
				st.Timing.DNS = time.Since(dnsStart)
			}
		},
		ConnectStart: func(string, string) { connStart = time.Now() },
		ConnectDone: func(string, string, error) {
			if !connStart.IsZero() {
				st.Timing.Connect = time.Since(connStart)
			}
		},
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			if !tlsStart.IsZero() {
				st.Timing.TLS = time.Since(tlsStart)
			}
		},
		WroteRequest: func(httptrace.WroteRequestInfo) { reqStart = time.Now() },
		GotFirstResponseByte: func() {
			*firstByteAt = time.Now()
			if !reqStart.IsZero() {
				st.Timing.FirstByte = firstByteAt.Sub(reqStart)
			}
		},
	}
}

// classifyError maps a transport-level error onto the taxonomy of spec.md
// §7.
func classifyError(ctx context.Context, err error) transfer.ErrorKind {
	if ctx.Err() == context.DeadlineExceeded {
		return transfer.ErrorTimeout
	}
	if ctx.Err() == context.Canceled {
		return transfer.ErrorCancelled
	}
	var dnsErr *net.DNSError
	if asDNSError(err, &dnsErr) {
		return transfer.ErrorDNS
	}
	var opErr *net.OpError
	if asOpError(err, &opErr) {
		if opErr.Op == "tls" {
			return transfer.ErrorTLS
		}
		return transfer.ErrorConnect
	}
	return transfer.ErrorInternal
}

func asDNSError(err error, target **net.DNSError) bool {
	for err != nil {
		if de, ok := err.(*net.DNSError); ok {
			*target = de
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func asOpError(err error, target **net.OpError) bool {
	for err != nil {
		if oe, ok := err.(*net.OpError); ok {
			*target = oe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
