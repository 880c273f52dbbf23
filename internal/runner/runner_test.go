package runner

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/athrvk/vayu-sub005/internal/eventloop"
	"github.com/athrvk/vayu-sub005/internal/runprofile"
	"github.com/athrvk/vayu-sub005/internal/spec"
	"github.com/athrvk/vayu-sub005/internal/worker"
)

func newTestLoop(srv *httptest.Server) *eventloop.Loop {
	return eventloop.New(eventloop.Options{
		NumWorkers:  2,
		Concurrency: 4,
		WorkerOpts:  worker.Options{Timeout: 2 * time.Second},
	})
}

func TestRunnerIterationsCompletesAndReportsCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	loop := newTestLoop(srv)
	req := &spec.Request{Method: spec.MethodGet, URL: srv.URL}
	profile := runprofile.Profile{Mode: runprofile.ModeIterations, Iterations: 10, Concurrency: 2}

	rn := New("test-run", req, profile, loop, nil)
	rn.Start()

	select {
	case <-rn.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not complete within timeout")
	}

	if rn.Status() != StatusComplete {
		t.Fatalf("Status() = %q, want complete", rn.Status())
	}

	snap := rn.Aggregator().Snapshot()
	if snap.TotalCompleted != 10 {
		t.Fatalf("TotalCompleted = %d, want 10", snap.TotalCompleted)
	}
}

func TestRunnerStopForced(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	loop := newTestLoop(srv)
	req := &spec.Request{Method: spec.MethodGet, URL: srv.URL}
	profile := runprofile.Profile{Mode: runprofile.ModeConstantConcurrency, Concurrency: 2, DurationSeconds: 30}

	rn := New("stop-run", req, profile, loop, nil)
	rn.Start()

	time.Sleep(50 * time.Millisecond)
	rn.Stop(false)

	select {
	case <-rn.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not finish after forced stop within timeout")
	}
}

func TestStatusIndexRoundTrip(t *testing.T) {
	for _, s := range statusNames {
		if statusNames[statusIndex(s)] != s {
			t.Fatalf("status index round trip broken for %q", s)
		}
	}
}
