package worker

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/athrvk/vayu-sub005/internal/queue"
	"github.com/athrvk/vayu-sub005/internal/spec"
	"github.com/athrvk/vayu-sub005/internal/transfer"
)

func TestWorkerExecutesSuccessfulRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	q := queue.New(8)
	w := New(0, q, 4, Options{Timeout: 2 * time.Second})

	go w.Run(4)
	defer func() {
		w.Stop(false)
		<-w.Done()
	}()

	q.Enqueue(&transfer.Job{
		ID:      1,
		Request: &spec.Request{Method: spec.MethodGet, URL: srv.URL, Headers: []spec.HeaderPair{{Name: "X-Req", Value: "1"}}},
	})

	select {
	case st := <-w.Outcomes():
		if st.StatusCode != http.StatusOK {
			t.Fatalf("StatusCode = %d, want 200", st.StatusCode)
		}
		if st.ErrKind != transfer.ErrorNone {
			t.Fatalf("ErrKind = %q, want none", st.ErrKind)
		}
		if st.BytesReceived != 5 {
			t.Fatalf("BytesReceived = %d, want 5", st.BytesReceived)
		}
		if len(st.CapturedResponseHeaders) == 0 {
			t.Fatalf("expected captured response headers")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outcome")
	}
}

func TestWorkerClassifiesInvalidURL(t *testing.T) {
	q := queue.New(8)
	w := New(0, q, 4, Options{Timeout: time.Second})

	go w.Run(4)
	defer func() {
		w.Stop(false)
		<-w.Done()
	}()

	q.Enqueue(&transfer.Job{
		ID:      1,
		Request: &spec.Request{Method: spec.MethodGet, URL: "not-a-url"},
	})

	select {
	case st := <-w.Outcomes():
		if st.ErrKind != transfer.ErrorInvalidURL {
			t.Fatalf("ErrKind = %q, want invalid_url", st.ErrKind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outcome")
	}
}

func TestWorkerHandlePoolReusesAcrossRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	q := queue.New(8)
	w := New(0, q, 1, Options{Timeout: time.Second})

	go w.Run(1)
	defer func() {
		w.Stop(false)
		<-w.Done()
	}()

	for i := uint64(1); i <= 3; i++ {
		q.Enqueue(&transfer.Job{ID: i, Request: &spec.Request{Method: spec.MethodGet, URL: srv.URL}})
		select {
		case <-w.Outcomes():
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for outcome %d", i)
		}
	}

	stats := w.HandlePoolStats()
	if stats.TotalReused == 0 {
		t.Fatalf("expected at least one handle reuse across 3 sequential requests, got %+v", stats)
	}
}
