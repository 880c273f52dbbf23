package queue

import (
	"testing"
	"time"

	"github.com/athrvk/vayu-sub005/internal/spec"
	"github.com/athrvk/vayu-sub005/internal/transfer"
)

func newJob(id uint64) *transfer.Job {
	return &transfer.Job{
		ID:      id,
		Request: &spec.Request{Method: spec.MethodGet, URL: "https://example.com"},
	}
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q := New(8)

	for i := uint64(1); i <= 4; i++ {
		q.Enqueue(newJob(i))
	}

	for i := uint64(1); i <= 4; i++ {
		j, ok := q.TryDequeue()
		if !ok {
			t.Fatalf("expected job %d, got none", i)
		}
		if j.ID != i {
			t.Fatalf("job order broken: got %d, want %d", j.ID, i)
		}
	}
}

func TestTryDequeueEmpty(t *testing.T) {
	q := New(4)
	if _, ok := q.TryDequeue(); ok {
		t.Fatalf("expected empty queue to report no item")
	}
}

func TestWaitForItemWakesOnEnqueue(t *testing.T) {
	q := New(4)

	done := make(chan struct{})
	go func() {
		q.WaitForItem(time.Second)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(newJob(1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("WaitForItem did not wake within timeout after enqueue")
	}
}

func TestWaitForItemTimesOutWhenEmpty(t *testing.T) {
	q := New(4)
	start := time.Now()
	q.WaitForItem(20 * time.Millisecond)
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("WaitForItem returned before its timeout elapsed")
	}
}
