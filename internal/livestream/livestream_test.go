package livestream

import (
	"testing"
	"time"

	"github.com/athrvk/vayu-sub005/internal/aggregator"
	"github.com/athrvk/vayu-sub005/internal/runprofile"
)

func TestStreamDeliversTicksThenComplete(t *testing.T) {
	agg := aggregator.New(runprofile.Profile{Mode: runprofile.ModeIterations, Iterations: 1, Concurrency: 1}.WithDefaults())
	go agg.Run()

	runDone := make(chan struct{})
	s := New(agg, runDone)
	go s.Run()

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	select {
	case e := <-events:
		if e.Complete {
			t.Fatalf("expected a metrics tick before completion")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first tick")
	}

	close(runDone)

	gotComplete := false
	deadline := time.After(2 * time.Second)
	for !gotComplete {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("channel closed before delivering a complete event")
			}
			if e.Complete {
				gotComplete = true
			}
		case <-deadline:
			t.Fatalf("timed out waiting for complete event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	agg := aggregator.New(runprofile.Profile{Mode: runprofile.ModeIterations, Iterations: 1, Concurrency: 1}.WithDefaults())
	go agg.Run()

	runDone := make(chan struct{})
	defer close(runDone)
	s := New(agg, runDone)
	go s.Run()

	events, unsubscribe := s.Subscribe()
	unsubscribe()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected channel closed after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected channel to be closed promptly after unsubscribe")
	}
}
