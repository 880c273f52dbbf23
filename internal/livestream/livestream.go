// Package livestream implements the live-metrics fan-out of spec.md §4.8/§6
// (component C10): a 250ms ticker reads an aggregator snapshot and pushes it
// to every subscriber, terminating each subscriber's channel with one final
// "complete" event once the run finishes.
package livestream

import (
	"sync"
	"time"

	"github.com/athrvk/vayu-sub005/internal/aggregator"
)

const tickInterval = 250 * time.Millisecond

// Event is one message delivered to a subscriber: either a metrics
// snapshot or the terminal completion marker.
type Event struct {
	Snapshot aggregator.Snapshot
	Complete bool
}

// Stream owns the ticker goroutine and the set of active subscribers for
// one run.
type Stream struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	agg         *aggregator.Aggregator
	done        <-chan struct{}

	// terminated and terminal record the run's final event once Run has
	// broadcast it and returned; a Subscribe arriving after that point (the
	// normal case for a historical-replay request against a completed run)
	// gets terminal replayed immediately instead of a channel nothing will
	// ever write to again.
	terminated bool
	terminal   Event

	stopCh chan struct{}
}

// New builds a stream that samples agg every 250ms until done fires.
func New(agg *aggregator.Aggregator, runDone <-chan struct{}) *Stream {
	return &Stream{
		subscribers: make(map[chan Event]struct{}),
		agg:         agg,
		done:        runDone,
		stopCh:      make(chan struct{}),
	}
}

// Subscribe registers a new subscriber and returns its event channel plus
// an unsubscribe function. The channel is closed once the run completes
// or Unsubscribe is called, whichever comes first. If the run has already
// completed, the returned channel is pre-loaded with the terminal event
// and already closed, so a late subscriber still observes it instead of
// blocking forever.
func (s *Stream) Subscribe() (ch <-chan Event, unsubscribe func()) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		c := make(chan Event, 1)
		c <- s.terminal
		close(c)
		return c, func() {}
	}
	c := make(chan Event, 8)
	s.subscribers[c] = struct{}{}
	s.mu.Unlock()

	return c, func() { s.remove(c) }
}

func (s *Stream) remove(c chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[c]; ok {
		delete(s.subscribers, c)
		close(c)
	}
}

// Run drives the ticker loop. Call on its own goroutine; it returns once
// the run's done channel fires, after delivering the terminal event to
// every remaining subscriber.
func (s *Stream) Run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.broadcast(Event{Snapshot: s.agg.Snapshot()})
		case <-s.done:
			e := Event{Snapshot: s.agg.Snapshot(), Complete: true}
			s.broadcast(e)
			s.closeAll(e)
			return
		}
	}
}

func (s *Stream) broadcast(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.subscribers {
		select {
		case c <- e:
		default:
			// Slow subscriber: drop this tick rather than block the
			// broadcaster; the next tick supersedes it anyway.
		}
	}
}

func (s *Stream) closeAll(terminal Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
	s.terminal = terminal
	for c := range s.subscribers {
		close(c)
		delete(s.subscribers, c)
	}
}
