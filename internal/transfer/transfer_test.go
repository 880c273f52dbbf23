package transfer

import (
	"testing"
	"time"
)

func TestStateToOutcome(t *testing.T) {
	start := time.Now()
	end := start.Add(42 * time.Millisecond)

	st := &State{
		Job:           &Job{ID: 7},
		StatusCode:    200,
		ErrKind:       ErrorNone,
		BytesSent:     10,
		BytesReceived: 20,
		Start:         start,
		End:           end,
		Timing:        Timing{Total: 42 * time.Millisecond},
	}

	o := st.ToOutcome()
	if o.RequestID != 7 {
		t.Fatalf("RequestID = %d, want 7", o.RequestID)
	}
	if o.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", o.StatusCode)
	}
	if o.LatencyMs < 41 || o.LatencyMs > 43 {
		t.Fatalf("LatencyMs = %v, want ~42", o.LatencyMs)
	}
	if o.BytesSent != 10 || o.BytesReceived != 20 {
		t.Fatalf("bytes = (%d, %d), want (10, 20)", o.BytesSent, o.BytesReceived)
	}
}
