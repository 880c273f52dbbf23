package histogram

import "testing"

func TestHistogramPercentiles(t *testing.T) {
	h := New(10_000)
	for i := 1; i <= 100; i++ {
		h.Record(float64(i))
	}

	stats := h.Snapshot([]float64{50, 90, 99})
	if stats.Count != 100 {
		t.Fatalf("Count = %d, want 100", stats.Count)
	}
	if stats.Min <= 0 || stats.Min > 2 {
		t.Fatalf("Min = %v, want close to 1", stats.Min)
	}
	if stats.Max < 99 || stats.Max > 101 {
		t.Fatalf("Max = %v, want close to 100", stats.Max)
	}

	p50, ok := stats.Percentiles["p50"]
	if !ok {
		t.Fatalf("expected p50 key in percentiles, got %v", stats.Percentiles)
	}
	if relErr(p50, 50) > 0.02 {
		t.Fatalf("p50 = %v, want close to 50 (rel err %v)", p50, relErr(p50, 50))
	}

	p99, ok := stats.Percentiles["p99"]
	if !ok {
		t.Fatalf("expected p99 key in percentiles, got %v", stats.Percentiles)
	}
	if relErr(p99, 99) > 0.02 {
		t.Fatalf("p99 = %v, want close to 99 (rel err %v)", p99, relErr(p99, 99))
	}
}

func TestHistogramEmptySnapshot(t *testing.T) {
	h := New(1000)
	stats := h.Snapshot([]float64{50, 99.9})
	if stats.Count != 0 {
		t.Fatalf("expected empty histogram count 0, got %d", stats.Count)
	}
	if stats.Percentiles == nil {
		t.Fatalf("expected non-nil empty percentiles map")
	}
}

func TestPercentileKeyFormatting(t *testing.T) {
	h := New(1000)
	h.Record(5)
	stats := h.Snapshot([]float64{99.9})
	if _, ok := stats.Percentiles["p99.9"]; !ok {
		t.Fatalf("expected key %q, got %v", "p99.9", stats.Percentiles)
	}
}

func TestReset(t *testing.T) {
	h := New(1000)
	h.Record(42)
	h.Reset()
	stats := h.Snapshot(nil)
	if stats.Count != 0 {
		t.Fatalf("expected count 0 after reset, got %d", stats.Count)
	}
}

func relErr(got, want float64) float64 {
	if want == 0 {
		return 0
	}
	d := got - want
	if d < 0 {
		d = -d
	}
	return d / want
}
