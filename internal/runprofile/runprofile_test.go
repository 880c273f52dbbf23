package runprofile

import "testing"

func TestProfileValidate(t *testing.T) {
	cases := []struct {
		name    string
		p       Profile
		wantErr bool
	}{
		{
			name: "constant_rps ok",
			p:    Profile{Mode: ModeConstantRPS, TargetRPS: 100, DurationSeconds: 10},
		},
		{
			name:    "constant_rps missing target",
			p:       Profile{Mode: ModeConstantRPS, DurationSeconds: 10},
			wantErr: true,
		},
		{
			name: "constant_concurrency ok",
			p:    Profile{Mode: ModeConstantConcurrency, Concurrency: 50, DurationSeconds: 10},
		},
		{
			name:    "iterations missing concurrency",
			p:       Profile{Mode: ModeIterations, Iterations: 100},
			wantErr: true,
		},
		{
			name: "ramp_up ok",
			p:    Profile{Mode: ModeRampUp, Concurrency: 10, RampDurationSeconds: 5, DurationSeconds: 30},
		},
		{
			name:    "unknown mode",
			p:       Profile{Mode: "bogus"},
			wantErr: true,
		},
		{
			name:    "bad sample rate",
			p:       Profile{Mode: ModeConstantRPS, TargetRPS: 1, DurationSeconds: 1, SuccessSampleRate: 150},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestWithDefaults(t *testing.T) {
	p := Profile{Mode: ModeConstantRPS}.WithDefaults()
	if len(p.Percentiles) != len(DefaultPercentiles) {
		t.Fatalf("expected default percentiles to be filled")
	}
	if p.SuccessSampleRate != 100 {
		t.Fatalf("expected default success sample rate of 100, got %v", p.SuccessSampleRate)
	}

	custom := Profile{Mode: ModeConstantRPS, Percentiles: []float64{99}, SuccessSampleRate: 5}.WithDefaults()
	if len(custom.Percentiles) != 1 || custom.Percentiles[0] != 99 {
		t.Fatalf("expected custom percentiles preserved, got %v", custom.Percentiles)
	}
	if custom.SuccessSampleRate != 5 {
		t.Fatalf("expected custom sample rate preserved, got %v", custom.SuccessSampleRate)
	}
}
