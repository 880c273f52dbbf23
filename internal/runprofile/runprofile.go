// Package runprofile holds the run profile: the knobs that turn a request
// spec into a scheduling contract for the run controller.
package runprofile

import "fmt"

// Mode selects which admission policy the run controller uses.
type Mode string

const (
	ModeConstantRPS         Mode = "constant_rps"
	ModeConstantConcurrency Mode = "constant_concurrency"
	ModeIterations          Mode = "iterations"
	ModeRampUp              Mode = "ramp_up"
)

// DefaultPercentiles is the latency percentile set reported when a profile
// does not name its own.
var DefaultPercentiles = []float64{50, 75, 90, 95, 99, 99.9}

// Profile is a run profile as described in spec.md §3.
type Profile struct {
	Mode Mode `yaml:"mode" json:"mode"`

	DurationSeconds     float64 `yaml:"duration_seconds" json:"duration_seconds"`
	TargetRPS           int     `yaml:"target_rps" json:"target_rps"`
	Concurrency         int     `yaml:"concurrency" json:"concurrency"`
	Iterations          int     `yaml:"iterations" json:"iterations"`
	RampDurationSeconds float64 `yaml:"ramp_duration_seconds" json:"ramp_duration_seconds"`

	// Data-capture knobs.
	SuccessSampleRate   float64 `yaml:"success_sample_rate" json:"success_sample_rate"` // 0-100
	SlowThresholdMs     float64 `yaml:"slow_threshold_ms" json:"slow_threshold_ms"`
	SaveTimingBreakdown bool    `yaml:"save_timing_breakdown" json:"save_timing_breakdown"`

	Percentiles []float64 `yaml:"percentiles" json:"percentiles"`
}

// WithDefaults returns a copy of p with zero-value fields filled from
// sensible daemon defaults.
func (p Profile) WithDefaults() Profile {
	if len(p.Percentiles) == 0 {
		p.Percentiles = DefaultPercentiles
	}
	if p.SuccessSampleRate == 0 {
		p.SuccessSampleRate = 100
	}
	return p
}

// Validate checks that the fields required by Mode are present and sane.
func (p Profile) Validate() error {
	switch p.Mode {
	case ModeConstantRPS:
		if p.TargetRPS <= 0 {
			return fmt.Errorf("constant_rps requires target_rps > 0")
		}
		if p.DurationSeconds <= 0 {
			return fmt.Errorf("constant_rps requires duration_seconds > 0")
		}
	case ModeConstantConcurrency:
		if p.Concurrency <= 0 {
			return fmt.Errorf("constant_concurrency requires concurrency > 0")
		}
		if p.DurationSeconds <= 0 {
			return fmt.Errorf("constant_concurrency requires duration_seconds > 0")
		}
	case ModeIterations:
		if p.Iterations <= 0 {
			return fmt.Errorf("iterations requires iterations > 0")
		}
		if p.Concurrency <= 0 {
			return fmt.Errorf("iterations requires concurrency > 0")
		}
	case ModeRampUp:
		if p.Concurrency <= 0 {
			return fmt.Errorf("ramp_up requires concurrency > 0")
		}
		if p.RampDurationSeconds <= 0 {
			return fmt.Errorf("ramp_up requires ramp_duration_seconds > 0")
		}
		if p.DurationSeconds <= 0 {
			return fmt.Errorf("ramp_up requires duration_seconds > 0 (hold phase)")
		}
	default:
		return fmt.Errorf("unknown run mode: %q", p.Mode)
	}
	if p.SuccessSampleRate < 0 || p.SuccessSampleRate > 100 {
		return fmt.Errorf("success_sample_rate must be within [0,100], got %v", p.SuccessSampleRate)
	}
	return nil
}
