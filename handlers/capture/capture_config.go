package capture

import "time"

type CaptureConfig struct {
	// MinDuration rejects taps that are too short to hold speech. Shorter
	// clips are reported as core.ErrEmptyCapture.
	MinDuration time.Duration `json:"min_duration"`
}

func DefaultConfig() CaptureConfig {
	return CaptureConfig{}
}
