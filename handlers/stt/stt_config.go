package stt

import "time"

type STTConfig struct {
	Language string        `json:"language"` // BCP-47 tag passed to the recogniser, e.g. "vi".
	Timeout  time.Duration `json:"timeout"`  // Single bounded wait for the whole request.
	// MaxClipBytes rejects oversized uploads before they leave the device.
	MaxClipBytes int `json:"max_clip_bytes"`
}

// DefaultConfig matches the Whisper upload ceiling.
func DefaultConfig() STTConfig {
	return STTConfig{
		Language:     "vi",
		Timeout:      30 * time.Second,
		MaxClipBytes: 25 << 20,
	}
}
