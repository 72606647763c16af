package tts

type TTSConfig struct {
	Language string `json:"language"` // BCP-47 tag handed to the speech engine, e.g. "vi".
	// MaxChars truncates very long replies before synthesis. Zero means no limit.
	MaxChars int `json:"max_chars"`
}

// DefaultConfig returns a TTSConfig with sensible defaults.
func DefaultConfig() TTSConfig {
	return TTSConfig{
		Language: "vi",
	}
}
