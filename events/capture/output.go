package capture

type RecordingStartedEvent struct {
	Device string `json:"device"`
}

func (e *RecordingStartedEvent) GetId() string {
	return "capture.recording_started"
}

type RecordingStoppedEvent struct {
	DurationMs int64 `json:"duration_ms"`
	Empty      bool  `json:"empty"`
}

func (e *RecordingStoppedEvent) GetId() string {
	return "capture.recording_stopped"
}

// RecordingReleasedEvent fires when the microphone is handed back, on every
// exit path.
type RecordingReleasedEvent struct{}

func (e *RecordingReleasedEvent) GetId() string {
	return "capture.recording_released"
}
