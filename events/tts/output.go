package tts

// SpeakingStartedEvent fires when playback of an assistant turn begins.
type SpeakingStartedEvent struct {
	TurnID string `json:"turn_id"`
}

func (e *SpeakingStartedEvent) GetId() string {
	return "tts.speaking_started"
}

// SpeakingEndedEvent fires when the turn goes back to silent, whether the
// utterance finished or was stopped.
type SpeakingEndedEvent struct {
	TurnID  string `json:"turn_id"`
	Stopped bool   `json:"stopped"`
}

func (e *SpeakingEndedEvent) GetId() string {
	return "tts.speaking_ended"
}

type SpeakingFailedEvent struct {
	TurnID string `json:"turn_id"`
	Error  string `json:"error"`
}

func (e *SpeakingFailedEvent) GetId() string {
	return "tts.speaking_failed"
}
