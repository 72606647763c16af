package stt

type TranscriptionCompletedEvent struct {
	Text string `json:"text"`
}

func (e *TranscriptionCompletedEvent) GetId() string {
	return "stt.transcription_completed"
}

type TranscriptionFailedEvent struct {
	Error string `json:"error"`
}

func (e *TranscriptionFailedEvent) GetId() string {
	return "stt.transcription_failed"
}
