package repositories

import "context"

// AudioConfig describes the audio handed to a transcriber stream.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// Transcriber opens streaming transcription sessions. Used by the optional
// per-call transcription tap; never on the audio path's critical section.
type Transcriber interface {
	OpenStream(ctx context.Context, config AudioConfig) (TranscriberStream, error)
}

// TranscriberStream is one live transcription stream. Write is best-effort:
// a failed write ends the tap, never the call.
type TranscriberStream interface {
	Write(data []byte) error
	// Results delivers transcripts as they become available. Closed when the
	// stream ends.
	Results() <-chan string
	Close() error
}
