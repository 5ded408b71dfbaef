package repositories

import (
	"context"
)

// AudioFormat is the audio format negotiated with a backend at connect time.
// It is immutable for the life of the session handle.
type AudioFormat struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"` // always "pcm16" for current providers
}

// SessionConfig configures one backend voice session.
type SessionConfig struct {
	// Model is the provider model name (e.g. "gemini-2.0-flash-exp").
	Model string
	// SystemPrompt is the instruction given to the voice model.
	SystemPrompt string
	// Voice is the provider voice name, empty for the provider default.
	Voice string
}

// BackendEventKind discriminates events produced by a backend session.
type BackendEventKind int

const (
	// EventAudioChunk carries one chunk of generated audio.
	EventAudioChunk BackendEventKind = iota
	// EventSpeechStarted reports backend-side detection of user speech onset.
	EventSpeechStarted
	// EventSpeechEnded reports backend-side detection of user speech end.
	EventSpeechEnded
	// EventGenerationInterrupted confirms the backend aborted generation.
	EventGenerationInterrupted
	// EventTurnComplete reports the end of one generated turn.
	EventTurnComplete
	// EventError carries a mid-call hard failure. The session terminates.
	EventError
)

func (k BackendEventKind) String() string {
	switch k {
	case EventAudioChunk:
		return "audio_chunk"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechEnded:
		return "speech_ended"
	case EventGenerationInterrupted:
		return "generation_interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// BackendEvent is one event received from a backend session. AudioChunk
// events arrive in generation order; SpeechStarted/SpeechEnded bracket a
// user turn.
type BackendEvent struct {
	Kind BackendEventKind
	// Audio is PCM16 at the session's output format rate. Set for EventAudioChunk.
	Audio []byte
	// Err is set for EventError.
	Err error
}

// BackendSession is a live connection to an AI voice backend. Implementations
// perform no resampling; audio passed to SendAudio must already match
// InputFormat.
type BackendSession interface {
	// InputFormat is the format the backend expects for user audio.
	InputFormat() AudioFormat
	// OutputFormat is the format of audio carried by AudioChunk events.
	OutputFormat() AudioFormat

	// SendAudio queues one chunk of user audio for transmission. It does not
	// wait for backend acknowledgment. Returns ErrClosed after Close.
	SendAudio(ctx context.Context, pcm []byte) error

	// Events returns the session's event stream. The channel is closed when
	// the connection ends; a terminal failure is delivered as EventError first.
	Events() <-chan BackendEvent

	// Interrupt asks the backend to abort in-flight generation. Idempotent;
	// a no-op when nothing is generating. Cessation is not immediate, so the
	// caller must also discard locally buffered audio.
	Interrupt(ctx context.Context) error

	// Close releases the connection. Safe to call multiple times.
	Close() error
}

// VoiceBackend abstracts a realtime AI voice provider. Exactly one variant
// is selected by configuration per process.
type VoiceBackend interface {
	// Provider returns the provider identity ("gemini" or "openai").
	Provider() string

	// Connect opens a provider session and performs the handshake. It fails
	// with ErrBackendUnavailable on connection/auth failure and with
	// ErrBackendTimeout when the handshake exceeds its bounded deadline.
	Connect(ctx context.Context, cfg SessionConfig) (BackendSession, error)
}
