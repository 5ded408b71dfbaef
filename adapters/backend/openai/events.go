package openai

import "encoding/json"

// Client event types sent to the Realtime API.
const (
	eventSessionUpdate    = "session.update"
	eventInputAudioAppend = "input_audio_buffer.append"
	eventResponseCancel   = "response.cancel"
)

// Server event types received from the Realtime API.
const (
	eventError            = "error"
	eventSessionCreated   = "session.created"
	eventSpeechStarted    = "input_audio_buffer.speech_started"
	eventSpeechStopped    = "input_audio_buffer.speech_stopped"
	eventResponseAudio    = "response.audio.delta"
	eventResponseDone     = "response.done"
	eventResponseCreated  = "response.created"
	eventRateLimitsUpdate = "rate_limits.updated"
)

// clientEvent is the envelope for events sent to the server.
type clientEvent struct {
	EventID string         `json:"event_id,omitempty"`
	Type    string         `json:"type"`
	Session *sessionConfig `json:"session,omitempty"`
	Audio   string         `json:"audio,omitempty"`
}

// sessionConfig is the session.update payload.
type sessionConfig struct {
	Modalities        []string       `json:"modalities,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

// serverEvent is the envelope for events received from the server. Only the
// fields the bridge consumes are declared; the rest of the envelope is
// ignored by encoding/json.
type serverEvent struct {
	Type    string        `json:"type"`
	EventID string        `json:"event_id,omitempty"`
	Delta   string        `json:"delta,omitempty"`
	ItemID  string        `json:"item_id,omitempty"`
	Error   *serverError  `json:"error,omitempty"`
	Session *sessionState `json:"session,omitempty"`
}

type sessionState struct {
	ID string `json:"id"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *serverError) String() string {
	raw, _ := json.Marshal(e)
	return string(raw)
}
