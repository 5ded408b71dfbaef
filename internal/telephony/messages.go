// Package telephony marshals the provider's media-stream WebSocket envelope.
// The JSON schema is an external contract owned by the telephony provider and
// must be matched byte-for-byte; nothing in here does audio logic.
package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/satriahrh/voicebridge/domain"
)

// Envelope event names used on the wire.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventClear     = "clear"
)

// Message is the media-stream wire envelope, both directions.
type Message struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
	Mark           *MarkPayload  `json:"mark,omitempty"`
}

// StartPayload announces a new media stream.
type StartPayload struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  MediaFormat       `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

// MediaFormat describes the stream's audio encoding.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 μ-law audio chunk.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// StopPayload announces the end of the stream.
type StopPayload struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// MarkPayload labels a playback position for synchronization.
type MarkPayload struct {
	Name string `json:"name"`
}

// Parse decodes one wire message. A malformed envelope yields ErrFormat so
// the owning session can drop the unit without crashing.
func Parse(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("telephony: parse envelope: %v: %w", err, domain.ErrFormat)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("telephony: envelope missing event: %w", domain.ErrFormat)
	}
	switch msg.Event {
	case EventStart:
		if msg.Start == nil || msg.Start.StreamSID == "" {
			return nil, fmt.Errorf("telephony: start without stream sid: %w", domain.ErrFormat)
		}
	case EventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil, fmt.Errorf("telephony: media without payload: %w", domain.ErrFormat)
		}
	}
	return &msg, nil
}

// AudioPayload decodes the base64 μ-law bytes of a media message.
func (m *Message) AudioPayload() ([]byte, error) {
	if m.Event != EventMedia || m.Media == nil {
		return nil, fmt.Errorf("telephony: not a media message: %w", domain.ErrFormat)
	}
	raw, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("telephony: media payload is not base64: %w", domain.ErrFormat)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("telephony: empty media payload: %w", domain.ErrFormat)
	}
	return raw, nil
}

// EncodeMedia builds an outbound media message carrying μ-law audio.
func EncodeMedia(streamSID string, mulaw []byte) ([]byte, error) {
	msg := Message{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media: &MediaPayload{
			Payload: base64.StdEncoding.EncodeToString(mulaw),
		},
	}
	return json.Marshal(msg)
}

// EncodeClear builds the message asking the provider to discard audio it has
// buffered but not yet played. Sent on barge-in.
func EncodeClear(streamSID string) ([]byte, error) {
	return json.Marshal(Message{Event: EventClear, StreamSID: streamSID})
}

// EncodeMark builds a playback synchronization mark.
func EncodeMark(streamSID, name string) ([]byte, error) {
	return json.Marshal(Message{
		Event:     EventMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	})
}
