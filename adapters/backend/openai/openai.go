// Package openai implements the voice backend contract on the OpenAI
// Realtime API over WebSocket.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

const (
	defaultModel = "gpt-4o-realtime-preview"
	defaultVoice = "alloy"
	realtimeURL  = "wss://api.openai.com/v1/realtime"

	// The Realtime API speaks 24 kHz PCM16 in both directions.
	sampleRate = 24000
)

// Backend creates OpenAI Realtime sessions.
type Backend struct {
	apiKey         string
	logger         *zap.Logger
	connectTimeout time.Duration
}

// New creates an OpenAI backend.
func New(apiKey string, connectTimeout time.Duration, logger *zap.Logger) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Backend{apiKey: apiKey, logger: logger, connectTimeout: connectTimeout}, nil
}

// Provider implements repositories.VoiceBackend.
func (b *Backend) Provider() string { return "openai" }

// Connect dials the Realtime WebSocket, configures the session with server-side
// voice activity detection, and starts the receive loop.
func (b *Backend) Connect(ctx context.Context, cfg repositories.SessionConfig) (repositories.BackendSession, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+b.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: b.connectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?model=%s", realtimeURL, model)
	conn, resp, err := dialer.DialContext(dialCtx, url, headers)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, fmt.Errorf("openai: realtime handshake: %v: %w", err, domain.ErrBackendTimeout)
		}
		if resp != nil {
			return nil, fmt.Errorf("openai: realtime connect (status %d): %v: %w", resp.StatusCode, err, domain.ErrBackendUnavailable)
		}
		return nil, fmt.Errorf("openai: realtime connect: %v: %w", err, domain.ErrBackendUnavailable)
	}

	s := &session{
		conn:   conn,
		logger: b.logger.With(zap.String("provider", "openai"), zap.String("model", model)),
		events: make(chan repositories.BackendEvent, 64),
		done:   make(chan struct{}),
	}

	update := clientEvent{
		EventID: newEventID(),
		Type:    eventSessionUpdate,
		Session: &sessionConfig{
			Modalities:        []string{"audio", "text"},
			Instructions:      cfg.SystemPrompt,
			Voice:             voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     &turnDetection{Type: "server_vad"},
		},
	}
	if err := s.send(update); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("openai: configure session: %v: %w", err, domain.ErrBackendUnavailable)
	}

	go s.receiveLoop()
	s.logger.Info("backend session connected")
	return s, nil
}

type session struct {
	conn   *websocket.Conn
	logger *zap.Logger

	events chan repositories.BackendEvent
	done   chan struct{}

	// cancelPending marks an interrupt awaiting its response.done, which is
	// then surfaced as GenerationInterrupted instead of TurnComplete.
	cancelPending atomic.Bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *session) InputFormat() repositories.AudioFormat {
	return repositories.AudioFormat{SampleRate: sampleRate, Encoding: "pcm16"}
}

func (s *session) OutputFormat() repositories.AudioFormat {
	return repositories.AudioFormat{SampleRate: sampleRate, Encoding: "pcm16"}
}

// SendAudio appends one chunk of 24 kHz PCM to the input audio buffer.
// Server-side VAD commits turns; no explicit commit is sent.
func (s *session) SendAudio(ctx context.Context, pcm []byte) error {
	select {
	case <-s.done:
		return domain.ErrClosed
	default:
	}
	return s.send(clientEvent{
		EventID: newEventID(),
		Type:    eventInputAudioAppend,
		Audio:   base64.StdEncoding.EncodeToString(pcm),
	})
}

func (s *session) Events() <-chan repositories.BackendEvent {
	return s.events
}

// Interrupt cancels the in-flight response. Cancelling when no response is
// active yields a benign server error which is logged and dropped.
func (s *session) Interrupt(ctx context.Context) error {
	select {
	case <-s.done:
		return domain.ErrClosed
	default:
	}
	s.cancelPending.Store(true)
	return s.send(clientEvent{EventID: newEventID(), Type: eventResponseCancel})
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

func (s *session) send(ev clientEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("openai: send %s: %w", ev.Type, err)
	}
	return nil
}

func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		var ev serverEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			select {
			case <-s.done:
			default:
				s.emit(repositories.BackendEvent{
					Kind: repositories.EventError,
					Err:  fmt.Errorf("openai: receive: %w", err),
				})
			}
			return
		}

		switch ev.Type {
		case eventResponseAudio:
			audio, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil || len(audio) == 0 {
				s.logger.Warn("dropping undecodable audio delta", zap.Error(err))
				continue
			}
			s.emit(repositories.BackendEvent{Kind: repositories.EventAudioChunk, Audio: audio})

		case eventSpeechStarted:
			s.emit(repositories.BackendEvent{Kind: repositories.EventSpeechStarted})

		case eventSpeechStopped:
			s.emit(repositories.BackendEvent{Kind: repositories.EventSpeechEnded})

		case eventResponseDone:
			if s.cancelPending.CompareAndSwap(true, false) {
				s.emit(repositories.BackendEvent{Kind: repositories.EventGenerationInterrupted})
				continue
			}
			s.emit(repositories.BackendEvent{Kind: repositories.EventTurnComplete})

		case eventError:
			// response.cancel with nothing in flight is expected during
			// barge-in races; drop it.
			if s.cancelPending.CompareAndSwap(true, false) {
				s.logger.Debug("cancel with no active response", zap.Any("error", ev.Error))
				s.emit(repositories.BackendEvent{Kind: repositories.EventGenerationInterrupted})
				continue
			}
			err := fmt.Errorf("openai: server error")
			if ev.Error != nil {
				err = fmt.Errorf("openai: server error: %s", ev.Error.String())
			}
			s.emit(repositories.BackendEvent{Kind: repositories.EventError, Err: err})

		case eventSessionCreated, eventResponseCreated, eventRateLimitsUpdate:
			// Informational.

		default:
			// Unhandled event types are fine; the protocol grows faster than
			// the bridge needs to.
		}
	}
}

func (s *session) emit(ev repositories.BackendEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func newEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

var _ repositories.VoiceBackend = (*Backend)(nil)
var _ repositories.BackendSession = (*session)(nil)
