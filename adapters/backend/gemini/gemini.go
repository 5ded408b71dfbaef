// Package gemini implements the voice backend contract on the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

const (
	defaultModel = "gemini-2.0-flash-exp"
	defaultVoice = "Aoede"

	// Gemini Live consumes 16 kHz PCM and produces 24 kHz PCM.
	inputRate  = 16000
	outputRate = 24000
)

// Backend creates Gemini Live sessions.
type Backend struct {
	client         *genai.Client
	logger         *zap.Logger
	connectTimeout time.Duration
}

// New creates a Gemini backend.
func New(ctx context.Context, apiKey string, connectTimeout time.Duration, logger *zap.Logger) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	return &Backend{client: client, logger: logger, connectTimeout: connectTimeout}, nil
}

// Provider implements repositories.VoiceBackend.
func (b *Backend) Provider() string { return "gemini" }

// Connect opens a Live session and starts the receive loop.
func (b *Backend) Connect(ctx context.Context, cfg repositories.SessionConfig) (repositories.BackendSession, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}

	liveConfig := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	if cfg.SystemPrompt != "" {
		liveConfig.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemPrompt}},
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()

	live, err := b.client.Live.Connect(connectCtx, model, liveConfig)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || connectCtx.Err() != nil {
			return nil, fmt.Errorf("gemini: live handshake: %v: %w", err, domain.ErrBackendTimeout)
		}
		return nil, fmt.Errorf("gemini: live connect: %v: %w", err, domain.ErrBackendUnavailable)
	}

	s := &session{
		live:   live,
		logger: b.logger.With(zap.String("provider", "gemini"), zap.String("model", model)),
		events: make(chan repositories.BackendEvent, 64),
		done:   make(chan struct{}),
	}
	go s.receiveLoop()
	s.logger.Info("backend session connected")
	return s, nil
}

type session struct {
	live   *genai.Session
	logger *zap.Logger

	events    chan repositories.BackendEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) InputFormat() repositories.AudioFormat {
	return repositories.AudioFormat{SampleRate: inputRate, Encoding: "pcm16"}
}

func (s *session) OutputFormat() repositories.AudioFormat {
	return repositories.AudioFormat{SampleRate: outputRate, Encoding: "pcm16"}
}

// SendAudio forwards one chunk of 16 kHz PCM user audio.
func (s *session) SendAudio(ctx context.Context, pcm []byte) error {
	select {
	case <-s.done:
		return domain.ErrClosed
	default:
	}
	err := s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", inputRate),
			Data:     pcm,
		},
	})
	if err != nil {
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return nil
}

func (s *session) Events() <-chan repositories.BackendEvent {
	return s.events
}

// Interrupt is a no-op at the wire level: Gemini Live's server-side activity
// detection aborts generation when new user audio arrives, and reports it via
// the Interrupted flag on server content. Locally buffered audio is still the
// caller's to discard.
func (s *session) Interrupt(ctx context.Context) error {
	select {
	case <-s.done:
		return domain.ErrClosed
	default:
	}
	s.logger.Debug("interrupt requested; relying on server-side activity detection")
	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.live.Close(); err != nil {
			s.logger.Warn("closing live session", zap.Error(err))
		}
	})
	return nil
}

// receiveLoop translates Live server messages into backend events.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		msg, err := s.live.Receive()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.emit(repositories.BackendEvent{
					Kind: repositories.EventError,
					Err:  fmt.Errorf("gemini: receive: %w", err),
				})
			}
			return
		}
		if msg == nil || msg.ServerContent == nil {
			continue
		}

		content := msg.ServerContent
		if content.Interrupted {
			s.emit(repositories.BackendEvent{Kind: repositories.EventGenerationInterrupted})
		}
		if content.ModelTurn != nil {
			for _, part := range content.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					s.emit(repositories.BackendEvent{
						Kind:  repositories.EventAudioChunk,
						Audio: part.InlineData.Data,
					})
				}
			}
		}
		if content.TurnComplete {
			s.emit(repositories.BackendEvent{Kind: repositories.EventTurnComplete})
		}
	}
}

func (s *session) emit(ev repositories.BackendEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

var _ repositories.VoiceBackend = (*Backend)(nil)
var _ repositories.BackendSession = (*session)(nil)
