// Package mock provides an in-process voice backend for tests and local
// development. Sessions record what they receive and play back whatever
// events the caller scripts.
package mock

import (
	"context"
	"sync"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/repositories"
)

// Backend is a scriptable repositories.VoiceBackend.
type Backend struct {
	mu          sync.Mutex
	connectErrs []error
	sessions    []*Session

	InputRate  int
	OutputRate int
}

// New creates a mock backend with Gemini-like rates (16 kHz in, 24 kHz out).
func New() *Backend {
	return &Backend{InputRate: 16000, OutputRate: 24000}
}

// FailConnect queues errors returned by the next Connect calls, in order.
func (b *Backend) FailConnect(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErrs = append(b.connectErrs, errs...)
}

// Provider implements repositories.VoiceBackend.
func (b *Backend) Provider() string { return "mock" }

// Connect implements repositories.VoiceBackend.
func (b *Backend) Connect(ctx context.Context, cfg repositories.SessionConfig) (repositories.BackendSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.connectErrs) > 0 {
		err := b.connectErrs[0]
		b.connectErrs = b.connectErrs[1:]
		return nil, err
	}
	s := &Session{
		inputRate:  b.InputRate,
		outputRate: b.OutputRate,
		events:     make(chan repositories.BackendEvent, 64),
		done:       make(chan struct{}),
	}
	b.sessions = append(b.sessions, s)
	return s, nil
}

// Sessions returns every session Connect has produced.
func (b *Backend) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Session, len(b.sessions))
	copy(out, b.sessions)
	return out
}

// Session records sent audio and interrupts, and emits scripted events.
type Session struct {
	inputRate  int
	outputRate int

	mu         sync.Mutex
	sent       [][]byte
	interrupts int
	closed     bool

	events    chan repositories.BackendEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Session) InputFormat() repositories.AudioFormat {
	return repositories.AudioFormat{SampleRate: s.inputRate, Encoding: "pcm16"}
}

func (s *Session) OutputFormat() repositories.AudioFormat {
	return repositories.AudioFormat{SampleRate: s.outputRate, Encoding: "pcm16"}
}

func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	s.sent = append(s.sent, buf)
	return nil
}

func (s *Session) Events() <-chan repositories.BackendEvent {
	return s.events
}

func (s *Session) Interrupt(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	s.interrupts++
	return nil
}

// Close marks the session closed. The events channel stays open so a
// scripted Push racing Close cannot send on a closed channel; Push drains
// into done instead.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Push delivers a scripted event to the session's consumer. A no-op after
// Close.
func (s *Session) Push(ev repositories.BackendEvent) {
	select {
	case <-s.done:
	default:
		select {
		case s.events <- ev:
		case <-s.done:
		}
	}
}

// SentChunks returns a copy of every audio chunk sent so far.
func (s *Session) SentChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Interrupts returns how many times Interrupt was called.
func (s *Session) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// Closed reports whether the session was closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ repositories.VoiceBackend = (*Backend)(nil)
var _ repositories.BackendSession = (*Session)(nil)
