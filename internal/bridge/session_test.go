package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/adapters/backend/mock"
	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/audio"
	"github.com/satriahrh/voicebridge/internal/telephony"
)

func repoAudioChunk(pcm []byte) repositories.BackendEvent {
	return repositories.BackendEvent{Kind: repositories.EventAudioChunk, Audio: pcm}
}

func repoInterrupted() repositories.BackendEvent {
	return repositories.BackendEvent{Kind: repositories.EventGenerationInterrupted}
}

func repoError(err error) repositories.BackendEvent {
	return repositories.BackendEvent{Kind: repositories.EventError, Err: err}
}

const (
	// One 20 ms telephony frame at 8 kHz.
	frameSamples = 160
	// One 20 ms backend chunk at 24 kHz, as PCM16 bytes.
	backendChunkBytes = 480 * 2
)

func testCall() entities.Call {
	return entities.Call{CallID: "CA0001", StreamID: "MZ0001", Caller: "+15550100"}
}

func testConfig() Config {
	return Config{
		ChunkDuration:    20 * time.Millisecond,
		InterruptTimeout: 200 * time.Millisecond,
		DrainTimeout:     100 * time.Millisecond,
	}
}

// mediaMsg builds an inbound media envelope of n repeated μ-law bytes.
// 0xFF decodes to silence, 0x00 to a near-full-scale sample.
func mediaMsg(b byte, n int) *telephony.Message {
	return &telephony.Message{
		Event: telephony.EventMedia,
		Media: &telephony.MediaPayload{
			Payload: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{b}, n)),
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// frameRecorder consumes Outbound like the telephony write pump would.
type frameRecorder struct {
	mu     sync.Mutex
	frames []OutboundFrame
	closed bool
}

func record(s *Session) *frameRecorder {
	r := &frameRecorder{}
	go func() {
		for fr := range s.Outbound() {
			r.mu.Lock()
			r.frames = append(r.frames, fr)
			r.mu.Unlock()
		}
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
	}()
	return r
}

func (r *frameRecorder) snapshot() []OutboundFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OutboundFrame, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *frameRecorder) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func startSession(t *testing.T, backend *mock.Backend, cfg Config) (*Session, <-chan error) {
	t.Helper()
	s := NewSession(testCall(), backend, cfg, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	return s, done
}

func TestSessionOutboundOrdering(t *testing.T) {
	backend := mock.New()
	s, done := startSession(t, backend, testConfig())
	rec := record(s)
	waitFor(t, "session active", func() bool { return s.State() == StateActive })

	bs := backend.Sessions()[0]
	const n = 5
	for i := 0; i < n; i++ {
		bs.Push(repoAudioChunk(make([]byte, backendChunkBytes)))
	}
	waitFor(t, "outbound frames", func() bool { return rec.count() >= n })

	frames := rec.snapshot()
	for i, fr := range frames[:n] {
		if fr.Kind != OutboundMedia {
			t.Fatalf("frame %d: kind = %v, want media", i, fr.Kind)
		}
		if fr.Seq != uint64(i+1) {
			t.Errorf("frame %d: seq = %d, want %d", i, fr.Seq, i+1)
		}
		if fr.Generation != 0 {
			t.Errorf("frame %d: generation = %d, want 0", i, fr.Generation)
		}
		msg, err := telephony.Parse(fr.Data)
		if err != nil {
			t.Fatalf("frame %d: parse: %v", i, err)
		}
		if msg.Event != telephony.EventMedia || msg.StreamSID != "MZ0001" {
			t.Errorf("frame %d: event=%q streamSid=%q", i, msg.Event, msg.StreamSID)
		}
	}

	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	if !bs.Closed() {
		t.Error("backend session not closed at teardown")
	}
	waitFor(t, "outbound channel close", rec.isClosed)
}

func TestSessionInboundOrdering(t *testing.T) {
	backend := mock.New()
	s, done := startSession(t, backend, testConfig())
	record(s)
	waitFor(t, "session active", func() bool { return s.State() == StateActive })
	bs := backend.Sessions()[0]

	// Distinct μ-law codes make each forwarded chunk identifiable.
	codes := []byte{0xFF, 0xFE, 0xFD, 0xFC, 0xFB, 0xFA, 0xF9, 0xF8}
	for _, code := range codes {
		if err := s.Deliver(mediaMsg(code, frameSamples)); err != nil {
			t.Fatalf("deliver 0x%02X: %v", code, err)
		}
	}
	waitFor(t, "all chunks forwarded", func() bool { return len(bs.SentChunks()) >= len(codes) })

	chunks := bs.SentChunks()
	if len(chunks) != len(codes) {
		t.Fatalf("chunks = %d, want %d", len(chunks), len(codes))
	}
	for i, code := range codes {
		decoded, err := audio.DecodeMulaw([]byte{code})
		if err != nil {
			t.Fatalf("decode 0x%02X: %v", code, err)
		}
		want := decoded[0]
		samples := audio.BytesToPCM16(chunks[i])
		// A constant frame stays constant through upsampling, so the chunk's
		// first sample identifies the source frame.
		if len(samples) != 2*frameSamples {
			t.Fatalf("chunk %d: %d samples, want %d", i, len(samples), 2*frameSamples)
		}
		if samples[0] != want {
			t.Errorf("chunk %d: first sample = %d, want %d (frame 0x%02X)", i, samples[0], want, code)
		}
	}

	s.Stop()
	<-done
}

func TestSessionBargeInInterruptsExactlyOnce(t *testing.T) {
	backend := mock.New()
	s, done := startSession(t, backend, testConfig())
	waitFor(t, "session active", func() bool { return s.State() == StateActive })
	bs := backend.Sessions()[0]

	// AI starts speaking; the frame stays buffered (no consumer yet).
	bs.Push(repoAudioChunk(make([]byte, backendChunkBytes)))
	waitFor(t, "ai speaking", func() bool { return len(s.Outbound()) > 0 })

	// Three consecutive loud frames cross the onset threshold.
	for i := 0; i < 3; i++ {
		if err := s.Deliver(mediaMsg(0x00, frameSamples)); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
	waitFor(t, "interrupt sent", func() bool { return bs.Interrupts() == 1 })
	if got := s.State(); got != StateInterrupting {
		t.Fatalf("state = %v, want interrupting", got)
	}
	if got := s.Generation(); got != 1 {
		t.Fatalf("generation = %d, want 1", got)
	}

	// More speech while interrupting must not send a second interrupt.
	for i := 0; i < 3; i++ {
		if err := s.Deliver(mediaMsg(0x00, frameSamples)); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
	time.Sleep(30 * time.Millisecond)
	if got := bs.Interrupts(); got != 1 {
		t.Fatalf("interrupts = %d, want exactly 1", got)
	}

	// The buffer was flushed down to the clear request for the provider.
	fr := <-s.Outbound()
	if fr.Kind != OutboundClear {
		t.Fatalf("post-interrupt frame kind = %v, want clear", fr.Kind)
	}
	if fr.Generation != 1 {
		t.Fatalf("clear generation = %d, want 1", fr.Generation)
	}

	// Backend confirms; new audio flows under the new generation.
	bs.Push(repoInterrupted())
	waitFor(t, "session active again", func() bool { return s.State() == StateActive })
	bs.Push(repoAudioChunk(make([]byte, backendChunkBytes)))
	fr = <-s.Outbound()
	if fr.Kind != OutboundMedia || fr.Generation != 1 {
		t.Fatalf("new generation frame = kind %v gen %d, want media gen 1", fr.Kind, fr.Generation)
	}
	if s.Stale(fr) {
		t.Error("current-generation frame reported stale")
	}
	if !s.Stale(OutboundFrame{Kind: OutboundMedia, Generation: 0}) {
		t.Error("old-generation frame not reported stale")
	}

	s.Stop()
	<-done
}

func TestSessionNoInterruptWhileSilent(t *testing.T) {
	backend := mock.New()
	s, done := startSession(t, backend, testConfig())
	record(s)
	waitFor(t, "session active", func() bool { return s.State() == StateActive })
	bs := backend.Sessions()[0]

	// Caller speaks but the AI is silent; no interrupt may reach the backend.
	for i := 0; i < 6; i++ {
		if err := s.Deliver(mediaMsg(0x00, frameSamples)); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
	waitFor(t, "audio forwarded", func() bool { return len(bs.SentChunks()) > 0 })
	if got := bs.Interrupts(); got != 0 {
		t.Fatalf("interrupts = %d, want 0", got)
	}
	if got := s.State(); got != StateActive {
		t.Fatalf("state = %v, want active", got)
	}

	s.Stop()
	<-done
}

func TestSessionMalformedFrameDropped(t *testing.T) {
	backend := mock.New()
	s, done := startSession(t, backend, testConfig())
	record(s)
	waitFor(t, "session active", func() bool { return s.State() == StateActive })

	bad := &telephony.Message{
		Event: telephony.EventMedia,
		Media: &telephony.MediaPayload{Payload: "not-base64!!"},
	}
	if err := s.Deliver(bad); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	// Session survives and keeps processing.
	if err := s.Deliver(mediaMsg(0xFF, frameSamples)); err != nil {
		t.Fatalf("deliver after malformed: %v", err)
	}
	bs := backend.Sessions()[0]
	waitFor(t, "audio forwarded", func() bool { return len(bs.SentChunks()) > 0 })

	s.Stop()
	<-done
}

func TestSessionConnectRetriesOnceOnTimeout(t *testing.T) {
	backend := mock.New()
	backend.FailConnect(fmt.Errorf("dial: %w", domain.ErrBackendTimeout))
	s, done := startSession(t, backend, testConfig())
	record(s)
	waitFor(t, "session active", func() bool { return s.State() == StateActive })
	if got := len(backend.Sessions()); got != 1 {
		t.Fatalf("sessions = %d, want 1", got)
	}
	s.Stop()
	<-done
}

func TestSessionDoubleConnectTimeoutTerminates(t *testing.T) {
	backend := mock.New()
	backend.FailConnect(
		fmt.Errorf("dial: %w", domain.ErrBackendTimeout),
		fmt.Errorf("dial: %w", domain.ErrBackendTimeout),
	)
	s, done := startSession(t, backend, testConfig())
	record(s)

	err := <-done
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("run error = %v, want ErrBackendUnavailable", err)
	}
	if got := s.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if deliverErr := s.Deliver(mediaMsg(0xFF, frameSamples)); !errors.Is(deliverErr, domain.ErrClosed) {
		t.Fatalf("deliver after close = %v, want ErrClosed", deliverErr)
	}
}

func TestSessionMidCallTimeoutReconnectsOnce(t *testing.T) {
	backend := mock.New()
	s, done := startSession(t, backend, testConfig())
	record(s)
	waitFor(t, "session active", func() bool { return s.State() == StateActive })

	first := backend.Sessions()[0]
	first.Push(repoError(fmt.Errorf("read: %w", domain.ErrBackendTimeout)))
	waitFor(t, "reconnect", func() bool { return len(backend.Sessions()) == 2 })
	if !first.Closed() {
		t.Error("first backend session not closed on reconnect")
	}
	if got := s.State(); got != StateActive {
		t.Fatalf("state after reconnect = %v, want active", got)
	}

	// A second timeout exhausts the budget and terminates the call.
	second := backend.Sessions()[1]
	second.Push(repoError(fmt.Errorf("read: %w", domain.ErrBackendTimeout)))
	err := <-done
	if !errors.Is(err, domain.ErrBackendTimeout) {
		t.Fatalf("run error = %v, want ErrBackendTimeout", err)
	}
}

func TestSessionStopMessageDrains(t *testing.T) {
	backend := mock.New()
	s, done := startSession(t, backend, testConfig())
	rec := record(s)
	waitFor(t, "session active", func() bool { return s.State() == StateActive })

	if err := s.Deliver(&telephony.Message{Event: telephony.EventStop}); err != nil {
		t.Fatalf("deliver stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
	waitFor(t, "outbound channel close", rec.isClosed)
	if !backend.Sessions()[0].Closed() {
		t.Error("backend session not closed after stop")
	}
}
