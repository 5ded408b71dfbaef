// Package bridge implements the per-call session that owns one telephony
// media stream and one AI backend connection, converts audio in both
// directions, and reacts to user barge-in during AI playback.
//
// Concurrency model: one event-loop goroutine per session owns all session
// state. The telephony read pump, telephony write pump and backend receive
// loop communicate with it exclusively over bounded channels; nothing else
// mutates state, buffers or the generation id.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/audio"
	"github.com/satriahrh/voicebridge/internal/metrics"
	"github.com/satriahrh/voicebridge/internal/telephony"
)

// State is the call session lifecycle state.
type State int32

const (
	// StateConnecting means the telephony socket is open and the backend
	// handshake is in flight.
	StateConnecting State = iota
	// StateActive is steady-state bidirectional streaming.
	StateActive
	// StateInterrupting means a barge-in was detected and the session is
	// waiting for the backend to confirm the aborted generation.
	StateInterrupting
	// StateDraining flushes remaining outbound audio before closing.
	StateDraining
	// StateClosed is terminal; both connections are released.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateInterrupting:
		return "interrupting"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OutboundKind discriminates frames handed to the telephony write pump.
type OutboundKind int

const (
	// OutboundMedia carries a marshaled media envelope with μ-law audio.
	OutboundMedia OutboundKind = iota
	// OutboundClear asks the provider to discard buffered, unplayed audio.
	OutboundClear
)

// OutboundFrame is one unit for the telephony write pump. Media frames are
// tagged with the generation id current at production time; the pump must
// drop frames whose generation is stale (see Session.Stale).
type OutboundFrame struct {
	Kind       OutboundKind
	Generation uint64
	Seq        uint64
	Data       []byte
}

// Config tunes one call session.
type Config struct {
	Model        string
	SystemPrompt string
	Voice        string

	// BargeInMode selects the speech-onset signal source.
	BargeInMode      string
	BargeInThreshold float64
	BargeInMinFrames int

	// ChunkDuration batches inbound audio before each backend send.
	ChunkDuration time.Duration
	// InterruptTimeout bounds the wait for backend interrupt confirmation.
	InterruptTimeout time.Duration
	// DrainTimeout bounds the outbound flush on intentional end-of-call.
	DrainTimeout time.Duration

	TranscribeLanguage string
}

func (c Config) withDefaults() Config {
	if c.BargeInMode == "" {
		c.BargeInMode = BargeInModeEnergy
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = 120 * time.Millisecond
	}
	if c.InterruptTimeout <= 0 {
		c.InterruptTimeout = 750 * time.Millisecond
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 1500 * time.Millisecond
	}
	return c
}

// Session is one active phone call bridged to an AI voice backend.
type Session struct {
	id      string
	call    entities.Call
	cfg     Config
	logger  *zap.Logger
	backend repositories.VoiceBackend

	transcriber repositories.Transcriber
	onClose     func(*Session)

	in  chan *telephony.Message
	out chan OutboundFrame

	stop     chan struct{}
	stopOnce sync.Once

	state      atomic.Int32
	generation atomic.Uint64
	dropped    atomic.Bool

	// Event-loop-owned; never touched from other goroutines.
	sess         repositories.BackendSession
	events       <-chan repositories.BackendEvent
	detector     *speechDetector
	tap          repositories.TranscriberStream
	generating   bool
	reconnected  bool
	startSeen    bool
	inSeq        uint64
	outSeq       uint64
	inAudio      time.Duration
	outAudio     time.Duration
	pendingIn    []int16
	interruptC   <-chan time.Time
	termErr      error
	termOutcome  string
	interrupting bool
}

// NewSession creates a session for one call. Run must be called to start it.
func NewSession(call entities.Call, backend repositories.VoiceBackend, cfg Config, logger *zap.Logger) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		id:      uuid.New().String(),
		call:    call,
		cfg:     cfg,
		backend: backend,
		logger: logger.With(
			zap.String("callID", call.CallID),
			zap.String("streamID", call.StreamID),
		),
		in:          make(chan *telephony.Message, 64),
		out:         make(chan OutboundFrame, 256),
		stop:        make(chan struct{}),
		detector:    newSpeechDetector(cfg.BargeInThreshold, cfg.BargeInMinFrames),
		termOutcome: metrics.OutcomeCompleted,
	}
}

// SetTranscriber attaches the optional transcription tap. Must be called
// before Run.
func (s *Session) SetTranscriber(t repositories.Transcriber) { s.transcriber = t }

// OnClose registers a teardown callback (registry removal). Must be called
// before Run.
func (s *Session) OnClose(fn func(*Session)) { s.onClose = fn }

// ID returns the internal session id.
func (s *Session) ID() string { return s.id }

// Call returns the call identity.
func (s *Session) Call() entities.Call { return s.call }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Generation returns the current outbound generation id.
func (s *Session) Generation() uint64 { return s.generation.Load() }

// Err returns the termination error, if the session ended abnormally.
func (s *Session) Err() error { return s.termErr }

// Stale reports whether an outbound frame belongs to an interrupted
// generation and must be dropped by the write pump.
func (s *Session) Stale(fr OutboundFrame) bool {
	return fr.Kind == OutboundMedia && fr.Generation != s.generation.Load()
}

// Deliver hands one parsed telephony envelope to the session. It blocks when
// the session is busy (backpressure onto the socket reader) and fails with
// ErrClosed once the session stopped.
func (s *Session) Deliver(msg *telephony.Message) error {
	select {
	case s.in <- msg:
		return nil
	case <-s.stop:
		return domain.ErrClosed
	}
}

// Outbound is the stream consumed by the telephony write pump. It is closed
// at teardown; the pump should then send a graceful WebSocket close.
func (s *Session) Outbound() <-chan OutboundFrame { return s.out }

// Stop requests teardown (hang-up, socket close, capacity shedding, process
// shutdown). Idempotent; unblocks the event loop promptly.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// NoteTelephonyDrop records that the telephony socket dropped without a stop
// message, so the call outcome is reported as a drop rather than completed.
func (s *Session) NoteTelephonyDrop() {
	s.dropped.Store(true)
}

// Run drives the session to completion. It returns after both connections
// are released; the error reflects abnormal termination only.
func (s *Session) Run(ctx context.Context) error {
	metrics.ActiveCalls.Inc()
	defer s.teardown()

	s.setState(StateConnecting)
	sess, err := s.connectBackend(ctx)
	if err != nil {
		s.termErr = err
		s.termOutcome = metrics.OutcomeBackendFailure
		s.logger.Error("backend connect failed, terminating call", zap.Error(err))
		return err
	}
	s.sess = sess
	s.events = sess.Events()
	s.openTap(ctx)
	s.setState(StateActive)
	s.logger.Info("call active",
		zap.Int("backendInputRate", sess.InputFormat().SampleRate),
		zap.Int("backendOutputRate", sess.OutputFormat().SampleRate))

	for {
		select {
		case <-ctx.Done():
			s.drainOutbound()
			return s.termErr

		case <-s.stop:
			s.drainOutbound()
			return s.termErr

		case msg := <-s.in:
			if done := s.handleTelephony(ctx, msg); done {
				s.drainOutbound()
				return s.termErr
			}

		case ev, ok := <-s.events:
			if !ok {
				s.termErr = fmt.Errorf("backend closed the session: %w", domain.ErrClosed)
				s.termOutcome = metrics.OutcomeBackendFailure
				s.logger.Warn("backend event stream ended, terminating call")
				return s.termErr
			}
			if done := s.handleBackend(ctx, ev); done {
				return s.termErr
			}

		case <-s.interruptC:
			s.logger.Warn("backend did not confirm interrupt in time, resuming")
			s.finishInterrupt()
		}
	}
}

// connectBackend performs the handshake with one bounded retry on timeout.
// A double timeout is surfaced as an unavailable backend.
func (s *Session) connectBackend(ctx context.Context) (repositories.BackendSession, error) {
	cfg := repositories.SessionConfig{
		Model:        s.cfg.Model,
		SystemPrompt: s.cfg.SystemPrompt,
		Voice:        s.cfg.Voice,
	}
	sess, err := s.backend.Connect(ctx, cfg)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, domain.ErrBackendTimeout) {
		return nil, err
	}
	s.logger.Warn("backend handshake timed out, retrying once", zap.Error(err))
	sess, err = s.backend.Connect(ctx, cfg)
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, domain.ErrBackendTimeout) {
		return nil, fmt.Errorf("backend handshake timed out twice: %w", domain.ErrBackendUnavailable)
	}
	return nil, err
}

func (s *Session) openTap(ctx context.Context) {
	if s.transcriber == nil {
		return
	}
	tap, err := s.transcriber.OpenStream(ctx, repositories.AudioConfig{
		SampleRate: s.sess.InputFormat().SampleRate,
		Encoding:   "LINEAR16",
		Language:   s.cfg.TranscribeLanguage,
	})
	if err != nil {
		s.logger.Warn("transcription tap unavailable", zap.Error(err))
		return
	}
	s.tap = tap
	go func() {
		for text := range tap.Results() {
			s.logger.Info("caller transcript", zap.String("text", text))
		}
	}()
}

// handleTelephony processes one inbound envelope. Returns true when the call
// should end (stop message).
func (s *Session) handleTelephony(ctx context.Context, msg *telephony.Message) bool {
	switch msg.Event {
	case telephony.EventConnected:
		// Idempotent no-op.
		return false

	case telephony.EventStart:
		// Duplicate starts are idempotent no-ops after the first; the first
		// was consumed before the session existed.
		if s.startSeen {
			s.logger.Debug("duplicate start message ignored")
			return false
		}
		s.startSeen = true
		return false

	case telephony.EventMedia:
		s.handleMedia(ctx, msg)
		return false

	case telephony.EventStop:
		s.logger.Info("stop received, draining")
		return true

	case telephony.EventMark:
		return false

	default:
		s.logger.Warn("unknown telephony event dropped", zap.String("event", msg.Event))
		metrics.DroppedFrames.WithLabelValues("malformed").Inc()
		return false
	}
}

// handleMedia converts one inbound μ-law frame and forwards it to the
// backend. Inbound audio keeps flowing during an interrupt.
func (s *Session) handleMedia(ctx context.Context, msg *telephony.Message) {
	payload, err := msg.AudioPayload()
	if err != nil {
		s.logger.Warn("dropping malformed media frame", zap.Error(err))
		metrics.DroppedFrames.WithLabelValues("malformed").Inc()
		return
	}
	samples, err := audio.DecodeMulaw(payload)
	if err != nil {
		s.logger.Warn("dropping undecodable media frame", zap.Error(err))
		metrics.DroppedFrames.WithLabelValues("malformed").Inc()
		return
	}
	s.inSeq++
	frame := entities.Frame{
		SampleRate: audio.RateTelephony,
		Encoding:   entities.EncodingMulaw8,
		Payload:    payload,
		Seq:        s.inSeq,
		CapturedAt: time.Now(),
	}
	s.inAudio += frame.Duration()

	if s.cfg.BargeInMode == BargeInModeEnergy {
		if s.detector.Sample(audio.PCM16ToBytes(samples)) {
			s.maybeInterrupt(ctx)
		}
	}

	targetRate := s.sess.InputFormat().SampleRate
	up, err := audio.Resample(samples, audio.RateTelephony, targetRate)
	if err != nil {
		s.logger.Warn("dropping frame on resample failure", zap.Error(err))
		metrics.DroppedFrames.WithLabelValues("malformed").Inc()
		return
	}
	s.pendingIn = append(s.pendingIn, up...)

	chunkSamples := int(int64(targetRate) * s.cfg.ChunkDuration.Milliseconds() / 1000)
	if len(s.pendingIn) < chunkSamples {
		return
	}
	chunk := audio.PCM16ToBytes(s.pendingIn)
	s.pendingIn = s.pendingIn[:0]

	if err := s.sess.SendAudio(ctx, chunk); err != nil {
		if errors.Is(err, domain.ErrClosed) {
			return
		}
		s.logger.Warn("backend send failed", zap.Error(err))
		return
	}
	if s.tap != nil {
		if err := s.tap.Write(chunk); err != nil {
			s.logger.Warn("transcription tap failed, disabling", zap.Error(err))
			_ = s.tap.Close()
			s.tap = nil
		}
	}
}

// handleBackend processes one backend event. Returns true when the call must
// terminate.
func (s *Session) handleBackend(ctx context.Context, ev repositories.BackendEvent) bool {
	switch ev.Kind {
	case repositories.EventAudioChunk:
		if s.interrupting {
			// Chunks from the aborted generation; drop.
			metrics.DroppedFrames.WithLabelValues("stale_generation").Inc()
			return false
		}
		s.generating = true
		s.forwardAudio(ev.Audio)
		return false

	case repositories.EventSpeechStarted:
		if s.cfg.BargeInMode == BargeInModeBackend {
			s.maybeInterrupt(ctx)
		}
		return false

	case repositories.EventSpeechEnded:
		return false

	case repositories.EventGenerationInterrupted:
		if s.interrupting {
			s.finishInterrupt()
			return false
		}
		// Server-side activity detection beat the local signal; flush what
		// we have buffered for the dead generation.
		s.logger.Info("backend reported interruption, flushing outbound audio")
		s.abortGeneration()
		s.detector.Reset()
		return false

	case repositories.EventTurnComplete:
		s.generating = false
		s.detector.Reset()
		return false

	case repositories.EventError:
		if errors.Is(ev.Err, domain.ErrBackendTimeout) && !s.reconnected {
			return !s.reconnectBackend(ctx)
		}
		s.termErr = ev.Err
		s.termOutcome = metrics.OutcomeBackendFailure
		s.logger.Error("backend hard error, terminating call", zap.Error(ev.Err))
		return true

	default:
		return false
	}
}

// forwardAudio converts one backend PCM chunk to μ-law and queues it for the
// write pump, tagged with the current generation.
func (s *Session) forwardAudio(pcm []byte) {
	fromRate := s.sess.OutputFormat().SampleRate
	down, err := audio.Resample(audio.BytesToPCM16(pcm), fromRate, audio.RateTelephony)
	if err != nil {
		s.logger.Warn("dropping backend chunk on resample failure", zap.Error(err))
		metrics.DroppedFrames.WithLabelValues("malformed").Inc()
		return
	}
	mulaw := audio.EncodeMulaw(down)
	data, err := telephony.EncodeMedia(s.call.StreamID, mulaw)
	if err != nil {
		s.logger.Warn("dropping unencodable media frame", zap.Error(err))
		metrics.DroppedFrames.WithLabelValues("malformed").Inc()
		return
	}
	s.outSeq++
	frame := entities.Frame{
		SampleRate: audio.RateTelephony,
		Encoding:   entities.EncodingMulaw8,
		Payload:    mulaw,
		Seq:        s.outSeq,
	}
	s.outAudio += frame.Duration()
	s.pushOutbound(OutboundFrame{
		Kind:       OutboundMedia,
		Generation: s.generation.Load(),
		Seq:        s.outSeq,
		Data:       data,
	})
}

// maybeInterrupt acts on a speech-onset signal. Spurious triggers while the
// AI is silent must not reach the backend.
func (s *Session) maybeInterrupt(ctx context.Context) {
	if s.State() != StateActive {
		return
	}
	if !s.aiSpeaking() {
		return
	}
	s.beginInterrupt(ctx)
}

func (s *Session) aiSpeaking() bool {
	return s.generating || len(s.out) > 0
}

func (s *Session) beginInterrupt(ctx context.Context) {
	s.setState(StateInterrupting)
	s.interrupting = true
	metrics.BargeIns.Inc()
	s.logger.Info("barge-in detected, interrupting generation",
		zap.Uint64("generation", s.generation.Load()))

	if err := s.sess.Interrupt(ctx); err != nil && !errors.Is(err, domain.ErrClosed) {
		s.logger.Warn("interrupt request failed", zap.Error(err))
	}
	s.abortGeneration()
	s.interruptC = time.After(s.cfg.InterruptTimeout)
}

// abortGeneration bumps the generation id, empties the local outbound buffer
// and tells the provider to discard unplayed audio. Already-sent audio is
// never rewound.
func (s *Session) abortGeneration() {
	gen := s.generation.Add(1)
	for {
		select {
		case fr := <-s.out:
			if fr.Kind == OutboundMedia {
				metrics.DroppedFrames.WithLabelValues("stale_generation").Inc()
			}
		default:
			if data, err := telephony.EncodeClear(s.call.StreamID); err == nil {
				s.pushOutbound(OutboundFrame{Kind: OutboundClear, Generation: gen, Data: data})
			}
			s.generating = false
			return
		}
	}
}

func (s *Session) finishInterrupt() {
	s.interrupting = false
	s.interruptC = nil
	s.detector.Reset()
	s.setState(StateActive)
}

// reconnectBackend makes the single bounded mid-call reconnect attempt.
// Returns true on success.
func (s *Session) reconnectBackend(ctx context.Context) bool {
	s.reconnected = true
	s.logger.Warn("backend timed out mid-call, attempting one reconnect")
	_ = s.sess.Close()

	sess, err := s.backend.Connect(ctx, repositories.SessionConfig{
		Model:        s.cfg.Model,
		SystemPrompt: s.cfg.SystemPrompt,
		Voice:        s.cfg.Voice,
	})
	if err != nil {
		s.termErr = fmt.Errorf("mid-call reconnect failed: %w", err)
		s.termOutcome = metrics.OutcomeBackendFailure
		s.logger.Error("reconnect failed, terminating call", zap.Error(err))
		return false
	}
	s.sess = sess
	s.events = sess.Events()
	s.abortGeneration()
	if s.interrupting {
		s.finishInterrupt()
	}
	s.logger.Info("backend reconnected")
	return true
}

func (s *Session) pushOutbound(fr OutboundFrame) {
	select {
	case s.out <- fr:
	case <-s.stop:
	}
}

// drainOutbound lets the write pump flush buffered audio on intentional
// end-of-call, bounded by the drain grace deadline.
func (s *Session) drainOutbound() {
	s.setState(StateDraining)
	if len(s.out) == 0 {
		return
	}
	deadline := time.After(s.cfg.DrainTimeout)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-deadline:
			s.logger.Warn("drain deadline reached, discarding remaining audio",
				zap.Int("frames", len(s.out)))
			return
		case <-tick.C:
			if len(s.out) == 0 {
				return
			}
		}
	}
}

// teardown releases both connections together and removes the registry
// entry. Safe against partial initialization.
func (s *Session) teardown() {
	s.setState(StateClosed)
	s.Stop()
	if s.sess != nil {
		_ = s.sess.Close()
	}
	if s.tap != nil {
		_ = s.tap.Close()
	}
	close(s.out)
	if s.onClose != nil {
		s.onClose(s)
	}
	outcome := s.termOutcome
	if outcome == metrics.OutcomeCompleted && s.dropped.Load() {
		outcome = metrics.OutcomeTelephonyDrop
	}
	metrics.ActiveCalls.Dec()
	metrics.CallsTotal.WithLabelValues(outcome).Inc()
	s.logger.Info("session closed",
		zap.Uint64("framesIn", s.inSeq),
		zap.Uint64("framesOut", s.outSeq),
		zap.Duration("audioIn", s.inAudio),
		zap.Duration("audioOut", s.outAudio))
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}
