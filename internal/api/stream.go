package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
	"github.com/satriahrh/voicebridge/domain/entities"
	"github.com/satriahrh/voicebridge/internal/bridge"
	"github.com/satriahrh/voicebridge/internal/metrics"
	"github.com/satriahrh/voicebridge/internal/telephony"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum envelope size from the peer. Media frames are small; this
	// mostly guards against garbage.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	// The stream is authenticated by the call token, not by origin.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// mediaStream upgrades the provider's stream connection, authenticates the
// start message and bridges the socket to a call session.
func (s *Server) mediaStream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return err
	}
	go s.runStream(conn)
	return nil
}

func (s *Server) runStream(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	start, err := s.awaitStart(conn)
	if err != nil {
		s.logger.Warn("stream rejected before start", zap.Error(err))
		s.closeWith(conn, websocket.ClosePolicyViolation, "invalid stream")
		return
	}

	callID := start.Start.CallSID
	token := start.Start.CustomParams["token"]
	claims, err := s.tokens.Validate(token, callID)
	if err != nil {
		s.logger.Warn("stream authentication failed",
			zap.String("callID", callID),
			zap.Error(err))
		s.closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
		return
	}

	call := entities.Call{
		CallID:   callID,
		StreamID: start.Start.StreamSID,
		Caller:   claims.Caller,
	}
	session := bridge.NewSession(call, s.backend, s.sessionConfig(), s.logger)
	if s.transcriber != nil && s.cfg.TranscribeEnabled {
		session.SetTranscriber(s.transcriber)
	}
	session.OnClose(func(sess *bridge.Session) {
		s.registry.Remove(sess.Call().CallID)
	})

	if err := s.registry.Create(callID, session); err != nil {
		reason := "capacity"
		if errors.Is(err, domain.ErrDuplicateCall) {
			reason = "duplicate"
		}
		metrics.RegistryRejections.WithLabelValues(reason).Inc()
		s.logger.Warn("stream rejected by registry",
			zap.String("callID", callID),
			zap.Error(err))
		s.closeWith(conn, websocket.CloseTryAgainLater, reason)
		return
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = session.Run(context.Background())
	}()

	writeDone := make(chan struct{})
	go s.writePump(conn, session, writeDone)

	if err := session.Deliver(start); err != nil {
		s.logger.Warn("session refused start message", zap.Error(err))
	}
	s.readPump(conn, session)

	session.Stop()
	<-writeDone
	<-runDone
}

// awaitStart reads envelopes until the start message arrives. The provider
// sends connected first; anything else before start is a protocol violation.
func (s *Server) awaitStart(conn *websocket.Conn) (*telephony.Message, error) {
	deadline := time.Now().Add(startTimeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		msg, err := telephony.Parse(data)
		if err != nil {
			return nil, err
		}
		switch msg.Event {
		case telephony.EventConnected:
			continue
		case telephony.EventStart:
			_ = conn.SetReadDeadline(time.Time{})
			return msg, nil
		default:
			return nil, errors.New("unexpected event before start: " + msg.Event)
		}
	}
}

// readPump forwards inbound envelopes to the session until the socket drops
// or the session closes.
func (s *Server) readPump(conn *websocket.Conn, session *bridge.Session) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				session.NoteTelephonyDrop()
				s.logger.Warn("telephony socket dropped",
					zap.String("callID", session.Call().CallID),
					zap.Error(err))
			}
			return
		}
		msg, err := telephony.Parse(data)
		if err != nil {
			metrics.DroppedFrames.WithLabelValues("malformed").Inc()
			s.logger.Debug("dropping malformed envelope", zap.Error(err))
			continue
		}
		if err := session.Deliver(msg); err != nil {
			return
		}
	}
}

// writePump drains the session's outbound stream onto the socket, skipping
// frames from interrupted generations. When the stream closes it sends a
// graceful close frame.
func (s *Server) writePump(conn *websocket.Conn, session *bridge.Session, done chan<- struct{}) {
	defer close(done)
	for fr := range session.Outbound() {
		if session.Stale(fr) {
			metrics.DroppedFrames.WithLabelValues("stale_generation").Inc()
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, fr.Data); err != nil {
			s.logger.Warn("telephony write failed",
				zap.String("callID", session.Call().CallID),
				zap.Error(err))
			session.Stop()
			return
		}
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}
