// Package api wires the HTTP surface: the incoming-call webhook, the
// media-stream WebSocket endpoint, health and metrics.
package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/auth"
	"github.com/satriahrh/voicebridge/internal/bridge"
	"github.com/satriahrh/voicebridge/internal/config"
	"github.com/satriahrh/voicebridge/internal/metrics"
)

// Server holds the handlers' shared dependencies.
type Server struct {
	cfg         *config.Config
	registry    *bridge.Registry
	backend     repositories.VoiceBackend
	transcriber repositories.Transcriber
	tokens      *auth.Tokens
	logger      *zap.Logger
}

// NewServer creates the HTTP surface. transcriber may be nil.
func NewServer(
	cfg *config.Config,
	registry *bridge.Registry,
	backend repositories.VoiceBackend,
	transcriber repositories.Transcriber,
	tokens *auth.Tokens,
	logger *zap.Logger,
) *Server {
	return &Server{
		cfg:         cfg,
		registry:    registry,
		backend:     backend,
		transcriber: transcriber,
		tokens:      tokens,
		logger:      logger,
	}
}

// Register attaches all routes to the echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/health", s.health)
	e.POST("/incoming", s.incomingCall)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/media-stream", s.mediaStream)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		Service:     "voicebridge",
		ActiveCalls: s.registry.Count(),
	})
}

// incomingCall answers the provider's call webhook with a TwiML document
// that connects the call to our media-stream endpoint, carrying a freshly
// minted call token as a stream parameter.
func (s *Server) incomingCall(c echo.Context) error {
	callID := c.FormValue("CallSid")
	caller := c.FormValue("From")
	if callID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_call_sid",
			Message: "CallSid is required",
		})
	}

	token, err := s.tokens.Mint(callID, caller)
	if err != nil {
		s.logger.Error("failed to mint call token",
			zap.String("callID", callID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_mint_failed",
			Message: "Could not provision the call",
		})
	}

	streamURL, err := s.streamURL(c.Request())
	if err != nil {
		s.logger.Error("cannot determine stream url", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "stream_url_unavailable",
			Message: "Could not provision the call",
		})
	}

	s.logger.Info("incoming call",
		zap.String("callID", callID),
		zap.String("caller", caller))

	doc := TwiML{
		Say: "Connecting you to the assistant.",
		Connect: &Connect{
			Stream: Stream{
				URL: streamURL,
				Parameters: []Parameter{
					{Name: "token", Value: token},
					{Name: "caller", Value: caller},
				},
			},
		},
	}
	return c.XML(http.StatusOK, doc)
}

// streamURL derives the wss endpoint from PUBLIC_URL, falling back to the
// request host.
func (s *Server) streamURL(r *http.Request) (string, error) {
	base := s.cfg.PublicURL
	if base == "" {
		if r.Host == "" {
			return "", fmt.Errorf("no public url configured and no request host")
		}
		base = "https://" + r.Host
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse public url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/media-stream"
	return u.String(), nil
}

// sessionConfig translates process config into per-call tuning.
func (s *Server) sessionConfig() bridge.Config {
	model := s.cfg.GeminiModel
	if s.cfg.Provider == config.ProviderOpenAI {
		model = s.cfg.OpenAIModel
	}
	return bridge.Config{
		Model:              model,
		SystemPrompt:       s.cfg.SystemPrompt,
		Voice:              s.cfg.Voice,
		BargeInMode:        s.cfg.BargeInMode,
		BargeInThreshold:   s.cfg.BargeInThreshold,
		BargeInMinFrames:   s.cfg.BargeInMinFrames,
		ChunkDuration:      s.cfg.ChunkDuration,
		InterruptTimeout:   s.cfg.InterruptTimeout,
		DrainTimeout:       s.cfg.DrainTimeout,
		TranscribeLanguage: s.cfg.TranscribeLanguage,
	}
}

// startTimeout bounds the wait for the stream's start message after upgrade.
const startTimeout = 10 * time.Second
