package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/domain"
)

// Registry is the process-wide map from call id to active session. It routes
// inbound telephony streams to sessions and bounds total concurrent calls.
// It performs no audio logic.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	capacity int
	logger   *zap.Logger
}

// NewRegistry creates a registry with the given concurrency ceiling.
// A non-positive capacity means unbounded.
func NewRegistry(capacity int, logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		capacity: capacity,
		logger:   logger,
	}
}

// Create registers a session under its call id. Fails with ErrDuplicateCall
// when the id is already present (a telephony protocol violation) and with
// ErrCapacityExceeded beyond the ceiling; in both cases no entry is added.
func (r *Registry) Create(callID string, s *Session) error {
	if callID == "" {
		return fmt.Errorf("registry: empty call id: %w", domain.ErrFormat)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; ok {
		return fmt.Errorf("registry: call %s: %w", callID, domain.ErrDuplicateCall)
	}
	if r.capacity > 0 && len(r.sessions) >= r.capacity {
		return fmt.Errorf("registry: %d active calls: %w", len(r.sessions), domain.ErrCapacityExceeded)
	}
	r.sessions[callID] = s
	r.logger.Info("session registered",
		zap.String("callID", callID),
		zap.Int("active", len(r.sessions)))
	return nil
}

// Lookup returns the session for a call id, or nil when absent.
func (r *Registry) Lookup(callID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[callID]
}

// Remove drops the entry for a call id. Idempotent.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; !ok {
		return
	}
	delete(r.sessions, callID)
	r.logger.Info("session removed",
		zap.String("callID", callID),
		zap.Int("active", len(r.sessions)))
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Drain stops every active session and waits for them to tear down, bounded
// by the context. Used at process shutdown.
func (r *Registry) Drain(ctx context.Context) {
	r.mu.RLock()
	active := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		active = append(active, s)
	}
	r.mu.RUnlock()

	for _, s := range active {
		s.Stop()
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			r.logger.Warn("drain deadline reached with sessions still active",
				zap.Int("remaining", r.Count()))
			return
		case <-ticker.C:
		}
	}
}
