package signalling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"

	"radioftp/pkg/utils"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAnswerTimeout   = errors.New("timeout waiting for answer")
)

// Session represents a signaling session data
// Support vanilla ICE for now,
// TODO: support trickle ICE so the device can connect before gathering ends
type Session struct {
	ID     string `json:"sessionId"`
	Offer  string `json:"offer"`
	Answer string `json:"answer"`
}

// SessionStore persists sessions by ID. Get returns a zero Session when the
// ID is unknown.
type SessionStore interface {
	Get(ctx context.Context, id string) (Session, error)
	Set(ctx context.Context, s Session) error
	Update(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
}

// SessionServer implements SignalingServer over a SessionStore, keyed by a
// short code the user passes to the device.
type SessionServer struct {
	store        SessionStore
	pollInterval time.Duration
	pollAttempts int
	log          logging.LeveledLogger
}

var _ SignalingServer = (*SessionServer)(nil)

func NewSessionServer(store SessionStore, pollInterval time.Duration, pollAttempts int, loggerFactory logging.LoggerFactory) *SessionServer {
	return &SessionServer{
		store:        store,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
		log:          loggerFactory.NewLogger("signalling"),
	}
}

func (s *SessionServer) CreateSession(ctx context.Context, offer string) (string, error) {
	// This code will be displayed to user, it is also the session ID
	code, err := utils.GenerateCode()
	if err != nil {
		return "", fmt.Errorf("error generating session code: %w", err)
	}
	if err := s.store.Set(ctx, Session{ID: code, Offer: offer}); err != nil {
		return "", fmt.Errorf("error creating session: %w", err)
	}
	s.log.Debugf("Session %s created", code)
	return code, nil
}

func (s *SessionServer) GetOffer(ctx context.Context, sessionID string) (string, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("error fetching session %s: %w", sessionID, err)
	}
	if session.ID == "" || session.Offer == "" {
		return "", fmt.Errorf("%w: %s has no offer", ErrSessionNotFound, sessionID)
	}
	return session.Offer, nil
}

func (s *SessionServer) UpdateAnswer(ctx context.Context, sessionID, answer string) error {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("error checking session existence for %s: %w", sessionID, err)
	}
	if session.ID == "" {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err := s.store.Update(ctx, sessionID, map[string]any{"answer": answer}); err != nil {
		return fmt.Errorf("error updating answer for session %s: %w", sessionID, err)
	}
	return nil
}

// WaitForAnswer polls the session until an answer appears. The session is
// deleted when the attempts run out.
func (s *SessionServer) WaitForAnswer(ctx context.Context, sessionID string) (string, error) {
	for i := range s.pollAttempts {
		session, err := s.store.Get(ctx, sessionID)
		switch {
		case err != nil:
			s.log.Warnf("Polling session %s: %v", sessionID, err)
		case session.ID == "":
			return "", fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		case session.Answer != "":
			return session.Answer, nil
		}

		if i < s.pollAttempts-1 {
			select {
			case <-time.After(s.pollInterval):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	if err := s.DeleteSession(ctx, sessionID); err != nil {
		return "", fmt.Errorf("error deleting session: %w", err)
	}
	return "", ErrAnswerTimeout
}

// DeleteSession removes a session. A missing session is not an error.
func (s *SessionServer) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("error checking session existence for %s: %w", sessionID, err)
	}
	if session.ID == "" {
		s.log.Debugf("Session %s not found, skipping deletion", sessionID)
		return nil
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("error deleting session %s: %w", sessionID, err)
	}
	return nil
}
