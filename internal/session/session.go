package session

import (
	"fmt"
	"sync"
	"time"

	"dmrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// Session holds the process-wide client state: the authenticated identity,
// the bearer credential, and the local-mode flag. It replaces the ambient
// globals the delivery path would otherwise reach for. Created at session
// start, reset on logout.
//
// Local mode flips to true the first time every candidate for any operation
// is exhausted, and is never cleared automatically: clearing requires a
// connectivity report proving the backend is reachable again, so the client
// cannot flap between modes on a single lucky request.
type Session struct {
	mu     sync.RWMutex
	userID string
	role   models.Role
	token  string

	localMode      bool
	localModeSince time.Time
	offlineReason  string

	logger *logrus.Logger
}

func New(userID string, role models.Role, token string, logger *logrus.Logger) (*Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("session requires a user id")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if role == "" {
		role = models.RoleStudent
	}
	return &Session{
		userID: userID,
		role:   role,
		token:  token,
		logger: logger,
	}, nil
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) Role() models.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Token returns the current bearer credential, possibly empty.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the bearer credential, e.g. after a refresh.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// LocalMode reports whether the client has given up on backend candidates
// and is operating purely against local storage.
func (s *Session) LocalMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localMode
}

// EnterLocalMode flips the client into local mode. Idempotent; only the
// first flip is recorded and logged.
func (s *Session) EnterLocalMode(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.localMode {
		return
	}
	s.localMode = true
	s.localModeSince = time.Now()
	s.offlineReason = reason

	s.logger.WithFields(logrus.Fields{
		"user":   s.userID,
		"reason": reason,
	}).Warn("Entering local mode; messages will be queued offline")
}

// ClearLocalMode returns the client to online operation. It refuses unless
// the supplied connectivity report actually observed a reachable backend.
func (s *Session) ClearLocalMode(report *models.ConnectivityReport) error {
	if report == nil || !report.BackendReachable {
		return fmt.Errorf("refusing to clear local mode: backend not verified reachable")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.localMode {
		return nil
	}
	s.localMode = false

	s.logger.WithFields(logrus.Fields{
		"user":         s.userID,
		"offline_for":  time.Since(s.localModeSince).String(),
		"was_offline":  s.offlineReason,
		"probe_ran_at": report.RanAt,
	}).Info("Local mode cleared after connectivity verification")
	return nil
}

// Reset clears the credential and local-mode state, as on logout.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.localMode = false
	s.offlineReason = ""
	s.logger.WithField("user", s.userID).Debug("Session reset")
}
