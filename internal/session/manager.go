package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/forge/internal/clarify"
	perrors "github.com/p-blackswan/forge/internal/errors"
)

// DefaultResponseTimeout is how long a session waits for an external answer
// before auto-resuming with a synthesized response.
const DefaultResponseTimeout = 5 * time.Minute

// DefaultResumeResponse is the synthesized answer used on timeout so a job is
// never left stalled indefinitely.
const DefaultResumeResponse = "No preference — use your best judgment and continue."

// Resolved carries an accepted clarification answer back to the orchestrator.
type Resolved struct {
	ProjectID string
	Question  string
	Response  string
	Match     clarify.MatchKind
	Matched   string // the option the response resolved to, when classified
	AutoResumed bool
}

// Manager owns all sessions, keyed by project ID, and runs the clarification
// detector over agent fragments. Resolved answers (external or auto-resume
// timeouts) are delivered on the channel returned by Resolutions.
type Manager struct {
	detector *clarify.Detector
	timeout  time.Duration
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	resolutions chan Resolved
}

// NewManager creates a session manager.
func NewManager(detector *clarify.Detector, responseTimeout time.Duration, logger zerolog.Logger) *Manager {
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	return &Manager{
		detector:    detector,
		timeout:     responseTimeout,
		logger:      logger.With().Str("component", "session.manager").Logger(),
		sessions:    make(map[string]*Session),
		resolutions: make(chan Resolved, 16),
	}
}

// Resolutions is the stream of accepted answers, in arrival order.
func (m *Manager) Resolutions() <-chan Resolved {
	return m.resolutions
}

// Create replaces any prior session for the project with a fresh running one.
func (m *Manager) Create(projectID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[projectID]; ok {
		m.stopTimer(old)
	}

	s := &Session{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		Status:          StatusRunning,
		LastActivity:    time.Now().UTC(),
		ResponseTimeout: m.timeout,
	}
	m.sessions[projectID] = s
	return s
}

// Get returns a snapshot of the project's session.
func (m *Manager) Get(projectID string) (Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	m.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	return s.Snapshot(), true
}

// HandleFragment runs the detector over an agent text fragment. When a
// blocking question is detected the session flips to waiting_for_input and
// the auto-resume timer is armed. Returns the detection and whether the
// session is now waiting.
func (m *Manager) HandleFragment(projectID, fragment string) (clarify.Detection, bool) {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	m.mu.Unlock()
	if !ok {
		return clarify.Detection{}, false
	}

	s.touch()
	if s.Waiting() {
		// Already blocked; further narration does not re-trigger.
		return clarify.Detection{}, true
	}

	det := m.detector.Detect(fragment)
	if !det.Blocking {
		return det, false
	}

	s.markWaiting(det)
	m.armTimer(s)

	m.logger.Info().
		Str("project_id", projectID).
		Int("confidence", det.Confidence).
		Int("options", len(det.Options)).
		Msg("blocking question detected, awaiting input")
	return det, true
}

// Respond accepts an external answer for a waiting session. A response is
// always accepted as valid text; classification against the presented
// options is advisory only.
func (m *Manager) Respond(projectID, response string) (*Resolved, error) {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session for project %s: %w", projectID, perrors.ErrNotFound)
	}
	if !s.Waiting() {
		return nil, perrors.ErrNotWaiting
	}

	return m.accept(s, response, false)
}

func (m *Manager) accept(s *Session, response string, auto bool) (*Resolved, error) {
	snap := s.Snapshot()
	kind, matched := clarify.ClassifyResponse(response, snap.PendingOptions)

	m.mu.Lock()
	m.stopTimer(s)
	m.mu.Unlock()

	question := s.resolve(response)

	res := Resolved{
		ProjectID:   s.ProjectID,
		Question:    question,
		Response:    response,
		Match:       kind,
		Matched:     matched,
		AutoResumed: auto,
	}

	m.logger.Info().
		Str("project_id", s.ProjectID).
		Str("match", string(kind)).
		Bool("auto_resumed", auto).
		Msg("clarification resolved")

	select {
	case m.resolutions <- res:
	default:
		m.logger.Warn().Str("project_id", s.ProjectID).Msg("resolution channel full, dropping")
	}
	return &res, nil
}

// Pending returns the current question and options for a waiting session.
func (m *Manager) Pending(projectID string) (question string, options []string, waiting bool) {
	snap, ok := m.Get(projectID)
	if !ok || snap.Status != StatusWaitingForInput {
		return "", nil, false
	}
	return snap.PendingQuestion, snap.PendingOptions, true
}

// Complete moves the project's session to the complete terminal state.
func (m *Manager) Complete(projectID string) { m.finish(projectID, StatusComplete) }

// Fail moves the project's session to the error terminal state.
func (m *Manager) Fail(projectID string) { m.finish(projectID, StatusError) }

// Discard removes the project's session entirely (used on cancel).
func (m *Manager) Discard(projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[projectID]; ok {
		m.stopTimer(s)
		delete(m.sessions, projectID)
	}
}

func (m *Manager) finish(projectID string, status Status) {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	if ok {
		m.stopTimer(s)
	}
	m.mu.Unlock()
	if ok {
		s.finish(status)
	}
}

// armTimer schedules the timeout auto-resume. Caller must not hold m.mu.
func (m *Manager) armTimer(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopTimer(s)
	timeout := s.ResponseTimeout
	if timeout <= 0 {
		timeout = m.timeout
	}
	s.timer = time.AfterFunc(timeout, func() {
		if !s.Waiting() {
			return
		}
		m.logger.Warn().
			Str("project_id", s.ProjectID).
			Dur("timeout", timeout).
			Msg("no response before timeout, auto-resuming")
		_, _ = m.accept(s, DefaultResumeResponse, true)
	})
}

// stopTimer cancels a pending auto-resume timer. Caller must hold m.mu.
func (m *Manager) stopTimer(s *Session) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
