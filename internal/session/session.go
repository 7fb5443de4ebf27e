// Package session tracks the clarification state machine for each build:
// whether the coding agent is running or blocked waiting for an external
// answer, and how that answer feeds back into the next prompt.
package session

import (
	"sync"
	"time"

	"github.com/p-blackswan/forge/internal/clarify"
)

// Status is the session state.
type Status string

const (
	StatusRunning         Status = "running"
	StatusWaitingForInput Status = "waiting_for_input"
	StatusComplete        Status = "complete"
	StatusError           Status = "error"
)

// Exchange is one resolved question/answer pair kept in the transcript.
type Exchange struct {
	Question string    `json:"question"`
	Response string    `json:"response"`
	At       time.Time `json:"at"`
}

// Session is the clarification state machine for one project.
// Invariant: PendingQuestion is set if and only if Status is
// waiting_for_input. Exactly one session exists per project at a time.
type Session struct {
	mu sync.RWMutex

	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Status          Status     `json:"status"`
	PendingQuestion string     `json:"pending_question,omitempty"`
	PendingOptions  []string   `json:"pending_options,omitempty"`
	Confidence      int        `json:"confidence,omitempty"`
	Context         []Exchange `json:"context"`
	WaitingSince    *time.Time `json:"waiting_since,omitempty"`
	LastActivity    time.Time  `json:"last_activity"`
	ResponseTimeout time.Duration `json:"-"`

	timer *time.Timer // auto-resume timer, armed only while waiting
}

// Snapshot returns a copy safe to read without locks.
func (s *Session) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := Session{
		ID:              s.ID,
		ProjectID:       s.ProjectID,
		Status:          s.Status,
		PendingQuestion: s.PendingQuestion,
		Confidence:      s.Confidence,
		LastActivity:    s.LastActivity,
		ResponseTimeout: s.ResponseTimeout,
	}
	cp.PendingOptions = append([]string(nil), s.PendingOptions...)
	cp.Context = append([]Exchange(nil), s.Context...)
	if s.WaitingSince != nil {
		t := *s.WaitingSince
		cp.WaitingSince = &t
	}
	return cp
}

// Waiting reports whether the session is blocked on an external answer.
func (s *Session) Waiting() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status == StatusWaitingForInput
}

// markWaiting flips the session into waiting_for_input. Caller owns the timer.
func (s *Session) markWaiting(det clarify.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.Status = StatusWaitingForInput
	s.PendingQuestion = det.Question
	s.PendingOptions = det.Options
	s.Confidence = det.Confidence
	s.WaitingSince = &now
	s.LastActivity = now
}

// resolve accepts an answer, appends it to the transcript, and returns to
// running. Returns the resolved question for continuation-prompt building.
func (s *Session) resolve(response string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	question := s.PendingQuestion
	now := time.Now().UTC()
	s.Context = append(s.Context, Exchange{Question: question, Response: response, At: now})
	s.Status = StatusRunning
	s.PendingQuestion = ""
	s.PendingOptions = nil
	s.Confidence = 0
	s.WaitingSince = nil
	s.LastActivity = now
	return question
}

// finish moves the session to a terminal state, discarding pending fields.
func (s *Session) finish(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Status = status
	s.PendingQuestion = ""
	s.PendingOptions = nil
	s.Confidence = 0
	s.WaitingSince = nil
	s.LastActivity = time.Now().UTC()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now().UTC()
	s.mu.Unlock()
}
