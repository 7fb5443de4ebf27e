// Package broadcast fans out live progress events to subscribers, one
// explicit topic per project. Subscriber lifecycle (subscribe, unsubscribe,
// cleanup on disconnect) is owned here, not by implicit listener
// registration.
package broadcast

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/forge/internal/activity"
	"github.com/p-blackswan/forge/lru"
)

// Event types carried in the live feed envelopes.
const (
	TypeConnected = "connected"
	TypeActivity  = "activity"
	TypeProgress  = "progress"
	TypeComplete  = "complete"
	TypeTimeout   = "timeout"
	TypeError     = "error"
	TypeHeartbeat = "heartbeat"
)

// Envelope is one newline-delimited JSON event on the live feed.
type Envelope struct {
	Type      string             `json:"type"`
	ProjectID string             `json:"project_id,omitempty"`
	Phase     string             `json:"phase,omitempty"`
	Status    string             `json:"status,omitempty"`
	Message   string             `json:"message,omitempty"`
	Activity  *activity.Activity `json:"activity,omitempty"`
	Question  string             `json:"question,omitempty"`
	Options   []string           `json:"options,omitempty"`
	DeployURL string             `json:"deploy_url,omitempty"`
	GitHubURL string             `json:"github_url,omitempty"`
	Error     string             `json:"error,omitempty"`
	At        time.Time          `json:"at"`
}

const (
	subscriberBuffer = 64
	replayPerProject = 100
)

// Subscriber is one live-feed consumer. Events are delivered on a buffered
// channel; the channel is closed when the project terminates or the
// subscriber unsubscribes.
type Subscriber struct {
	projectID string
	ch        chan Envelope
	closeOnce sync.Once
}

// Events returns the subscriber's delivery channel.
func (s *Subscriber) Events() <-chan Envelope { return s.ch }

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

type topic struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
	done bool
}

// Hub owns all topics. Publishing never blocks: a subscriber whose buffer is
// full misses that event, and one that has gone away is simply dropped.
type Hub struct {
	mu     sync.Mutex
	topics map[string]*topic
	replay *lru.Cache[string, []Envelope]
	logger zerolog.Logger
}

// NewHub creates a hub whose replay cache retains the most recent feeds of up
// to replayProjects projects.
func NewHub(replayProjects int, logger zerolog.Logger) *Hub {
	if replayProjects < 1 {
		replayProjects = 64
	}
	return &Hub{
		topics: make(map[string]*topic),
		replay: lru.New[string, []Envelope](replayProjects),
		logger: logger.With().Str("component", "broadcast").Logger(),
	}
}

func (h *Hub) topicFor(projectID string, create bool) *topic {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[projectID]
	if !ok && create {
		t = &topic{subs: make(map[*Subscriber]struct{})}
		h.topics[projectID] = t
	}
	return t
}

// Subscribe attaches a new subscriber to the project's feed. A connected
// envelope is delivered immediately, followed by a replay of the project's
// recent events so late subscribers see the feed so far.
func (h *Hub) Subscribe(projectID string) *Subscriber {
	t := h.topicFor(projectID, true)

	sub := &Subscriber{
		projectID: projectID,
		ch:        make(chan Envelope, subscriberBuffer),
	}

	sub.ch <- Envelope{Type: TypeConnected, ProjectID: projectID, At: time.Now().UTC()}

	if recent, ok := h.replay.Get(projectID); ok {
		for _, env := range recent {
			select {
			case sub.ch <- env:
			default:
			}
		}
	}

	t.mu.Lock()
	done := t.done
	if !done {
		t.subs[sub] = struct{}{}
	}
	t.mu.Unlock()

	if done {
		// Project already terminal; the replay carried the final event.
		sub.close()
	}
	return sub
}

// Unsubscribe detaches a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	if t := h.topicFor(sub.projectID, false); t != nil {
		t.mu.Lock()
		delete(t.subs, sub)
		t.mu.Unlock()
	}
	sub.close()
}

// Publish delivers an envelope to every subscriber of the project. Slow
// subscribers miss the event rather than blocking the publisher.
func (h *Hub) Publish(projectID string, env Envelope) {
	if env.At.IsZero() {
		env.At = time.Now().UTC()
	}
	env.ProjectID = projectID

	h.replay.Update(projectID, func(cur []Envelope, _ bool) []Envelope {
		cur = append(cur, env)
		if len(cur) > replayPerProject {
			cur = cur[len(cur)-replayPerProject:]
		}
		return cur
	})

	t := h.topicFor(projectID, false)
	if t == nil {
		return
	}

	t.mu.Lock()
	for sub := range t.subs {
		select {
		case sub.ch <- env:
		default:
			h.logger.Debug().Str("project_id", projectID).Msg("subscriber buffer full, event skipped")
		}
	}
	t.mu.Unlock()
}

// Close publishes the final envelope and closes the project's feed for every
// subscriber. Further subscribers get the replay and an immediately closed
// channel.
func (h *Hub) Close(projectID string, final Envelope) {
	h.Publish(projectID, final)

	t := h.topicFor(projectID, false)
	if t == nil {
		return
	}

	t.mu.Lock()
	t.done = true
	subs := make([]*Subscriber, 0, len(t.subs))
	for sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[*Subscriber]struct{})
	t.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// SubscriberCount returns the number of live subscribers for a project.
func (h *Hub) SubscriberCount(projectID string) int {
	t := h.topicFor(projectID, false)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
