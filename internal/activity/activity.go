// Package activity converts raw coding-agent output fragments into typed,
// deduplicable activity records.
package activity

import (
	"crypto/sha1"
	"encoding/hex"
	"sync"
)

// Status is the lifecycle state of one activity.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Type classifies what the agent did.
type Type string

const (
	TypeFileCreate Type = "file_create"
	TypeFileEdit   Type = "file_edit"
	TypeCommand    Type = "command"
	TypeThought    Type = "thought"
)

// Activity is one observable action taken by the agent. Activities are keyed
// by ID: a later record with the same ID replaces the prior one, which is how
// partial streaming updates to the same logical action converge.
type Activity struct {
	ID       string `json:"id"`
	Type     Type   `json:"type"`
	FilePath string `json:"file_path,omitempty"`
	Content  string `json:"content,omitempty"`
	Status   Status `json:"status"`
}

// StableID derives a deterministic activity ID from the action's identity,
// so two fragments describing the same logical action converge.
func StableID(t Type, path, content string) string {
	h := sha1.New()
	h.Write([]byte(string(t)))
	h.Write([]byte{0})
	h.Write([]byte(path))
	if path == "" {
		h.Write([]byte(content))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Feed is an ordered, ID-keyed collection of activities. Upsert replaces an
// existing record in place, preserving first-seen order.
type Feed struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Activity
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{byID: make(map[string]Activity)}
}

// Upsert inserts or replaces the record at a.ID. Returns true if the record
// was new (as opposed to an update of an existing one).
func (f *Feed) Upsert(a Activity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, exists := f.byID[a.ID]
	if !exists {
		f.order = append(f.order, a.ID)
	}
	f.byID[a.ID] = a
	return !exists
}

// Get returns the activity with the given ID.
func (f *Feed) Get(id string) (Activity, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.byID[id]
	return a, ok
}

// Snapshot returns the activities in first-seen order.
func (f *Feed) Snapshot() []Activity {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Activity, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.byID[id])
	}
	return out
}

// Len returns the number of distinct activities.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.order)
}
