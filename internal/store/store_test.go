package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "forge.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetProject(t *testing.T) {
	s := newTestStore(t)

	row := &ProjectRow{
		ID:            "p1",
		Description:   "a todo app with auth",
		ProjectType:   "web",
		Status:        "queued",
		WorkspacePath: "/tmp/forge/p1",
		BuildPrompt:   "Build a todo app",
		StackHint:     "react",
		DeployTarget:  "local",
		LocalPort:     3000,
	}
	require.NoError(t, s.SaveProject(row))
	assert.NotZero(t, row.CreatedAt)
	assert.NotZero(t, row.UpdatedAt)

	got, err := s.GetProject("p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a todo app with auth", got.Description)
	assert.Equal(t, "react", got.StackHint)
	assert.Equal(t, 3000, got.LocalPort)
	assert.Equal(t, "queued", got.Status)
	assert.Empty(t, got.Error)
}

func TestGetProject_Missing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetProject("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveProject_Upsert(t *testing.T) {
	s := newTestStore(t)

	row := &ProjectRow{ID: "p1", Description: "d", ProjectType: "web", Status: "queued", WorkspacePath: "/w"}
	require.NoError(t, s.SaveProject(row))
	created := row.CreatedAt

	row.Status = "complete"
	row.DeployURL = "http://127.0.0.1:8080"
	row.CommitSHA = "abc123"
	require.NoError(t, s.SaveProject(row))

	got, err := s.GetProject("p1")
	require.NoError(t, err)
	assert.Equal(t, "complete", got.Status)
	assert.Equal(t, "http://127.0.0.1:8080", got.DeployURL)
	assert.Equal(t, "abc123", got.CommitSHA)
	assert.Equal(t, created, got.CreatedAt)
}

func TestListProjects(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UnixMilli()
	for i, st := range []string{"complete", "failed", "complete"} {
		require.NoError(t, s.SaveProject(&ProjectRow{
			ID:            string(rune('a' + i)),
			Description:   "d",
			ProjectType:   "web",
			Status:        st,
			WorkspacePath: "/w",
			CreatedAt:     base + int64(i)*10,
		}))
	}

	all, err := s.ListProjects("", 50)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")

	failed, err := s.ListProjects("failed", 50)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)

	limited, err := s.ListProjects("", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveProject(&ProjectRow{ID: "p1", Description: "d", ProjectType: "web", Status: "queued", WorkspacePath: "/w"}))

	base := time.Now().UnixMilli()
	events := []*EventRow{
		{ProjectID: "p1", EventType: "created", Summary: "build created", CreatedAt: base},
		{ProjectID: "p1", EventType: "phase_transition", Summary: "planning", CreatedAt: base + 10},
		{ProjectID: "p1", EventType: "clarification", Summary: "React or Vue?", Metadata: `{"options":["React","Vue"]}`, CreatedAt: base + 20},
	}
	for _, e := range events {
		require.NoError(t, s.AddEvent(e))
		assert.NotEmpty(t, e.ID, "id assigned on insert")
	}

	got, err := s.ListEvents("p1", 100)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "created", got[0].EventType, "oldest first")
	assert.Equal(t, "clarification", got[2].EventType)
	assert.JSONEq(t, `{"options":["React","Vue"]}`, got[2].Metadata)

	other, err := s.ListEvents("other", 100)
	require.NoError(t, err)
	assert.Empty(t, other)
}
