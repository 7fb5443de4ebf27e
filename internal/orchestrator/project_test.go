package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseQueued, PhasePlanning, true},
		{PhasePlanning, PhaseBuilding, true},
		{PhaseBuilding, PhaseTesting, true},
		{PhaseTesting, PhaseDeploying, true},
		{PhaseDeploying, PhaseComplete, true},

		// Phases may be skipped, but never revisited.
		{PhaseQueued, PhaseComplete, true},
		{PhasePlanning, PhaseDeploying, true},
		{PhaseBuilding, PhaseComplete, true},
		{PhaseBuilding, PhasePlanning, false},
		{PhaseTesting, PhaseBuilding, false},
		{PhaseBuilding, PhaseBuilding, false},

		// failed and cancelled are reachable from any non-terminal phase.
		{PhaseQueued, PhaseFailed, true},
		{PhaseTesting, PhaseCancelled, true},
		{PhaseDeploying, PhaseFailed, true},

		// Terminal phases admit nothing.
		{PhaseComplete, PhaseFailed, false},
		{PhaseFailed, PhasePlanning, false},
		{PhaseCancelled, PhaseCancelled, false},
		{PhaseFailed, PhaseFailed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPhaseTerminal(t *testing.T) {
	assert.True(t, PhaseComplete.Terminal())
	assert.True(t, PhaseFailed.Terminal())
	assert.True(t, PhaseCancelled.Terminal())
	assert.False(t, PhaseQueued.Terminal())
	assert.False(t, PhaseDeploying.Terminal())
}

func TestProject_SetPhase(t *testing.T) {
	p := &Project{Phase: PhaseQueued}

	assert.True(t, p.setPhase(PhasePlanning))
	assert.Equal(t, PhasePlanning, p.phase())
	assert.Nil(t, p.Snapshot().FinishedAt)

	assert.False(t, p.setPhase(PhaseQueued), "backwards move rejected")
	assert.Equal(t, PhasePlanning, p.phase())

	assert.True(t, p.setPhase(PhaseComplete))
	require.NotNil(t, p.Snapshot().FinishedAt, "terminal phase stamps FinishedAt")

	assert.False(t, p.setPhase(PhaseFailed), "terminal is final")
}

func TestProject_Snapshot(t *testing.T) {
	p := &Project{ID: "p1", Phase: PhaseBuilding, Name: "app"}
	snap := p.Snapshot()

	p.update(func(p *Project) { p.Name = "renamed" })
	assert.Equal(t, "app", snap.Name, "snapshot is a copy")
	assert.Equal(t, "renamed", p.Snapshot().Name)
}

func TestDeriveName(t *testing.T) {
	assert.Equal(t, "a todo app", deriveName("a todo app"))
	assert.Equal(t, "one two three four five six", deriveName("one two three four five six seven eight"))
	assert.Equal(t, "untitled build", deriveName("   "))
}

func TestBuildPrompt(t *testing.T) {
	got := buildPrompt(StartRequest{
		Description: "a recipe site",
		ProjectType: "web",
		StackHint:   "react",
	}, "recipe site")

	assert.Contains(t, got, "recipe site")
	assert.Contains(t, got, "Project type: web")
	assert.Contains(t, got, "Preferred stack: react")
	assert.Contains(t, got, "ask a single direct question and stop")
}

func TestContinuationPrompt(t *testing.T) {
	got := continuationPrompt(resolvedAnswer("React or Vue?", "2", "React"))
	assert.Contains(t, got, "React or Vue?")
	assert.Contains(t, got, "The answer is:")
	assert.Contains(t, got, "2")
	assert.Contains(t, got, `"React"`)

	noMatch := continuationPrompt(resolvedAnswer("React or Vue?", "use Svelte", ""))
	assert.NotContains(t, noMatch, "interpreted as")
}

func TestLooksLikeTest(t *testing.T) {
	assert.True(t, looksLikeTest("npm test"))
	assert.True(t, looksLikeTest("cd api && go test ./..."))
	assert.True(t, looksLikeTest("PYTEST_ADDOPTS=-q pytest tests/"))
	assert.False(t, looksLikeTest("npm install"))
	assert.False(t, looksLikeTest("go build ./..."))
}
