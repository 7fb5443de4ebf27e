package runner

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecAgent_StreamsOutput(t *testing.T) {
	script := `cat > /dev/null
echo "Creating file index.html"
echo '{"tool":"bash","command":"npm test"}'
echo ""
echo "done"`
	agent := NewExecAgent("/bin/sh", []string{"-c", script}, zerolog.Nop())

	var events []Event
	res, err := agent.Run(context.Background(), Request{
		Prompt:    "build something",
		Workspace: t.TempDir(),
	}, func(ev Event) { events = append(events, ev) })
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	require.Len(t, events, 3, "blank lines are skipped")
	assert.Equal(t, EventText, events[0].Type)
	assert.Equal(t, "Creating file index.html", events[0].Text)
	assert.Equal(t, EventActivity, events[1].Type, "JSON lines are activity events")
	assert.Equal(t, 3, res.Turns)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestExecAgent_PromptOnStdin(t *testing.T) {
	agent := NewExecAgent("/bin/sh", []string{"-c", "cat"}, zerolog.Nop())

	var events []Event
	res, err := agent.Run(context.Background(), Request{
		Prompt:    "echo the prompt back",
		Workspace: t.TempDir(),
	}, func(ev Event) { events = append(events, ev) })
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, events, 1)
	assert.Equal(t, "echo the prompt back", events[0].Text)
}

func TestExecAgent_FailureCapturesStderr(t *testing.T) {
	agent := NewExecAgent("/bin/sh", []string{"-c", "echo broken >&2; exit 3"}, zerolog.Nop())

	res, err := agent.Run(context.Background(), Request{Prompt: "p", Workspace: t.TempDir()}, func(Event) {})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "broken")
}

func TestExecAgent_Cancellation(t *testing.T) {
	agent := NewExecAgent("/bin/sh", []string{"-c", "sleep 30"}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := agent.Run(ctx, Request{Prompt: "p", Workspace: t.TempDir()}, func(Event) {})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "agent stopped")
}

func TestExecAgent_RequiresWorkspace(t *testing.T) {
	agent := NewExecAgent("/bin/sh", nil, zerolog.Nop())
	_, err := agent.Run(context.Background(), Request{Prompt: "p"}, func(Event) {})
	assert.Error(t, err)
}

func TestScriptedAgent_ReplaysEvents(t *testing.T) {
	agent := &ScriptedAgent{
		Events: []Event{
			{Type: EventText, Text: "one"},
			{Type: EventText, Text: "two"},
		},
		Outcome: Result{Success: true, Turns: 2},
	}

	var seen []string
	res, err := agent.Run(context.Background(), Request{Workspace: "/w"}, func(ev Event) {
		seen = append(seen, ev.Text)
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"one", "two"}, seen)
	assert.Equal(t, 1, agent.Calls)
}

func TestScriptedAgent_RunFnOverride(t *testing.T) {
	agent := &ScriptedAgent{
		Events:  []Event{{Type: EventText, Text: "ignored when RunFn is set"}},
		Outcome: Result{Success: true},
		RunFn: func(ctx context.Context, req Request, emit func(Event)) (*Result, error) {
			emit(Event{Type: EventText, Text: "from override"})
			return &Result{Success: false, Error: "scripted failure"}, nil
		},
	}

	var seen []string
	res, err := agent.Run(context.Background(), Request{Workspace: "/w"}, func(ev Event) {
		seen = append(seen, ev.Text)
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "scripted failure", res.Error)
	assert.Equal(t, []string{"from override"}, seen)
	assert.Equal(t, 1, agent.Calls)
}

func TestScriptedAgent_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agent := &ScriptedAgent{Events: []Event{{Type: EventText, Text: "never delivered"}}}
	res, err := agent.Run(ctx, Request{Workspace: "/w"}, func(Event) {
		t.Fatal("no events after cancellation")
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
}
