// Package runner is the coding-agent collaborator boundary: an external
// process that accepts a prompt plus a working directory, emits a stream of
// text/activity events, and terminates with success or failure.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EventType distinguishes the kinds of fragments the agent emits.
type EventType string

const (
	EventText     EventType = "text"     // free-form narration
	EventActivity EventType = "activity" // structured activity fragment (JSON line)
)

// Event is one fragment of agent output.
type Event struct {
	Type EventType
	Text string
	At   time.Time
}

// Result is the agent's terminal outcome with cost accounting.
type Result struct {
	Success  bool
	Error    string
	CostUSD  float64
	Turns    int
	Duration time.Duration
}

// Request describes one agent invocation.
type Request struct {
	Prompt    string
	Workspace string
}

// Agent is the contract the orchestrator drives. Run blocks until the agent
// process terminates, invoking emit for every output fragment in order.
// Cancelling ctx is the cooperative stop signal.
type Agent interface {
	Run(ctx context.Context, req Request, emit func(Event)) (*Result, error)
}

// ExecAgent spawns a coding-agent CLI, writes the prompt to stdin, and scans
// stdout line-by-line into events.
type ExecAgent struct {
	bin    string
	args   []string
	logger zerolog.Logger
}

// NewExecAgent creates an ExecAgent for the given binary and extra args.
func NewExecAgent(bin string, args []string, logger zerolog.Logger) *ExecAgent {
	return &ExecAgent{
		bin:    bin,
		args:   args,
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Run starts the agent process in the workspace and streams its output.
func (a *ExecAgent) Run(ctx context.Context, req Request, emit func(Event)) (*Result, error) {
	if req.Workspace == "" {
		return nil, fmt.Errorf("runner: workspace is required")
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, a.bin, a.args...)
	cmd.Dir = req.Workspace
	cmd.Stdin = strings.NewReader(req.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("runner: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runner: starting %s: %w", a.bin, err)
	}

	a.logger.Info().
		Str("bin", a.bin).
		Str("workspace", req.Workspace).
		Int("prompt_bytes", len(req.Prompt)).
		Msg("agent process started")

	turns := 0
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		turns++
		typ := EventText
		if strings.HasPrefix(strings.TrimSpace(line), "{") {
			typ = EventActivity
		}
		emit(Event{Type: typ, Text: line, At: time.Now().UTC()})
	}

	waitErr := cmd.Wait()
	res := &Result{
		Success:  waitErr == nil,
		Turns:    turns,
		Duration: time.Since(start),
	}
	if waitErr != nil {
		msg := waitErr.Error()
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg = fmt.Sprintf("%s: %s", msg, truncate(s, 500))
		}
		if ctx.Err() != nil {
			msg = fmt.Sprintf("agent stopped: %v", ctx.Err())
		}
		res.Error = msg
	}

	a.logger.Info().
		Bool("success", res.Success).
		Int("turns", res.Turns).
		Dur("duration", res.Duration).
		Msg("agent process finished")
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ScriptedAgent replays canned events; used in tests and dry runs.
type ScriptedAgent struct {
	Events  []Event
	Outcome Result
	// RunFn, when set, fully overrides behavior per call.
	RunFn func(ctx context.Context, req Request, emit func(Event)) (*Result, error)

	Calls int
}

// Run replays the scripted events, honoring ctx cancellation.
func (a *ScriptedAgent) Run(ctx context.Context, req Request, emit func(Event)) (*Result, error) {
	a.Calls++
	if a.RunFn != nil {
		return a.RunFn(ctx, req, emit)
	}
	for _, ev := range a.Events {
		select {
		case <-ctx.Done():
			return &Result{Success: false, Error: "agent stopped: " + ctx.Err().Error()}, nil
		default:
		}
		emit(ev)
	}
	out := a.Outcome
	return &out, nil
}
