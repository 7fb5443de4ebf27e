package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/p-blackswan/forge/internal/activity"
	"github.com/p-blackswan/forge/internal/broadcast"
	"github.com/p-blackswan/forge/internal/deploy"
	perrors "github.com/p-blackswan/forge/internal/errors"
	"github.com/p-blackswan/forge/internal/notify"
	"github.com/p-blackswan/forge/internal/publish"
	"github.com/p-blackswan/forge/internal/resilience"
	"github.com/p-blackswan/forge/internal/runner"
	"github.com/p-blackswan/forge/internal/session"
)

// agentOutcome is why one agent invocation returned.
type agentOutcome int

const (
	outcomeDone agentOutcome = iota
	outcomeSuspended
	outcomeFailed
)

// run drives a build from planning to a terminal phase. The build timeout
// is wall clock: time spent waiting for a human answer counts against it.
func (o *Orchestrator) run(ctx context.Context, p *Project, j *jobState) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, o.cfg.BuildTimeout)
	defer cancel()

	o.transition(p, PhasePlanning)

	prompt := p.Prompt
	for {
		outcome, res := o.runAgentOnce(ctx, p, prompt)
		switch outcome {
		case outcomeSuspended:
			answer, ok := o.awaitAnswer(ctx, p, j)
			if !ok {
				// Timed out or cancelled while waiting.
				o.finishFromContext(ctx, p, start)
				return
			}
			prompt = continuationPrompt(answer)
			continue

		case outcomeFailed:
			msg := "agent failed"
			if res != nil && res.Error != "" {
				msg = res.Error
			}
			if ctx.Err() != nil {
				o.finishFromContext(ctx, p, start)
				return
			}
			o.fail(p, start, msg)
			return

		case outcomeDone:
			if res != nil {
				p.update(func(p *Project) {
					p.CostUSD += res.CostUSD
					p.Turns += res.Turns
				})
			}
			o.finishSuccess(ctx, p, start)
			return
		}
	}
}

// runAgentOnce invokes the agent once, feeding every output fragment
// through the activity parser and the clarification detector. A blocking
// question interrupts the invocation and suspends the build.
func (o *Orchestrator) runAgentOnce(ctx context.Context, p *Project, prompt string) (agentOutcome, *runner.Result) {
	agentCtx, interrupt := context.WithCancel(ctx)
	defer interrupt()

	emit := func(ev runner.Event) {
		o.handleFragment(p, ev.Text)
		if det, waiting := o.sessions.HandleFragment(p.ID, ev.Text); waiting && det.Blocking {
			o.onBlocked(p, det.Question, det.Options, det.Confidence)
			interrupt()
		}
	}

	var res *runner.Result
	err := o.breakers.Do(ctx, "agent", func(context.Context) error {
		var runErr error
		res, runErr = o.agent.Run(agentCtx, runner.Request{
			Prompt:    prompt,
			Workspace: p.Workspace,
		}, emit)
		// An interrupted invocation is not the agent's fault.
		if agentCtx.Err() != nil {
			return nil
		}
		if runErr != nil {
			return runErr
		}
		if res != nil && !res.Success {
			return fmt.Errorf("agent reported failure: %s", res.Error)
		}
		return nil
	})

	// An interrupt for clarification is a suspension, not a failure.
	if snap, ok := o.sessions.Get(p.ID); ok && snap.Status == session.StatusWaitingForInput {
		return outcomeSuspended, res
	}
	if ctx.Err() != nil {
		return outcomeFailed, res
	}
	if err != nil {
		o.logger.Error().Err(err).Str("project_id", p.ID).Msg("agent invocation failed")
		return outcomeFailed, res
	}
	if res != nil && !res.Success {
		return outcomeFailed, res
	}
	return outcomeDone, res
}

// handleFragment converges the fragment into the activity feed and advances
// the phase based on what the agent is observably doing.
func (o *Orchestrator) handleFragment(p *Project, fragment string) {
	act, ok := o.parser.Parse(fragment)
	if !ok {
		return
	}

	o.mu.Lock()
	feed := o.feeds[p.ID]
	o.mu.Unlock()
	if feed == nil {
		return
	}

	isNew := feed.Upsert(act)
	if isNew {
		o.metrics.ActivitiesTotal.WithLabelValues(string(act.Type)).Inc()
	}

	switch {
	case act.Type == activity.TypeCommand && looksLikeTest(act.Content):
		o.transition(p, PhaseTesting)
	case act.Type != activity.TypeThought:
		o.transition(p, PhaseBuilding)
	}

	a := act
	o.publishEnvelope(p.ID, broadcast.Envelope{
		Type:     broadcast.TypeActivity,
		Phase:    string(p.phase()),
		Activity: &a,
	})
}

// onBlocked publishes the open question and flips the stream to waiting.
func (o *Orchestrator) onBlocked(p *Project, question string, options []string, confidence int) {
	o.recordEvent(p.ID, "clarification", question)
	o.publishEnvelope(p.ID, broadcast.Envelope{
		Type:     broadcast.TypeProgress,
		Phase:    string(p.phase()),
		Status:   "waiting_for_input",
		Question: question,
		Options:  options,
	})
	o.logger.Info().
		Str("project_id", p.ID).
		Int("confidence", confidence).
		Msg("build suspended on blocking question")
}

// awaitAnswer blocks until the question is answered, auto-resumed, or the
// build's clock runs out.
func (o *Orchestrator) awaitAnswer(ctx context.Context, p *Project, j *jobState) (session.Resolved, bool) {
	select {
	case <-ctx.Done():
		return session.Resolved{}, false
	case res := <-j.resolutions:
		if res.AutoResumed {
			o.metrics.ClarificationsTotal.WithLabelValues("auto_resumed").Inc()
			o.recordEvent(p.ID, "response", "auto-resumed: "+res.Response)
		} else {
			o.recordEvent(p.ID, "response", res.Response)
		}
		o.publishEnvelope(p.ID, broadcast.Envelope{
			Type:    broadcast.TypeProgress,
			Phase:   string(p.phase()),
			Status:  "resumed",
			Message: res.Response,
		})
		return res, true
	}
}

// finishSuccess runs the deploy and publish collaborators, then completes.
// A collaborator failure marks the build failed; retryBuild can pick it up.
func (o *Orchestrator) finishSuccess(ctx context.Context, p *Project, start time.Time) {
	o.transition(p, PhaseDeploying)

	if o.deployer != nil {
		if err := o.deployBuild(ctx, p); err != nil {
			o.fail(p, start, "deploy failed: "+err.Error())
			return
		}
	}
	if o.publisher != nil {
		if err := o.publishBuild(ctx, p); err != nil {
			o.fail(p, start, "publish failed: "+err.Error())
			return
		}
	}

	o.transition(p, PhaseComplete)
	o.sessions.Complete(p.ID)
	o.persist(p)
	o.metrics.BuildsTotal.WithLabelValues(string(PhaseComplete)).Inc()
	o.metrics.BuildDuration.Observe(time.Since(start).Seconds())

	snap := p.Snapshot()
	o.hub.Close(p.ID, broadcast.Envelope{
		Type:      broadcast.TypeComplete,
		Status:    string(PhaseComplete),
		DeployURL: snap.DeployURL,
		GitHubURL: snap.GitHubURL,
	})
	o.notifyFinished(p)
	o.logger.Info().
		Str("project_id", p.ID).
		Dur("duration", time.Since(start)).
		Msg("build complete")
}

// deployBuild exposes the workspace through the configured target.
func (o *Orchestrator) deployBuild(ctx context.Context, p *Project) error {
	snap := p.Snapshot()
	var result *deploy.Result
	err := resilience.CallThrough(ctx, o.breakers, "deploy", o.callConfig(), func(ctx context.Context) error {
		var err error
		result, err = o.deployer.Deploy(ctx, deploy.Request{
			Name:      snap.Name,
			Workspace: snap.Workspace,
			Image:     o.cfg.DeployImage,
		})
		return err
	})
	if err != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("deploy").Inc()
		o.recordEvent(p.ID, "deploy", "failed: "+err.Error())
		o.logger.Error().Err(err).Str("project_id", p.ID).Msg("deploy failed")
		return err
	}

	p.update(func(p *Project) {
		p.DeployURL = result.URL
		p.LocalPort = result.LocalPort
	})
	o.recordEvent(p.ID, "deploy", result.URL)
	o.publishEnvelope(p.ID, broadcast.Envelope{
		Type:      broadcast.TypeProgress,
		Phase:     string(p.phase()),
		Message:   "build deployed",
		DeployURL: result.URL,
	})
	return nil
}

// publishBuild pushes the workspace to GitHub.
func (o *Orchestrator) publishBuild(ctx context.Context, p *Project) error {
	snap := p.Snapshot()
	var result *publish.Result
	err := resilience.CallThrough(ctx, o.breakers, "github", o.callConfig(), func(ctx context.Context) error {
		var err error
		result, err = o.publisher.Publish(ctx, snap.Name, snap.Workspace)
		return err
	})
	if err != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("github").Inc()
		o.recordEvent(p.ID, "publish", "failed: "+err.Error())
		o.logger.Error().Err(err).Str("project_id", p.ID).Msg("publish failed")
		return err
	}

	p.update(func(p *Project) {
		p.GitHubURL = result.URL
		p.CommitSHA = result.CommitSHA
	})
	o.recordEvent(p.ID, "publish", result.URL)
	o.publishEnvelope(p.ID, broadcast.Envelope{
		Type:      broadcast.TypeProgress,
		Phase:     string(p.phase()),
		Message:   "code published",
		GitHubURL: result.URL,
	})
	return nil
}

// finishFromContext resolves the terminal state after ctx ended mid-build:
// build timeout or an external cancel.
func (o *Orchestrator) finishFromContext(ctx context.Context, p *Project, start time.Time) {
	if p.phase() == PhaseCancelled {
		// CancelBuild already settled everything.
		return
	}
	if ctx.Err() == context.DeadlineExceeded {
		o.failWith(p, start, fmt.Sprintf("build exceeded %s", o.cfg.BuildTimeout), perrors.ErrBuildTimeout)
		return
	}
	o.fail(p, start, "build stopped")
}

func (o *Orchestrator) fail(p *Project, start time.Time, msg string) {
	o.failWith(p, start, msg, nil)
}

func (o *Orchestrator) failWith(p *Project, start time.Time, msg string, cause error) {
	if !p.setPhase(PhaseFailed) {
		return
	}
	p.update(func(p *Project) { p.Error = msg })
	o.sessions.Fail(p.ID)
	o.persist(p)
	o.recordEvent(p.ID, "failure", msg)
	o.metrics.BuildsTotal.WithLabelValues(string(PhaseFailed)).Inc()
	o.metrics.BuildDuration.Observe(time.Since(start).Seconds())

	envType := broadcast.TypeError
	if cause == perrors.ErrBuildTimeout {
		envType = broadcast.TypeTimeout
	}
	o.hub.Close(p.ID, broadcast.Envelope{
		Type:   envType,
		Status: string(PhaseFailed),
		Error:  msg,
	})
	o.notifyFinished(p)
	o.logger.Error().Str("project_id", p.ID).Str("error", msg).Msg("build failed")
}

// transition moves the build forward and publishes the phase change.
func (o *Orchestrator) transition(p *Project, to Phase) {
	if !p.setPhase(to) {
		return
	}
	o.persist(p)
	o.recordEvent(p.ID, "phase_transition", string(to))
	o.metrics.PhaseTransitions.WithLabelValues(string(to)).Inc()
	o.publishEnvelope(p.ID, broadcast.Envelope{
		Type:  broadcast.TypeProgress,
		Phase: string(to),
	})
}

func (o *Orchestrator) notifyFinished(p *Project) {
	if o.notifier == nil {
		return
	}
	snap := p.Snapshot()
	n := notify.BuildNotification{
		ProjectID: snap.ID,
		Name:      snap.Name,
		Status:    string(snap.Phase),
		Phase:     string(snap.Phase),
		DeployURL: snap.DeployURL,
		GitHubURL: snap.GitHubURL,
		Error:     snap.Error,
	}
	if snap.FinishedAt != nil {
		n.Duration = snap.FinishedAt.Sub(snap.CreatedAt).Round(time.Second).String()
	}
	if q, _, waiting := o.sessions.Pending(snap.ID); waiting {
		n.Question = q
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.notifier.BuildFinished(ctx, n); err != nil {
		o.metrics.CollaboratorErrors.WithLabelValues("slack").Inc()
	}
}

func (o *Orchestrator) callConfig() resilience.CallConfig {
	return resilience.CallConfig{
		MaxAttempts: o.cfg.CallMaxAttempts,
		Timeout:     o.cfg.CallTimeout,
	}
}

// looksLikeTest reports whether a shell command is a test run.
func looksLikeTest(command string) bool {
	c := strings.ToLower(command)
	for _, marker := range []string{"go test", "npm test", "pytest", "jest", "vitest", "cargo test", "mvn test"} {
		if strings.Contains(c, marker) {
			return true
		}
	}
	return false
}

// buildPrompt synthesizes the agent's initial instruction.
func buildPrompt(req StartRequest, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Build the following project: %s\n\n", name)
	fmt.Fprintf(&b, "Description:\n%s\n\n", strings.TrimSpace(req.Description))
	if req.ProjectType != "" {
		fmt.Fprintf(&b, "Project type: %s\n", req.ProjectType)
	}
	if req.StackHint != "" {
		fmt.Fprintf(&b, "Preferred stack: %s\n", req.StackHint)
	}
	b.WriteString("\nWork in the current directory. ")
	b.WriteString("Create all files needed for a working project, then run the test suite. ")
	b.WriteString("If you hit a decision you cannot make alone, ask a single direct question and stop.")
	return b.String()
}

// retryPrompt rebuilds the initial instruction for a retried build, folding
// in what went wrong last time and any requested changes.
func retryPrompt(req StartRequest, name, priorError, modifications string) string {
	var b strings.Builder
	b.WriteString(buildPrompt(req, name))
	if strings.TrimSpace(priorError) != "" {
		fmt.Fprintf(&b, "\n\nA previous attempt at this build failed with:\n  %s\n", strings.TrimSpace(priorError))
	}
	if strings.TrimSpace(modifications) != "" {
		fmt.Fprintf(&b, "\nApply these changes this time:\n%s\n", strings.TrimSpace(modifications))
	}
	b.WriteString("\nAvoid repeating the previous failure.")
	return b.String()
}

// continuationPrompt resumes a suspended build with the answer verbatim.
func continuationPrompt(res session.Resolved) string {
	var b strings.Builder
	b.WriteString("You previously asked:\n\n")
	fmt.Fprintf(&b, "  %s\n\n", strings.TrimSpace(res.Question))
	b.WriteString("The answer is:\n\n")
	fmt.Fprintf(&b, "  %s\n\n", strings.TrimSpace(res.Response))
	if res.Matched != "" {
		fmt.Fprintf(&b, "(interpreted as the option %q)\n\n", res.Matched)
	}
	b.WriteString("Continue the build from where you stopped.")
	return b.String()
}
