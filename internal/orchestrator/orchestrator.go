// Package orchestrator drives coding-agent build jobs through the
// queued → planning → building → testing → deploying → complete lifecycle,
// pausing for human clarification when the agent asks a blocking question.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/forge/internal/activity"
	"github.com/p-blackswan/forge/internal/broadcast"
	"github.com/p-blackswan/forge/internal/config"
	"github.com/p-blackswan/forge/internal/deploy"
	perrors "github.com/p-blackswan/forge/internal/errors"
	"github.com/p-blackswan/forge/internal/metrics"
	"github.com/p-blackswan/forge/internal/notify"
	"github.com/p-blackswan/forge/internal/publish"
	"github.com/p-blackswan/forge/internal/resilience"
	"github.com/p-blackswan/forge/internal/runner"
	"github.com/p-blackswan/forge/internal/session"
	"github.com/p-blackswan/forge/internal/store"
)

// StartRequest describes a new build job.
type StartRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ProjectType  string `json:"project_type"`
	StackHint    string `json:"stack_hint"`
	DeployTarget string `json:"deploy_target"` // "kubernetes" or "local"; empty picks the configured default
}

// jobState tracks one running build's control handles.
type jobState struct {
	cancel      context.CancelFunc
	resolutions chan session.Resolved
}

// Orchestrator owns all build jobs.
type Orchestrator struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *store.Store
	hub      *broadcast.Hub
	sessions *session.Manager
	agent    runner.Agent
	parser   *activity.Parser
	breakers *resilience.Registry
	metrics  *metrics.Metrics

	publisher publish.Publisher // nil when GitHub is not configured
	deployer  deploy.Target
	notifier  notify.Notifier // nil when Slack is not configured

	mu        sync.Mutex
	projects  map[string]*Project
	feeds     map[string]*activity.Feed
	jobs      map[string]*jobState
	running   int
	lastStart time.Time

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Store     *store.Store
	Hub       *broadcast.Hub
	Sessions  *session.Manager
	Agent     runner.Agent
	Breakers  *resilience.Registry
	Metrics   *metrics.Metrics
	Publisher publish.Publisher
	Deployer  deploy.Target
	Notifier  notify.Notifier
}

// New creates an orchestrator and starts its resolution dispatcher.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
		store:     deps.Store,
		hub:       deps.Hub,
		sessions:  deps.Sessions,
		agent:     deps.Agent,
		parser:    activity.NewParser(),
		breakers:  deps.Breakers,
		metrics:   deps.Metrics,
		publisher: deps.Publisher,
		deployer:  deps.Deployer,
		notifier:  deps.Notifier,
		projects:  make(map[string]*Project),
		feeds:     make(map[string]*activity.Feed),
		jobs:      make(map[string]*jobState),
		baseCtx:   ctx,
		stop:      cancel,
	}

	o.wg.Add(1)
	go o.dispatchResolutions()
	return o
}

// Close stops the dispatcher and cancels all running builds.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, j := range o.jobs {
		j.cancel()
	}
	o.mu.Unlock()

	o.stop()
	o.wg.Wait()
}

// dispatchResolutions forwards accepted clarification answers to the
// per-build run loop that is waiting on them.
func (o *Orchestrator) dispatchResolutions() {
	defer o.wg.Done()
	for {
		select {
		case <-o.baseCtx.Done():
			return
		case res := <-o.sessions.Resolutions():
			o.mu.Lock()
			j, ok := o.jobs[res.ProjectID]
			o.mu.Unlock()
			if !ok {
				o.logger.Warn().Str("project_id", res.ProjectID).Msg("resolution for unknown job, dropping")
				continue
			}
			select {
			case j.resolutions <- res:
			default:
				o.logger.Warn().Str("project_id", res.ProjectID).Msg("job resolution buffer full, dropping")
			}
		}
	}
}

// StartBuild validates the request, enforces the concurrency limit and the
// start cooldown, and launches the build goroutine.
func (o *Orchestrator) StartBuild(req StartRequest) (*Project, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, fmt.Errorf("description is required: %w", perrors.ErrInvalidInput)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = deriveName(req.Description)
	}

	o.mu.Lock()
	if o.running >= o.cfg.ConcurrencyLimit {
		o.mu.Unlock()
		return nil, &perrors.RateLimitError{Wait: o.cfg.StartCooldown}
	}
	if since := time.Since(o.lastStart); since < o.cfg.StartCooldown {
		o.mu.Unlock()
		return nil, &perrors.RateLimitError{Wait: o.cfg.StartCooldown - since}
	}
	o.running++
	o.lastStart = time.Now()
	o.mu.Unlock()

	p, err := o.launch(req, name, "", "")
	if err != nil {
		o.mu.Lock()
		o.running--
		o.mu.Unlock()
		return nil, err
	}
	return p, nil
}

// launch creates the project record, workspace, and run goroutine. An empty
// prompt means synthesize the standard one from the request.
// The caller has already reserved a concurrency slot.
func (o *Orchestrator) launch(req StartRequest, name, retryOf, prompt string) (*Project, error) {
	id := uuid.New().String()
	workspace := filepath.Join(o.cfg.WorkspaceRoot, id)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}

	target := req.DeployTarget
	if target == "" {
		if o.cfg.DeployEnabled {
			target = "kubernetes"
		} else {
			target = "local"
		}
	}

	if prompt == "" {
		prompt = buildPrompt(req, name)
	}

	now := time.Now().UTC()
	p := &Project{
		ID:           id,
		Name:         name,
		Description:  req.Description,
		ProjectType:  req.ProjectType,
		StackHint:    req.StackHint,
		Phase:        PhaseQueued,
		Workspace:    workspace,
		Prompt:       prompt,
		DeployTarget: target,
		RetryOf:      retryOf,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	runCtx, cancel := context.WithCancel(o.baseCtx)
	j := &jobState{
		cancel:      cancel,
		resolutions: make(chan session.Resolved, 4),
	}

	o.mu.Lock()
	o.projects[id] = p
	o.feeds[id] = activity.NewFeed()
	o.jobs[id] = j
	o.mu.Unlock()

	o.sessions.Create(id)
	o.persist(p)
	o.recordEvent(id, "created", req.Description)
	o.publishEnvelope(id, broadcast.Envelope{
		Type:    broadcast.TypeProgress,
		Phase:   string(PhaseQueued),
		Message: "build queued",
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			o.running--
			o.mu.Unlock()
		}()
		o.run(runCtx, p, j)
	}()

	o.logger.Info().Str("project_id", id).Str("name", name).Msg("build started")
	return p, nil
}

// CancelBuild stops a running build. Cancelling a terminal build is a no-op.
func (o *Orchestrator) CancelBuild(id string) (*Project, error) {
	o.mu.Lock()
	p, ok := o.projects[id]
	j := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, perrors.ErrNotFound)
	}

	if p.phase().Terminal() {
		snap := p.Snapshot()
		return &snap, nil
	}

	if p.setPhase(PhaseCancelled) {
		o.sessions.Discard(id)
		if j != nil {
			j.cancel()
		}
		o.persist(p)
		o.recordEvent(id, "cancelled", "")
		o.metrics.BuildsTotal.WithLabelValues(string(PhaseCancelled)).Inc()
		o.hub.Close(id, broadcast.Envelope{
			Type:   broadcast.TypeComplete,
			Status: string(PhaseCancelled),
		})
		o.notifyFinished(p)
		o.logger.Info().Str("project_id", id).Msg("build cancelled")
	}

	snap := p.Snapshot()
	return &snap, nil
}

// RetryBuild starts a fresh build from a failed one. Only failed builds can
// be retried; the new build gets its own ID and a clean workspace, and its
// prompt notes the prior failure plus any requested modifications.
func (o *Orchestrator) RetryBuild(id, modifications string) (*Project, error) {
	o.mu.Lock()
	prev, ok := o.projects[id]
	o.mu.Unlock()

	var snap Project
	if ok {
		snap = prev.Snapshot()
	} else {
		row, err := o.store.GetProject(id)
		if err != nil || row == nil {
			return nil, fmt.Errorf("project %s: %w", id, perrors.ErrNotFound)
		}
		snap = projectFromRow(row)
	}

	if snap.Phase != PhaseFailed {
		return nil, fmt.Errorf("project %s is %s, only failed builds can be retried: %w",
			id, snap.Phase, perrors.ErrInvalidInput)
	}

	o.mu.Lock()
	if o.running >= o.cfg.ConcurrencyLimit {
		o.mu.Unlock()
		return nil, &perrors.RateLimitError{Wait: o.cfg.StartCooldown}
	}
	if since := time.Since(o.lastStart); since < o.cfg.StartCooldown {
		o.mu.Unlock()
		return nil, &perrors.RateLimitError{Wait: o.cfg.StartCooldown - since}
	}
	o.running++
	o.lastStart = time.Now()
	o.mu.Unlock()

	req := StartRequest{
		Name:         snap.Name,
		Description:  snap.Description,
		ProjectType:  snap.ProjectType,
		StackHint:    snap.StackHint,
		DeployTarget: snap.DeployTarget,
	}
	p, err := o.launch(req, snap.Name, id, retryPrompt(req, snap.Name, snap.Error, modifications))
	if err != nil {
		o.mu.Lock()
		o.running--
		o.mu.Unlock()
		return nil, err
	}
	return p, nil
}

// Deploy runs the deploy target for a finished build. Idempotent: both
// targets replace a previous exposure in place, so repeated calls converge
// on the same URL.
func (o *Orchestrator) Deploy(ctx context.Context, id string) (*Project, error) {
	if o.deployer == nil {
		return nil, fmt.Errorf("no deploy target configured: %w", perrors.ErrInvalidInput)
	}
	p, err := o.finishedProject(id, "deploy")
	if err != nil {
		return nil, err
	}
	if err := o.deployBuild(ctx, p); err != nil {
		return nil, err
	}
	o.persist(p)
	snap := p.Snapshot()
	return &snap, nil
}

// Publish pushes a finished build's workspace to GitHub. Idempotent: the
// publisher reuses the repository and pushes the current tree.
func (o *Orchestrator) Publish(ctx context.Context, id string) (*Project, error) {
	if o.publisher == nil {
		return nil, fmt.Errorf("no publisher configured: %w", perrors.ErrInvalidInput)
	}
	p, err := o.finishedProject(id, "publish")
	if err != nil {
		return nil, err
	}
	if err := o.publishBuild(ctx, p); err != nil {
		return nil, err
	}
	o.persist(p)
	snap := p.Snapshot()
	return &snap, nil
}

// finishedProject resolves a live project handle for an explicit action,
// rehydrating it from the store after a restart. The build must have
// finished: acting on a workspace the agent is still mutating would race.
func (o *Orchestrator) finishedProject(id, action string) (*Project, error) {
	o.mu.Lock()
	p, ok := o.projects[id]
	o.mu.Unlock()
	if !ok {
		row, err := o.store.GetProject(id)
		if err != nil || row == nil {
			return nil, fmt.Errorf("project %s: %w", id, perrors.ErrNotFound)
		}
		rehydrated := projectFromRow(row)
		o.mu.Lock()
		if existing, live := o.projects[id]; live {
			p = existing
		} else {
			p = &rehydrated
			o.projects[id] = p
		}
		o.mu.Unlock()
	}

	if phase := p.phase(); phase != PhaseComplete && phase != PhaseFailed {
		return nil, fmt.Errorf("project %s is %s, %s requires a finished build: %w",
			id, phase, action, perrors.ErrInvalidInput)
	}
	return p, nil
}

// Respond delivers a human answer to a build waiting for input.
func (o *Orchestrator) Respond(id, response string) (*session.Resolved, error) {
	res, err := o.sessions.Respond(id, response)
	if err != nil {
		return nil, err
	}
	o.metrics.ClarificationsTotal.WithLabelValues("answered").Inc()
	o.recordEvent(id, "clarification_answered", response)
	return res, nil
}

// GetProject returns a build by ID, falling back to persisted state for
// builds from before the last restart.
func (o *Orchestrator) GetProject(id string) (*Project, error) {
	o.mu.Lock()
	p, ok := o.projects[id]
	o.mu.Unlock()
	if ok {
		snap := p.Snapshot()
		return &snap, nil
	}

	row, err := o.store.GetProject(id)
	if err != nil || row == nil {
		return nil, fmt.Errorf("project %s: %w", id, perrors.ErrNotFound)
	}
	snap := projectFromRow(row)
	return &snap, nil
}

// ListProjects returns builds, optionally filtered by phase.
func (o *Orchestrator) ListProjects(phase string, limit int) ([]Project, error) {
	rows, err := o.store.ListProjects(phase, limit)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	out := make([]Project, 0, len(rows))
	for _, row := range rows {
		// Live state wins over the persisted row.
		o.mu.Lock()
		p, ok := o.projects[row.ID]
		o.mu.Unlock()
		if ok {
			out = append(out, p.Snapshot())
			continue
		}
		out = append(out, projectFromRow(row))
	}
	return out, nil
}

// Activities returns the converged activity feed for a build.
func (o *Orchestrator) Activities(id string) ([]activity.Activity, error) {
	o.mu.Lock()
	feed, ok := o.feeds[id]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, perrors.ErrNotFound)
	}
	return feed.Snapshot(), nil
}

// Pending returns the open question for a waiting build, if any.
func (o *Orchestrator) Pending(id string) (string, []string, bool) {
	return o.sessions.Pending(id)
}

// Session returns the clarification session snapshot for a build.
func (o *Orchestrator) Session(id string) (session.Session, bool) {
	return o.sessions.Get(id)
}

// persist writes the project's current state to the store.
func (o *Orchestrator) persist(p *Project) {
	snap := p.Snapshot()
	row := &store.ProjectRow{
		ID:            snap.ID,
		Description:   snap.Description,
		ProjectType:   snap.ProjectType,
		Status:        string(snap.Phase),
		WorkspacePath: snap.Workspace,
		BuildPrompt:   snap.Prompt,
		StackHint:     snap.StackHint,
		DeployTarget:  snap.DeployTarget,
		LocalPort:     snap.LocalPort,
		DeployURL:     snap.DeployURL,
		CommitSHA:     snap.CommitSHA,
		GitHubURL:     snap.GitHubURL,
		Error:         snap.Error,
		RetryOf:       snap.RetryOf,
		CreatedAt:     snap.CreatedAt.UnixMilli(),
	}
	if err := o.store.SaveProject(row); err != nil {
		o.logger.Error().Err(err).Str("project_id", snap.ID).Msg("failed to persist project")
	}
}

func (o *Orchestrator) recordEvent(projectID, eventType, summary string) {
	err := o.store.AddEvent(&store.EventRow{
		ProjectID: projectID,
		EventType: eventType,
		Summary:   summary,
	})
	if err != nil {
		o.logger.Error().Err(err).Str("project_id", projectID).Msg("failed to record event")
	}
}

func (o *Orchestrator) publishEnvelope(projectID string, env broadcast.Envelope) {
	env.ProjectID = projectID
	o.hub.Publish(projectID, env)
}

func projectFromRow(row *store.ProjectRow) Project {
	return Project{
		ID:           row.ID,
		Name:         deriveName(row.Description),
		Description:  row.Description,
		ProjectType:  row.ProjectType,
		StackHint:    row.StackHint,
		Phase:        Phase(row.Status),
		Workspace:    row.WorkspacePath,
		Prompt:       row.BuildPrompt,
		DeployTarget: row.DeployTarget,
		LocalPort:    row.LocalPort,
		DeployURL:    row.DeployURL,
		CommitSHA:    row.CommitSHA,
		GitHubURL:    row.GitHubURL,
		Error:        row.Error,
		RetryOf:      row.RetryOf,
		CreatedAt:    time.UnixMilli(row.CreatedAt).UTC(),
		UpdatedAt:    time.UnixMilli(row.UpdatedAt).UTC(),
	}
}

// deriveName produces a short display name from the description.
func deriveName(description string) string {
	words := strings.Fields(description)
	if len(words) > 6 {
		words = words[:6]
	}
	name := strings.Join(words, " ")
	if len(name) > 60 {
		name = name[:60]
	}
	if name == "" {
		name = "untitled build"
	}
	return name
}
