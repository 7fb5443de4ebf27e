package orchestrator

import (
	"sync"
	"time"
)

// Phase is a build job's position in the lifecycle.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhasePlanning  Phase = "planning"
	PhaseBuilding  Phase = "building"
	PhaseTesting   Phase = "testing"
	PhaseDeploying Phase = "deploying"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// forward is the ordered happy path. failed and cancelled are reachable
// from any non-terminal phase and are not listed.
var forward = map[Phase]Phase{
	PhaseQueued:    PhasePlanning,
	PhasePlanning:  PhaseBuilding,
	PhaseBuilding:  PhaseTesting,
	PhaseTesting:   PhaseDeploying,
	PhaseDeploying: PhaseComplete,
}

// canTransition reports whether from → to is a legal phase move.
func canTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseFailed || to == PhaseCancelled {
		return true
	}
	// Forward-only, but phases may be skipped (a trivial build can go
	// straight from building to deploying).
	for cur := from; ; {
		next, ok := forward[cur]
		if !ok {
			return false
		}
		if next == to {
			return true
		}
		cur = next
	}
}

// Project is one build job. All mutation goes through the orchestrator;
// readers get copies via Snapshot.
type Project struct {
	mu sync.RWMutex

	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	ProjectType  string     `json:"project_type"`
	StackHint    string     `json:"stack_hint,omitempty"`
	Phase        Phase      `json:"phase"`
	Workspace    string     `json:"workspace"`
	Prompt       string     `json:"-"`
	DeployTarget string     `json:"deploy_target,omitempty"`
	DeployURL    string     `json:"deploy_url,omitempty"`
	LocalPort    int        `json:"local_port,omitempty"`
	GitHubURL    string     `json:"github_url,omitempty"`
	CommitSHA    string     `json:"commit_sha,omitempty"`
	Error        string     `json:"error,omitempty"`
	RetryOf      string     `json:"retry_of,omitempty"`
	CostUSD      float64    `json:"cost_usd,omitempty"`
	Turns        int        `json:"turns,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Snapshot returns a copy safe to read without locks.
func (p *Project) Snapshot() Project {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := Project{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		ProjectType:  p.ProjectType,
		StackHint:    p.StackHint,
		Phase:        p.Phase,
		Workspace:    p.Workspace,
		Prompt:       p.Prompt,
		DeployTarget: p.DeployTarget,
		DeployURL:    p.DeployURL,
		LocalPort:    p.LocalPort,
		GitHubURL:    p.GitHubURL,
		CommitSHA:    p.CommitSHA,
		Error:        p.Error,
		RetryOf:      p.RetryOf,
		CostUSD:      p.CostUSD,
		Turns:        p.Turns,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if p.FinishedAt != nil {
		t := *p.FinishedAt
		cp.FinishedAt = &t
	}
	return cp
}

// phase returns the current phase under lock.
func (p *Project) phase() Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Phase
}

// setPhase applies a transition if legal and returns whether it happened.
func (p *Project) setPhase(to Phase) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Phase == to {
		return false
	}
	if !canTransition(p.Phase, to) {
		return false
	}
	p.Phase = to
	p.UpdatedAt = time.Now().UTC()
	if to.Terminal() {
		t := p.UpdatedAt
		p.FinishedAt = &t
	}
	return true
}

func (p *Project) update(fn func(*Project)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
	p.UpdatedAt = time.Now().UTC()
}
