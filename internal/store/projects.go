package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProjectRow is the persisted shape of a project record.
type ProjectRow struct {
	ID            string
	Description   string
	ProjectType   string
	Status        string
	WorkspacePath string
	BuildPrompt   string
	StackHint     string
	DeployTarget  string
	LocalPort     int
	DeployURL     string
	CommitSHA     string
	GitHubURL     string
	Error         string
	RetryOf       string // id of the failed project this one retries
	CreatedAt     int64  // unix ms
	UpdatedAt     int64  // unix ms
}

// SaveProject inserts or updates a project row.
func (s *Store) SaveProject(p *ProjectRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
	INSERT OR REPLACE INTO projects (
		id, description, project_type, status, workspace_path, build_prompt,
		stack_hint, deploy_target, local_port, deploy_url, commit_sha,
		github_url, error, retry_of, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		p.ID, p.Description, p.ProjectType, p.Status, p.WorkspacePath, p.BuildPrompt,
		nullStr(p.StackHint), nullStr(p.DeployTarget),
		sql.NullInt64{Int64: int64(p.LocalPort), Valid: p.LocalPort != 0},
		nullStr(p.DeployURL), nullStr(p.CommitSHA), nullStr(p.GitHubURL),
		nullStr(p.Error), nullStr(p.RetryOf),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(id string) (*ProjectRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
	SELECT id, description, project_type, status, workspace_path, build_prompt,
	       stack_hint, deploy_target, local_port, deploy_url, commit_sha,
	       github_url, error, retry_of, created_at, updated_at
	FROM projects WHERE id = ?`, id)

	return scanProject(row)
}

// ListProjects returns projects newest-first, optionally filtered by status.
func (s *Store) ListProjects(status string, limit int) ([]*ProjectRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
	SELECT id, description, project_type, status, workspace_path, build_prompt,
	       stack_hint, deploy_target, local_port, deploy_url, commit_sha,
	       github_url, error, retry_of, created_at, updated_at
	FROM projects`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*ProjectRow
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EventRow is one entry in the append-only build log.
type EventRow struct {
	ID        string
	ProjectID string
	EventType string // phase_transition | clarification | response | failure | publish | deploy
	Summary   string
	Metadata  string // JSON
	CreatedAt int64  // unix ms
}

// AddEvent appends a log entry for a project.
func (s *Store) AddEvent(e *EventRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}

	_, err := s.db.Exec(`
	INSERT INTO project_events (id, project_id, event_type, summary, metadata, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.EventType, e.Summary, nullStr(e.Metadata), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add event: %w", err)
	}
	return nil
}

// ListEvents returns a project's log entries oldest-first.
func (s *Store) ListEvents(projectID string, limit int) ([]*EventRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > 500 {
		limit = 200
	}

	rows, err := s.db.Query(`
	SELECT id, project_id, event_type, summary, metadata, created_at
	FROM project_events WHERE project_id = ?
	ORDER BY created_at ASC LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*EventRow
	for rows.Next() {
		var e EventRow
		var meta sql.NullString
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EventType, &e.Summary, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Metadata = meta.String
		out = append(out, &e)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProject(row scannable) (*ProjectRow, error) {
	var p ProjectRow
	var stackHint, deployTarget, deployURL, commitSHA, githubURL, errStr, retryOf sql.NullString
	var localPort sql.NullInt64

	err := row.Scan(
		&p.ID, &p.Description, &p.ProjectType, &p.Status, &p.WorkspacePath, &p.BuildPrompt,
		&stackHint, &deployTarget, &localPort, &deployURL, &commitSHA,
		&githubURL, &errStr, &retryOf, &p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}

	p.StackHint = stackHint.String
	p.DeployTarget = deployTarget.String
	p.LocalPort = int(localPort.Int64)
	p.DeployURL = deployURL.String
	p.CommitSHA = commitSHA.String
	p.GitHubURL = githubURL.String
	p.Error = errStr.String
	p.RetryOf = retryOf.String
	return &p, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
