package publish

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/forge/internal/errors"
)

// Result describes a published workspace.
type Result struct {
	RepoFullName string `json:"repo_full_name"`
	CommitSHA    string `json:"commit_sha"`
	URL          string `json:"url"`
}

// Publisher pushes a build workspace to a remote host.
type Publisher interface {
	Publish(ctx context.Context, name, workspace string) (*Result, error)
}

// skipDirs are workspace directories never pushed to the repo.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
}

// GitHubPublisher publishes workspaces as repositories under a GitHub org.
type GitHubPublisher struct {
	client *Client
	owner  string
	logger zerolog.Logger
}

// NewGitHubPublisher creates a publisher that targets the given org.
func NewGitHubPublisher(client *Client, owner string, logger zerolog.Logger) *GitHubPublisher {
	return &GitHubPublisher{
		client: client,
		owner:  owner,
		logger: logger.With().Str("component", "publish").Logger(),
	}
}

// Publish creates a repository named after the build and pushes the workspace
// tree as a single commit on the default branch.
func (p *GitHubPublisher) Publish(ctx context.Context, name, workspace string) (*Result, error) {
	ghClient, err := p.client.GetInstallationClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting github client: %w", err)
	}

	repoName := sanitizeRepoName(name)
	repo, resp, err := ghClient.Repositories.Create(ctx, p.owner, &gh.Repository{
		Name:        gh.String(repoName),
		Private:     gh.Bool(true),
		Description: gh.String("Generated by forge"),
		AutoInit:    gh.Bool(true),
	})
	if err != nil {
		// Name collisions get a timestamp suffix and one retry.
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			repoName = fmt.Sprintf("%s-%d", repoName, time.Now().Unix())
			repo, _, err = ghClient.Repositories.Create(ctx, p.owner, &gh.Repository{
				Name:        gh.String(repoName),
				Private:     gh.Bool(true),
				Description: gh.String("Generated by forge"),
				AutoInit:    gh.Bool(true),
			})
		}
		if err != nil {
			return nil, apiErr("github", resp, fmt.Errorf("creating repository: %w", err))
		}
	}

	owner := repo.GetOwner().GetLogin()
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}

	entries, err := p.collectTree(ctx, ghClient, owner, repoName, workspace)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("workspace %s has no publishable files: %w", workspace, perrors.ErrInvalidInput)
	}

	baseRef, resp, err := ghClient.Git.GetRef(ctx, owner, repoName, "refs/heads/"+branch)
	if err != nil {
		return nil, apiErr("github", resp, fmt.Errorf("getting base ref: %w", err))
	}

	tree, resp, err := ghClient.Git.CreateTree(ctx, owner, repoName, "", entries)
	if err != nil {
		return nil, apiErr("github", resp, fmt.Errorf("creating tree: %w", err))
	}

	commit, resp, err := ghClient.Git.CreateCommit(ctx, owner, repoName, &gh.Commit{
		Message: gh.String(fmt.Sprintf("Build output for %s", name)),
		Tree:    tree,
		Parents: []*gh.Commit{{SHA: baseRef.Object.SHA}},
	}, nil)
	if err != nil {
		return nil, apiErr("github", resp, fmt.Errorf("creating commit: %w", err))
	}

	baseRef.Object.SHA = commit.SHA
	_, resp, err = ghClient.Git.UpdateRef(ctx, owner, repoName, baseRef, false)
	if err != nil {
		return nil, apiErr("github", resp, fmt.Errorf("updating ref: %w", err))
	}

	p.logger.Info().
		Str("repo", owner+"/"+repoName).
		Str("sha", commit.GetSHA()).
		Int("files", len(entries)).
		Msg("workspace published")

	return &Result{
		RepoFullName: owner + "/" + repoName,
		CommitSHA:    commit.GetSHA(),
		URL:          repo.GetHTMLURL(),
	}, nil
}

// collectTree walks the workspace and uploads every file as a blob,
// returning the tree entries for the commit.
func (p *GitHubPublisher) collectTree(ctx context.Context, ghClient *gh.Client, owner, repo, workspace string) ([]*gh.TreeEntry, error) {
	var entries []*gh.TreeEntry

	err := filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(workspace, path)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}

		entry := &gh.TreeEntry{
			Path: gh.String(filepath.ToSlash(rel)),
			Mode: gh.String("100644"),
			Type: gh.String("blob"),
		}

		if utf8.Valid(data) {
			entry.Content = gh.String(string(data))
		} else {
			// Binary files go through the blob API.
			blob, resp, err := ghClient.Git.CreateBlob(ctx, owner, repo, &gh.Blob{
				Content:  gh.String(base64.StdEncoding.EncodeToString(data)),
				Encoding: gh.String("base64"),
			})
			if err != nil {
				return apiErr("github", resp, fmt.Errorf("creating blob for %s: %w", rel, err))
			}
			entry.SHA = blob.SHA
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// sanitizeRepoName lowercases and strips characters GitHub rejects.
func sanitizeRepoName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		out = "forge-build"
	}
	if len(out) > 90 {
		out = out[:90]
	}
	return out
}

// apiErr wraps a go-github error with its HTTP status so retry logic
// can classify it.
func apiErr(service string, resp *gh.Response, err error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return &perrors.APIError{
		Service:    service,
		StatusCode: status,
		Message:    err.Error(),
		Err:        err,
	}
}
