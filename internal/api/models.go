// Package api provides the HTTP surface for the forge daemon.
package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/forge/internal/orchestrator"
)

// StartBuildRequest is the body of POST /api/v1/builds.
type StartBuildRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	ProjectType  string `json:"project_type"`
	StackHint    string `json:"stack_hint"`
	DeployTarget string `json:"deploy_target"`
}

// RetryBuildRequest is the optional body of POST /api/v1/builds/:id/retry.
type RetryBuildRequest struct {
	Modifications string `json:"modifications"`
}

// QuestionResponse is the body of GET /api/v1/builds/:id/question.
type QuestionResponse struct {
	Waiting  bool     `json:"waiting"`
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// RespondRequest is the body of POST /api/v1/builds/:id/respond.
type RespondRequest struct {
	Response string `json:"response"`
}

// RespondResponse echoes how the answer was classified.
type RespondResponse struct {
	ProjectID string `json:"project_id"`
	Question  string `json:"question"`
	Response  string `json:"response"`
	Match     string `json:"match"`
	Matched   string `json:"matched,omitempty"`
}

// BuildResponse is the public shape of a build job.
type BuildResponse struct {
	orchestrator.Project
}

// RateLimitedResponse tells the caller when to retry.
type RateLimitedResponse struct {
	Error       string `json:"error"`
	WaitSeconds int    `json:"wait_seconds"`
}

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
