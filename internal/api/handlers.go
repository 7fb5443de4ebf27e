package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/forge/internal/broadcast"
	perrors "github.com/p-blackswan/forge/internal/errors"
	"github.com/p-blackswan/forge/internal/health"
	"github.com/p-blackswan/forge/internal/metrics"
	"github.com/p-blackswan/forge/internal/orchestrator"
	"github.com/p-blackswan/forge/internal/resilience"
	"github.com/p-blackswan/forge/internal/store"
)

// StreamConfig bounds the live feed.
type StreamConfig struct {
	Heartbeat time.Duration // keepalive interval
	Lifetime  time.Duration // hard cap on one connection
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	orch      *orchestrator.Orchestrator
	store     *store.Store
	hub       *broadcast.Hub
	checker   *health.Checker
	breakers  *resilience.Registry
	metrics   *metrics.Metrics
	stream    StreamConfig
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(orch *orchestrator.Orchestrator, st *store.Store, hub *broadcast.Hub, checker *health.Checker, breakers *resilience.Registry, m *metrics.Metrics, stream StreamConfig, logger zerolog.Logger) *Handlers {
	return &Handlers{
		orch:      orch,
		store:     st,
		hub:       hub,
		checker:   checker,
		breakers:  breakers,
		metrics:   m,
		stream:    stream,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// StartBuild handles POST /api/v1/builds.
func (h *Handlers) StartBuild(c *fiber.Ctx) error {
	var req StartBuildRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}

	if strings.TrimSpace(req.Description) == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_description", "Bad Request",
			"A build description is required")
	}

	p, err := h.orch.StartBuild(orchestrator.StartRequest{
		Name:         req.Name,
		Description:  req.Description,
		ProjectType:  req.ProjectType,
		StackHint:    req.StackHint,
		DeployTarget: req.DeployTarget,
	})
	if err != nil {
		return h.buildError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(p.Snapshot())
}

// ListBuilds handles GET /api/v1/builds.
func (h *Handlers) ListBuilds(c *fiber.Ctx) error {
	phase := c.Query("phase")
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	builds, err := h.orch.ListProjects(phase, limit)
	if err != nil {
		return h.buildError(c, err)
	}
	return c.JSON(fiber.Map{"builds": builds, "count": len(builds)})
}

// GetBuild handles GET /api/v1/builds/:id.
func (h *Handlers) GetBuild(c *fiber.Ctx) error {
	p, err := h.orch.GetProject(c.Params("id"))
	if err != nil {
		return h.buildError(c, err)
	}
	return c.JSON(p)
}

// CancelBuild handles DELETE /api/v1/builds/:id. Idempotent.
func (h *Handlers) CancelBuild(c *fiber.Ctx) error {
	p, err := h.orch.CancelBuild(c.Params("id"))
	if err != nil {
		return h.buildError(c, err)
	}
	return c.JSON(p)
}

// RetryBuild handles POST /api/v1/builds/:id/retry. The body is optional.
func (h *Handlers) RetryBuild(c *fiber.Ctx) error {
	var req RetryBuildRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_body", "Bad Request",
				"Invalid request body: "+err.Error())
		}
	}

	p, err := h.orch.RetryBuild(c.Params("id"), req.Modifications)
	if err != nil {
		return h.buildError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(p.Snapshot())
}

// Deploy handles POST /api/v1/builds/:id/deploy. Idempotent.
func (h *Handlers) Deploy(c *fiber.Ctx) error {
	p, err := h.orch.Deploy(c.Context(), c.Params("id"))
	if err != nil {
		return h.buildError(c, err)
	}
	return c.JSON(p)
}

// Publish handles POST /api/v1/builds/:id/publish. Idempotent.
func (h *Handlers) Publish(c *fiber.Ctx) error {
	p, err := h.orch.Publish(c.Context(), c.Params("id"))
	if err != nil {
		return h.buildError(c, err)
	}
	return c.JSON(p)
}

// Respond handles POST /api/v1/builds/:id/respond.
func (h *Handlers) Respond(c *fiber.Ctx) error {
	var req RespondRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if strings.TrimSpace(req.Response) == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_response", "Bad Request",
			"A response is required")
	}

	res, err := h.orch.Respond(c.Params("id"), req.Response)
	if err != nil {
		return h.buildError(c, err)
	}

	return c.JSON(RespondResponse{
		ProjectID: res.ProjectID,
		Question:  res.Question,
		Response:  res.Response,
		Match:     string(res.Match),
		Matched:   res.Matched,
	})
}

// Activities handles GET /api/v1/builds/:id/activities.
func (h *Handlers) Activities(c *fiber.Ctx) error {
	acts, err := h.orch.Activities(c.Params("id"))
	if err != nil {
		return h.buildError(c, err)
	}
	return c.JSON(fiber.Map{"activities": acts, "count": len(acts)})
}

// Events handles GET /api/v1/builds/:id/events.
func (h *Handlers) Events(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "200"))
	events, err := h.store.ListEvents(c.Params("id"), limit)
	if err != nil {
		return h.buildError(c, err)
	}
	return c.JSON(fiber.Map{"events": events, "count": len(events)})
}

// Question handles GET /api/v1/builds/:id/question. A build with nothing
// pending answers with waiting=false rather than an error.
func (h *Handlers) Question(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.orch.GetProject(id); err != nil {
		return h.buildError(c, err)
	}

	question, options, waiting := h.orch.Pending(id)
	if !waiting {
		return c.JSON(QuestionResponse{Waiting: false})
	}
	return c.JSON(QuestionResponse{Waiting: true, Question: question, Options: options})
}

// GetSession handles GET /api/v1/builds/:id/session.
func (h *Handlers) GetSession(c *fiber.Ctx) error {
	snap, ok := h.orch.Session(c.Params("id"))
	if !ok {
		return problemResponse(c, fiber.StatusNotFound,
			"not_found", "Not Found",
			"No clarification session for this build")
	}
	return c.JSON(snap)
}

// Breakers handles GET /api/v1/breakers.
func (h *Handlers) Breakers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"breakers": h.breakers.Snapshots()})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "uptime": time.Since(h.startTime).Round(time.Second).String()})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if !h.checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not_ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// buildError maps domain errors onto HTTP status codes.
func (h *Handlers) buildError(c *fiber.Ctx, err error) error {
	var rle *perrors.RateLimitError
	if errors.As(err, &rle) {
		c.Set("Retry-After", strconv.Itoa(rle.WaitSeconds()))
		return c.Status(fiber.StatusTooManyRequests).JSON(RateLimitedResponse{
			Error:       "a build is already running or starting, try again shortly",
			WaitSeconds: rle.WaitSeconds(),
		})
	}

	switch {
	case errors.Is(err, perrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"not_found", "Not Found", err.Error())
	case errors.Is(err, perrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_input", "Bad Request", err.Error())
	case errors.Is(err, perrors.ErrNotWaiting):
		return problemResponse(c, fiber.StatusConflict,
			"not_waiting", "Conflict",
			"The build is not waiting for input")
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return problemResponse(c, fiber.StatusInternalServerError,
			"internal_error", "Internal Server Error",
			fmt.Sprintf("unexpected error: %v", err))
	}
}
