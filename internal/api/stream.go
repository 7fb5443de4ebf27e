package api

import (
	"bufio"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/p-blackswan/forge/internal/broadcast"
)

// Stream handles GET /api/v1/builds/:id/stream — the NDJSON live feed.
// One envelope per line. The connection heartbeats to keep intermediaries
// from timing it out and is force-closed after the configured lifetime.
func (h *Handlers) Stream(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.orch.GetProject(id); err != nil {
		return h.buildError(c, err)
	}

	sub := h.hub.Subscribe(id)
	h.metrics.StreamSubscribers.Inc()

	heartbeat := h.stream.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	lifetime := h.stream.Lifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}

	logger := h.logger.With().Str("project_id", id).Logger()

	c.Set("Content-Type", "application/x-ndjson")
	c.Set("Cache-Control", "no-cache")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub)
		defer h.metrics.StreamSubscribers.Dec()

		enc := json.NewEncoder(w)
		// Write failures mean the client went away; just stop.
		write := func(env broadcast.Envelope) bool {
			if err := enc.Encode(env); err != nil {
				return false
			}
			return w.Flush() == nil
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		deadline := time.NewTimer(lifetime)
		defer deadline.Stop()

		for {
			select {
			case env, ok := <-sub.Events():
				if !ok {
					// Topic closed: the terminal envelope was already delivered.
					return
				}
				if !write(env) {
					return
				}
			case <-ticker.C:
				if !write(broadcast.Envelope{
					Type:      broadcast.TypeHeartbeat,
					ProjectID: id,
					At:        time.Now().UTC(),
				}) {
					return
				}
			case <-deadline.C:
				_ = write(broadcast.Envelope{
					Type:      broadcast.TypeTimeout,
					ProjectID: id,
					Message:   "stream lifetime exceeded, reconnect to continue",
					At:        time.Now().UTC(),
				})
				logger.Debug().Msg("stream lifetime reached")
				return
			}
		}
	}))

	return nil
}
