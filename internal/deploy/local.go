package deploy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LocalTarget serves build workspaces from disk on an ephemeral port.
// Used in development when no cluster is configured.
type LocalTarget struct {
	logger zerolog.Logger

	mu      sync.Mutex
	servers map[string]*localServer
}

type localServer struct {
	srv  *http.Server
	port int
}

// NewLocalTarget creates a local preview target.
func NewLocalTarget(logger zerolog.Logger) *LocalTarget {
	return &LocalTarget{
		logger:  logger.With().Str("component", "deploy-local").Logger(),
		servers: make(map[string]*localServer),
	}
}

// Deploy serves the workspace directory over HTTP on a free port.
// Re-deploying the same name replaces the previous server.
func (t *LocalTarget) Deploy(_ context.Context, req Request) (*Result, error) {
	name := resourceName(req.Name)

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.servers[name]; ok {
		_ = old.srv.Close()
		delete(t.servers, name)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("allocating preview port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{
		Handler:           http.FileServer(http.Dir(req.Workspace)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.logger.Error().Err(err).Str("name", name).Msg("preview server stopped")
		}
	}()

	t.servers[name] = &localServer{srv: srv, port: port}

	url := fmt.Sprintf("http://127.0.0.1:%d", port)
	t.logger.Info().Str("name", name).Str("url", url).Msg("build served locally")

	return &Result{
		URL:       url,
		Target:    "local",
		LocalPort: port,
	}, nil
}

// Teardown stops the preview server for the build, if any.
func (t *LocalTarget) Teardown(_ context.Context, name string) error {
	name = resourceName(name)

	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.servers[name]; ok {
		_ = s.srv.Close()
		delete(t.servers, name)
	}
	return nil
}

// Close stops all preview servers.
func (t *LocalTarget) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, s := range t.servers {
		_ = s.srv.Close()
		delete(t.servers, name)
	}
}
