// Package deploy exposes finished builds at a live URL.
package deploy

import "context"

// Result describes a deployed build.
type Result struct {
	URL       string `json:"url"`
	Target    string `json:"target"`
	Namespace string `json:"namespace,omitempty"`
	LocalPort int    `json:"local_port,omitempty"`
}

// Request carries everything a target needs to expose a build.
type Request struct {
	Name      string // sanitized build name, used for resource naming
	Workspace string // path to the built output on disk
	Image     string // container image for cluster targets
}

// Target deploys a build workspace and returns where it is reachable.
type Target interface {
	Deploy(ctx context.Context, req Request) (*Result, error)
	// Teardown removes whatever Deploy created. Idempotent.
	Teardown(ctx context.Context, name string) error
}
