package interfaces

import (
	"context"

	"github.com/labelstack/runner/models"
)

// Runtime is the execution substrate services are built and launched on.
// The orchestrator drives it; the Docker implementation lives in
// services/docker.
type Runtime interface {
	// Build produces the runnable artifact for the service and returns a
	// reference to it. Services sharing a build source may get the same
	// reference back.
	Build(ctx context.Context, svc *models.ServiceSpec) (string, error)

	// Start launches the service from a previously built artifact with the
	// given resolved environment. The returned process handle is only
	// waited on for run-to-completion services.
	Start(ctx context.Context, svc *models.ServiceSpec, image string, env map[string]string) (Process, error)
}

// Process is a handle to one launched service process.
type Process interface {
	// Wait blocks until the process exits and returns its exit status.
	Wait(ctx context.Context) (int, error)
}
