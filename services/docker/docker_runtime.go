package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/moby/moby/client"

	"github.com/labelstack/runner/services"
)

const (
	labelProject = "labelstack.project"
	labelRun     = "labelstack.run"
	labelService = "labelstack.service"
)

// DockerRuntime implements interfaces.Runtime against the Docker Engine API.
// Everything it creates is stamped with the project and run labels so a later
// teardown can find it.
type DockerRuntime struct {
	client  *client.Client
	project string
	run     uuid.UUID
	log     *slog.Logger

	mu       sync.Mutex
	builds   map[string]*buildEntry
	netReady bool
}

// NewDockerRuntime initializes the runtime from the environment
// (e.g. DOCKER_HOST) with API version negotiation.
func NewDockerRuntime(project string, log *slog.Logger) (*DockerRuntime, error) {
	c, err := client.New(
		client.FromEnv,
	)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	return &DockerRuntime{
		client:  c,
		project: project,
		run:     uuid.New(),
		log:     log,
		builds:  make(map[string]*buildEntry),
	}, nil
}

func (r *DockerRuntime) labels(service string) map[string]string {
	l := map[string]string{
		labelProject: r.project,
		labelRun:     r.run.String(),
	}
	if service != "" {
		l[labelService] = service
	}
	return l
}

// ensureNetwork creates the shared project network if it does not exist yet.
// Creation is race-safe: a lost create race falls back to re-inspect.
func (r *DockerRuntime) ensureNetwork(ctx context.Context) (string, error) {
	name := services.NetworkName(r.project)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.netReady {
		return name, nil
	}

	_, err := r.client.NetworkInspect(ctx, name, client.NetworkInspectOptions{})
	if err != nil {
		_, err = r.client.NetworkCreate(ctx, name, client.NetworkCreateOptions{
			Labels: r.labels(""),
		})
		if err != nil {
			if _, ie := r.client.NetworkInspect(ctx, name, client.NetworkInspectOptions{}); ie != nil {
				return "", fmt.Errorf("create network %q: %w", name, err)
			}
		}
	}

	r.netReady = true
	return name, nil
}
