package docker

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/moby/moby/client"
)

// Teardown stops and removes every container and network carrying the
// project label. It is idempotent: resources that already vanished are
// skipped.
func (r *DockerRuntime) Teardown(ctx context.Context) error {
	if err := r.teardownContainers(ctx); err != nil {
		return err
	}
	return r.teardownNetworks(ctx)
}

func (r *DockerRuntime) teardownContainers(ctx context.Context) error {
	f := make(client.Filters).
		Add("label", labelProject+"="+r.project)

	containers, err := r.client.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return fmt.Errorf("list project containers (project=%s): %w", r.project, err)
	}

	for _, c := range containers.Items {
		r.log.Info("removing container", "id", c.ID)

		_, _ = r.client.ContainerStop(ctx, c.ID, client.ContainerStopOptions{})
		_, err = r.client.ContainerRemove(ctx, c.ID, client.ContainerRemoveOptions{Force: true})
		if err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove container %q: %w", c.ID, err)
		}
	}
	return nil
}

func (r *DockerRuntime) teardownNetworks(ctx context.Context) error {
	f := make(client.Filters).
		Add("label", labelProject+"="+r.project)

	nets, err := r.client.NetworkList(ctx, client.NetworkListOptions{
		Filters: f,
	})
	if err != nil {
		return fmt.Errorf("list project networks (project=%s): %w", r.project, err)
	}

	for _, n := range nets.Items {
		if n.ID == "" {
			continue
		}

		r.log.Info("removing network", "name", n.Name)

		// Remove by ID to avoid name collisions.
		if _, err := r.client.NetworkRemove(ctx, n.ID, client.NetworkRemoveOptions{}); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("remove network %q (%s): %w", n.Name, n.ID, err)
		}
	}
	return nil
}
