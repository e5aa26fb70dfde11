package docker

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/labelstack/runner/interfaces"
	"github.com/labelstack/runner/models"
	"github.com/labelstack/runner/services"
)

// Retry budget handed to the engine for persistent on-failure services.
const onFailureRetries = 3

// Start launches a service from a built image with its resolved environment.
// The container joins the shared project network under a service-name alias,
// so dependents reach it by name and internal port without published ports.
func (r *DockerRuntime) Start(ctx context.Context, svc *models.ServiceSpec, image string, env map[string]string) (interfaces.Process, error) {
	netName, err := r.ensureNetwork(ctx)
	if err != nil {
		return nil, err
	}

	name := services.ContainerName(r.project, svc.Name)

	// A container left over from a previous run is replaced.
	if _, err := r.client.ContainerInspect(ctx, name, client.ContainerInspectOptions{}); err == nil {
		_, _ = r.client.ContainerStop(ctx, name, client.ContainerStopOptions{})
		if _, err := r.client.ContainerRemove(ctx, name, client.ContainerRemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("remove existing container %q: %w", name, err)
		}
	}

	exposed := network.PortSet{}
	portMap := network.PortMap{}
	for _, b := range svc.Ports {
		port, ok := network.PortFrom(b.Container, "tcp")
		if !ok {
			return nil, fmt.Errorf("service %q port %d: invalid port", svc.Name, b.Container)
		}
		exposed[port] = struct{}{}
		portMap[port] = append(portMap[port], network.PortBinding{
			HostIP:   netip.IPv4Unspecified(),
			HostPort: strconv.Itoa(int(b.Host)),
		})
	}

	cCfg := &container.Config{
		Image:        image,
		Env:          services.EnvList(env),
		Labels:       r.labels(svc.Name),
		ExposedPorts: exposed,
	}
	if svc.Interactive {
		cCfg.Tty = true
		cCfg.OpenStdin = true
	}
	if len(svc.Command) > 0 {
		cCfg.Cmd = append(cCfg.Cmd, svc.Command...)
	}

	hCfg := &container.HostConfig{
		PortBindings:  portMap,
		RestartPolicy: enginePolicy(svc),
	}
	if svc.MemoryBytes() > 0 {
		hCfg.Resources.Memory = svc.MemoryBytes()
	}

	nCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			netName: {Aliases: []string{svc.Name}},
		},
	}

	containerID := ""
	created, err := r.client.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:           cCfg,
		HostConfig:       hCfg,
		NetworkingConfig: nCfg,
		Name:             name,
		Image:            image,
	})
	if err != nil {
		// Race-safe: if something else created it, inspect and proceed.
		inspected, ie := r.client.ContainerInspect(ctx, name, client.ContainerInspectOptions{})
		if ie != nil {
			return nil, fmt.Errorf("create container %q: %w", name, err)
		}
		containerID = inspected.Container.ID
	} else {
		containerID = created.ID
	}

	if _, err := r.client.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("start container %q: %w", name, err)
	}

	return &containerProcess{runtime: r, id: containerID, service: svc.Name}, nil
}

// enginePolicy maps the descriptor restart policy onto the engine. Restarts
// of run-to-completion services are supervised by the orchestrator instead,
// so their containers never self-restart.
func enginePolicy(svc *models.ServiceSpec) container.RestartPolicy {
	if svc.RunToCompletion() {
		return container.RestartPolicy{Name: container.RestartPolicyDisabled}
	}
	switch svc.Restart {
	case models.RestartAlways:
		return container.RestartPolicy{Name: container.RestartPolicyAlways}
	case models.RestartOnFailure:
		return container.RestartPolicy{
			Name:              container.RestartPolicyOnFailure,
			MaximumRetryCount: onFailureRetries,
		}
	default:
		return container.RestartPolicy{Name: container.RestartPolicyDisabled}
	}
}

// containerProcess is the handle for one launched container.
type containerProcess struct {
	runtime *DockerRuntime
	id      string
	service string
}

// Wait streams the container's output and blocks until it exits, returning
// its status code. The exited container is removed so a retry can relaunch
// under the same name.
func (p *containerProcess) Wait(ctx context.Context) (int, error) {
	c := p.runtime.client

	rc, err := c.ContainerLogs(ctx, p.id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Since:      "0",
	})
	if err != nil {
		return 0, fmt.Errorf("logs for service %q: %w", p.service, err)
	}
	defer rc.Close()

	logDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(os.Stdout, os.Stderr, rc)
		logDone <- err
	}()

	waitC := c.ContainerWait(ctx, p.id, client.ContainerWaitOptions{})
	var status int64
	select {
	case err := <-waitC.Error:
		if err != nil {
			return 0, fmt.Errorf("wait for service %q: %w", p.service, err)
		}
	case res := <-waitC.Result:
		status = res.StatusCode
	}

	// The log stream ends when the container exits.
	if err := <-logDone; err != nil {
		p.runtime.log.Warn("log stream ended early", "service", p.service, "error", err)
	}

	if _, err := c.ContainerRemove(ctx, p.id, client.ContainerRemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return 0, fmt.Errorf("remove container for service %q: %w", p.service, err)
	}

	return int(status), nil
}
