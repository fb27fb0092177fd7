// Package docker implements the launcher port for container-backed services.
package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

const labelService = "dev.cellbox.service"

// Launcher starts services as Docker containers.
type Launcher struct {
	cli *client.Client
}

// New creates a container launcher from the environment's Docker config.
func New() (*Launcher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Launcher{cli: cli}, nil
}

// Kind returns "container".
func (l *Launcher) Kind() cell.ServiceKind { return cell.KindContainer }

// Start creates and starts a container for spec and returns the
// container's host pid, so the supervisor can probe it the same way it
// probes a plain process.
func (l *Launcher) Start(ctx context.Context, spec cell.ServiceSpec, env map[string]string) (int, error) {
	if spec.Image == "" {
		return 0, fmt.Errorf("service %q: empty image", spec.Name)
	}

	envList := make([]string, 0, len(spec.Env)+len(env))
	for k, v := range spec.Env {
		envList = append(envList, k+"="+v)
	}
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	cfg := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Env:    envList,
		Labels: map[string]string{labelService: spec.Name},
	}
	hostCfg := &container.HostConfig{AutoRemove: true}

	// The allocated host port maps onto the same port inside the
	// container; the service is told its port via EnvVar.
	if port, ok := env[spec.Port.EnvVar]; ok && spec.Port.EnvVar != "" {
		exposed := nat.Port(port + "/tcp")
		cfg.ExposedPorts = nat.PortSet{exposed: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			exposed: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: port}},
		}
	}

	resp, err := l.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "cellbox-"+spec.Name)
	if err != nil {
		return 0, fmt.Errorf("create container %q: %w", spec.Name, err)
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return 0, fmt.Errorf("start container %q: %w", spec.Name, err)
	}

	inspect, err := l.cli.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return 0, fmt.Errorf("inspect container %q: %w", spec.Name, err)
	}
	return inspect.State.Pid, nil
}

// Stop stops and removes the service's container. A container that no
// longer exists is not an error.
func (l *Launcher) Stop(ctx context.Context, rec cell.ServiceRecord) error {
	name := "cellbox-" + rec.Name
	timeout := 10
	if err := l.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container %q: %w", rec.Name, err)
	}
	// AutoRemove cleans the container up after stop.
	return nil
}
