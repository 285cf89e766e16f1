package agentd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
)

// ErrDockerUnavailable is returned by every engine operation when the
// daemon could not be reached at startup. Handlers map it to HTTP 503.
var ErrDockerUnavailable = errors.New("docker is not available on this host")

// Engine is the slice of the Docker daemon the agent exposes to the
// console: listings, lifecycle actions and log streaming.
type Engine interface {
	Available() bool
	Containers(ctx context.Context) ([]agentrest.ContainerInfo, error)
	Inspect(ctx context.Context, containerID string) (agentrest.ContainerDetail, error)
	Images(ctx context.Context) ([]agentrest.ImageInfo, error)
	Action(ctx context.Context, containerID, action string) error
	// Logs opens a follow-mode log reader. tty reports whether the
	// container runs with a TTY, which decides the demux on read.
	Logs(ctx context.Context, containerID string, tail int, timestamps bool) (rc io.ReadCloser, tty bool, err error)
	RunningCount(ctx context.Context) int
}

// DockerEngine talks to the local Docker daemon.
type DockerEngine struct {
	client    *dockerclient.Client
	available bool
}

var _ Engine = (*DockerEngine)(nil)

// OpenEngine connects to the Docker daemon. Failure is not fatal: the
// agent runs without Docker and the welcome frame reports
// docker_available=false.
func OpenEngine(ctx context.Context, host string) *DockerEngine {
	opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}
	cli, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		log.Printf("[docker] client: %v", err)
		return &DockerEngine{}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		log.Printf("[docker] daemon unreachable: %v", err)
		return &DockerEngine{client: cli}
	}

	log.Println("[docker] daemon connected")
	return &DockerEngine{client: cli, available: true}
}

func (e *DockerEngine) Available() bool {
	return e.available && e.client != nil
}

func (e *DockerEngine) Containers(ctx context.Context) ([]agentrest.ContainerInfo, error) {
	if !e.Available() {
		return nil, ErrDockerUnavailable
	}
	list, err := e.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]agentrest.ContainerInfo, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, agentrest.ContainerInfo{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			State:   string(c.State),
			Status:  c.Status,
			Created: c.Created,
		})
	}
	return out, nil
}

func (e *DockerEngine) Inspect(ctx context.Context, containerID string) (agentrest.ContainerDetail, error) {
	if !e.Available() {
		return agentrest.ContainerDetail{}, ErrDockerUnavailable
	}
	inspect, err := e.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return agentrest.ContainerDetail{}, fmt.Errorf("inspect container: %w", err)
	}

	detail := agentrest.ContainerDetail{
		ID:   inspect.ID,
		Name: strings.TrimPrefix(inspect.Name, "/"),
	}
	if t, err := time.Parse(time.RFC3339Nano, inspect.Created); err == nil {
		detail.Created = t
	}
	if inspect.Config != nil {
		detail.Image = inspect.Config.Image
		detail.Labels = inspect.Config.Labels
	}
	if detail.Image == "" {
		detail.Image = inspect.Image
	}
	if inspect.State != nil {
		detail.State = inspect.State.Status
		detail.ExitCode = inspect.State.ExitCode
		if t, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil {
			detail.StartedAt = t
		}
	}
	if inspect.HostConfig != nil {
		detail.RestartPolicy = string(inspect.HostConfig.RestartPolicy.Name)
	}
	for _, m := range inspect.Mounts {
		detail.Mounts = append(detail.Mounts, fmt.Sprintf("%s:%s", m.Source, m.Destination))
	}
	if inspect.NetworkSettings != nil {
		// Map iteration order is random; sort the exposed ports
		// numerically so repeated inspects render the same list.
		ports := make([]nat.Port, 0, len(inspect.NetworkSettings.Ports))
		for p := range inspect.NetworkSettings.Ports {
			ports = append(ports, p)
		}
		sort.Slice(ports, func(i, j int) bool {
			if ports[i].Int() != ports[j].Int() {
				return ports[i].Int() < ports[j].Int()
			}
			return ports[i].Proto() < ports[j].Proto()
		})
		for _, port := range ports {
			bindings := inspect.NetworkSettings.Ports[port]
			if len(bindings) == 0 {
				detail.Ports = append(detail.Ports, agentrest.PortBinding{
					ContainerPort: port.Port(),
					Protocol:      port.Proto(),
				})
				continue
			}
			for _, b := range bindings {
				detail.Ports = append(detail.Ports, agentrest.PortBinding{
					ContainerPort: port.Port(),
					Protocol:      port.Proto(),
					HostIP:        b.HostIP,
					HostPort:      b.HostPort,
				})
			}
		}
	}
	return detail, nil
}

func (e *DockerEngine) Images(ctx context.Context) ([]agentrest.ImageInfo, error) {
	if !e.Available() {
		return nil, ErrDockerUnavailable
	}
	list, err := e.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	out := make([]agentrest.ImageInfo, 0, len(list))
	for _, img := range list {
		out = append(out, agentrest.ImageInfo{
			ID:      img.ID,
			Tags:    img.RepoTags,
			Size:    img.Size,
			Created: img.Created,
		})
	}
	return out, nil
}

func (e *DockerEngine) Action(ctx context.Context, containerID, action string) error {
	if !e.Available() {
		return ErrDockerUnavailable
	}
	timeout := 30
	switch action {
	case agentrest.ActionStart:
		return e.client.ContainerStart(ctx, containerID, container.StartOptions{})
	case agentrest.ActionStop:
		return e.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	case agentrest.ActionRestart:
		return e.client.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &timeout})
	case agentrest.ActionRemove:
		return e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	default:
		return fmt.Errorf("unsupported container action %q", action)
	}
}

func (e *DockerEngine) Logs(ctx context.Context, containerID string, tail int, timestamps bool) (io.ReadCloser, bool, error) {
	if !e.Available() {
		return nil, false, ErrDockerUnavailable
	}
	inspect, err := e.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, false, fmt.Errorf("inspect container: %w", err)
	}
	tty := inspect.Config != nil && inspect.Config.Tty

	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: timestamps,
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := e.client.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return nil, false, fmt.Errorf("container logs: %w", err)
	}
	return rc, tty, nil
}

func (e *DockerEngine) RunningCount(ctx context.Context) int {
	if !e.Available() {
		return 0
	}
	list, err := e.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return 0
	}
	return len(list)
}
