// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package docker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/queue-autoscaler/fleet"
	"github.com/hashicorp/queue-autoscaler/sdk"
)

// DriverName is the name used to select this driver within configuration.
const DriverName = "docker"

// client is the subset of the docker client used by the driver.
type client interface {
	ListContainers(opts docker.ListContainersOptions) ([]docker.APIContainers, error)
	CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error)
	StartContainerWithContext(id string, hostConfig *docker.HostConfig, ctx context.Context) error
	StopContainerWithContext(id string, timeout uint, ctx context.Context) error
	RemoveContainer(opts docker.RemoveContainerOptions) error
}

// Config is the docker driver configuration.
type Config struct {

	// Endpoint is the docker daemon address. When empty the client is built
	// from the DOCKER_HOST, DOCKER_TLS_VERIFY and DOCKER_CERT_PATH
	// environment variables.
	Endpoint string
}

// Driver implements fleet.Driver using the docker engine API.
type Driver struct {
	client client
	log    hclog.Logger
}

// New returns a docker Driver connected to the configured daemon.
func New(log hclog.Logger, cfg Config) (*Driver, error) {
	var (
		c   *docker.Client
		err error
	)

	if cfg.Endpoint != "" {
		c, err = docker.NewClient(cfg.Endpoint)
	} else {
		c, err = docker.NewClientFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return newDriver(log, c), nil
}

func newDriver(log hclog.Logger, c client) *Driver {
	return &Driver{client: c, log: log.Named(DriverName)}
}

// Name satisfies the Name function on the fleet.Driver interface.
func (d *Driver) Name() string { return DriverName }

// List satisfies the List function on the fleet.Driver interface.
func (d *Driver) List(ctx context.Context, labels map[string]string, includeStopped bool) ([]sdk.Worker, error) {
	filters := make([]string, 0, len(labels))
	for k, v := range labels {
		filters = append(filters, k+"="+v)
	}
	sort.Strings(filters)

	containers, err := d.client.ListContainers(docker.ListContainersOptions{
		All:     includeStopped,
		Filters: map[string][]string{"label": filters},
		Context: ctx,
	})
	if err != nil {
		return nil, err
	}

	out := make([]sdk.Worker, 0, len(containers))
	for _, c := range containers {
		out = append(out, sdk.Worker{
			ID:        c.ID,
			Name:      containerName(c.Names),
			Labels:    c.Labels,
			State:     c.State,
			CreatedAt: time.Unix(c.Created, 0),
		})
	}
	return out, nil
}

// Create satisfies the Create function on the fleet.Driver interface. The
// container is removed again when it cannot be started so it does not linger
// as a stopped pool member.
func (d *Driver) Create(ctx context.Context, spec sdk.WorkerSpec) (string, error) {
	hostCfg := &docker.HostConfig{}
	if spec.Network != "" {
		hostCfg.NetworkMode = spec.Network
	}

	container, err := d.client.CreateContainer(docker.CreateContainerOptions{
		Name: spec.Name,
		Config: &docker.Config{
			Image:  spec.Image,
			Labels: spec.Labels,
			Env:    envList(spec.Env),
		},
		HostConfig: hostCfg,
		Context:    ctx,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := d.client.StartContainerWithContext(container.ID, nil, ctx); err != nil {
		var alreadyRunning *docker.ContainerAlreadyRunning
		if errors.As(err, &alreadyRunning) {
			return container.ID, nil
		}

		if rmErr := d.client.RemoveContainer(docker.RemoveContainerOptions{
			ID: container.ID, Force: true, Context: ctx,
		}); rmErr != nil {
			d.log.Warn("failed to remove container after start failure",
				"worker_id", container.ID, "error", rmErr)
		}
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	return container.ID, nil
}

// Stop satisfies the Stop function on the fleet.Driver interface. Docker
// kills the container when the timeout elapses.
func (d *Driver) Stop(ctx context.Context, id string, timeout time.Duration) error {
	err := d.client.StopContainerWithContext(id, uint(timeout.Seconds()), ctx)
	if err == nil {
		return nil
	}

	var (
		notRunning *docker.ContainerNotRunning
		noSuch     *docker.NoSuchContainer
	)
	switch {
	case errors.As(err, &notRunning):
		return nil
	case errors.As(err, &noSuch):
		return fmt.Errorf("%w: %s", fleet.ErrWorkerNotFound, id)
	default:
		return err
	}
}

// Remove satisfies the Remove function on the fleet.Driver interface.
func (d *Driver) Remove(ctx context.Context, id string) error {
	err := d.client.RemoveContainer(docker.RemoveContainerOptions{
		ID:      id,
		Context: ctx,
	})

	var noSuch *docker.NoSuchContainer
	if errors.As(err, &noSuch) {
		return fmt.Errorf("%w: %s", fleet.ErrWorkerNotFound, id)
	}
	return err
}

// containerName returns the primary container name without the leading slash
// the engine API adds.
func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
