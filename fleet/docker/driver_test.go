// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package docker

import (
	"context"
	"errors"
	"testing"
	"time"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/queue-autoscaler/fleet"
	"github.com/hashicorp/queue-autoscaler/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	listOpts   docker.ListContainersOptions
	createOpts docker.CreateContainerOptions
	containers []docker.APIContainers

	startErr  error
	stopErr   error
	removeErr error

	stopTimeout uint
	removed     []string
}

func (f *fakeClient) ListContainers(opts docker.ListContainersOptions) ([]docker.APIContainers, error) {
	f.listOpts = opts
	return f.containers, nil
}

func (f *fakeClient) CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error) {
	f.createOpts = opts
	return &docker.Container{ID: "c0ffee"}, nil
}

func (f *fakeClient) StartContainerWithContext(string, *docker.HostConfig, context.Context) error {
	return f.startErr
}

func (f *fakeClient) StopContainerWithContext(_ string, timeout uint, _ context.Context) error {
	f.stopTimeout = timeout
	return f.stopErr
}

func (f *fakeClient) RemoveContainer(opts docker.RemoveContainerOptions) error {
	f.removed = append(f.removed, opts.ID)
	return f.removeErr
}

func TestDriver_List(t *testing.T) {
	fc := &fakeClient{
		containers: []docker.APIContainers{
			{
				ID:      "abc",
				Names:   []string{"/worker-1700000000-1"},
				Labels:  map[string]string{fleet.OwnerLabel: fleet.OwnerLabelValue},
				State:   "running",
				Created: 1700000000,
			},
		},
	}
	d := newDriver(hclog.NewNullLogger(), fc)

	workers, err := d.List(context.Background(), map[string]string{
		fleet.OwnerLabel:             fleet.OwnerLabelValue,
		"com.docker.compose.project": "demo",
	}, false)
	require.NoError(t, err)

	assert.False(t, fc.listOpts.All)
	assert.Equal(t, []string{"autoscaler.owner=true", "com.docker.compose.project=demo"}, fc.listOpts.Filters["label"])
	assert.Equal(t, []sdk.Worker{{
		ID:        "abc",
		Name:      "worker-1700000000-1",
		Labels:    map[string]string{fleet.OwnerLabel: fleet.OwnerLabelValue},
		State:     "running",
		CreatedAt: time.Unix(1700000000, 0),
	}}, workers)

	_, err = d.List(context.Background(), nil, true)
	require.NoError(t, err)
	assert.True(t, fc.listOpts.All)
}

func TestDriver_Create(t *testing.T) {
	fc := &fakeClient{}
	d := newDriver(hclog.NewNullLogger(), fc)

	id, err := d.Create(context.Background(), sdk.WorkerSpec{
		Name:    "worker-1-1",
		Image:   "worker:latest",
		Network: "demo_default",
		Labels:  map[string]string{fleet.OwnerLabel: fleet.OwnerLabelValue},
		Env:     map[string]string{"QUEUE_NAME": "jobs", "PYTHONUNBUFFERED": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "c0ffee", id)

	assert.Equal(t, "worker-1-1", fc.createOpts.Name)
	assert.Equal(t, "worker:latest", fc.createOpts.Config.Image)
	assert.Equal(t, []string{"PYTHONUNBUFFERED=1", "QUEUE_NAME=jobs"}, fc.createOpts.Config.Env)
	assert.Equal(t, "demo_default", fc.createOpts.HostConfig.NetworkMode)
	assert.Empty(t, fc.removed)
}

func TestDriver_Create_startFailure(t *testing.T) {
	fc := &fakeClient{startErr: errors.New("port already allocated")}
	d := newDriver(hclog.NewNullLogger(), fc)

	_, err := d.Create(context.Background(), sdk.WorkerSpec{Name: "worker-1-1"})
	assert.Error(t, err)
	assert.Equal(t, []string{"c0ffee"}, fc.removed)
}

func TestDriver_Stop(t *testing.T) {
	testCases := []struct {
		name          string
		stopErr       error
		expectErr     bool
		expectMissing bool
	}{
		{name: "stopped"},
		{name: "not running", stopErr: &docker.ContainerNotRunning{ID: "abc"}},
		{name: "missing", stopErr: &docker.NoSuchContainer{ID: "abc"}, expectErr: true, expectMissing: true},
		{name: "daemon error", stopErr: errors.New("boom"), expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fc := &fakeClient{stopErr: tc.stopErr}
			d := newDriver(hclog.NewNullLogger(), fc)

			err := d.Stop(context.Background(), "abc", time.Minute)
			assert.Equal(t, uint(60), fc.stopTimeout)
			if !tc.expectErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tc.expectMissing, errors.Is(err, fleet.ErrWorkerNotFound))
		})
	}
}

func TestDriver_Remove_missing(t *testing.T) {
	fc := &fakeClient{removeErr: &docker.NoSuchContainer{ID: "abc"}}
	d := newDriver(hclog.NewNullLogger(), fc)
	assert.ErrorIs(t, d.Remove(context.Background(), "abc"), fleet.ErrWorkerNotFound)
}
