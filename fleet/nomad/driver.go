// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package nomad

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/nomad/api"
	"github.com/hashicorp/queue-autoscaler/fleet"
	"github.com/hashicorp/queue-autoscaler/sdk"
	errHelper "github.com/hashicorp/queue-autoscaler/sdk/helper/error"
)

// DriverName is the name used to select this driver within configuration.
const DriverName = "nomad"

const (
	// defaultJobPriority is the priority of worker jobs when unset.
	defaultJobPriority = 50

	// workerGroupName and workerTaskName name the single group and task
	// within every worker job.
	workerGroupName = "worker"
	workerTaskName  = "worker"

	// statusDead is the Nomad job status of a stopped job.
	statusDead = "dead"
)

// jobs is the subset of the Nomad jobs API used by the driver.
type jobs interface {
	List(q *api.QueryOptions) ([]*api.JobListStub, *api.QueryMeta, error)
	Info(jobID string, q *api.QueryOptions) (*api.Job, *api.QueryMeta, error)
	Register(job *api.Job, q *api.WriteOptions) (*api.JobRegisterResponse, *api.WriteMeta, error)
	Deregister(jobID string, purge bool, q *api.WriteOptions) (string, *api.WriteMeta, error)
}

// Config is the Nomad driver configuration.
type Config struct {

	// Prefix limits the jobs listed to those whose ID starts with it.
	Prefix string

	// Datacenters are the datacenters worker jobs may be placed in.
	Datacenters []string

	// Priority is the worker job priority.
	Priority int

	// KillTimeout is the time Nomad waits after signalling a worker before
	// forcefully killing it.
	KillTimeout time.Duration
}

// Driver implements fleet.Driver by running every worker as its own Nomad
// service job with a single docker task.
type Driver struct {
	jobs   jobs
	cfg    Config
	region string
	log    hclog.Logger
}

// New returns a Nomad Driver using the passed API configuration.
func New(log hclog.Logger, apiCfg *api.Config, cfg Config) (*Driver, error) {
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate Nomad client: %w", err)
	}
	return newDriver(log, client.Jobs(), apiCfg.Region, cfg), nil
}

func newDriver(log hclog.Logger, j jobs, region string, cfg Config) *Driver {
	if cfg.Priority == 0 {
		cfg.Priority = defaultJobPriority
	}
	return &Driver{jobs: j, cfg: cfg, region: region, log: log.Named(DriverName)}
}

// Name satisfies the Name function on the fleet.Driver interface.
func (d *Driver) Name() string { return DriverName }

// List satisfies the List function on the fleet.Driver interface. Labels are
// stored within the job meta, which the list stub does not carry, so each
// candidate job is read in full.
func (d *Driver) List(ctx context.Context, labels map[string]string, includeStopped bool) ([]sdk.Worker, error) {
	q := (&api.QueryOptions{Prefix: d.cfg.Prefix}).WithContext(ctx)

	stubs, _, err := d.jobs.List(q)
	if err != nil {
		return nil, err
	}

	var out []sdk.Worker
	for _, stub := range stubs {
		if !includeStopped && (stub.Stop || stub.Status == statusDead) {
			continue
		}

		job, _, err := d.jobs.Info(stub.ID, (&api.QueryOptions{}).WithContext(ctx))
		if err != nil {
			if errHelper.APIErrIs(err, http.StatusNotFound, "not found") {
				continue
			}
			return nil, fmt.Errorf("failed to read job %s: %w", stub.ID, err)
		}
		if !matchLabels(job.Meta, labels) {
			continue
		}

		state := fleet.StateRunning
		if stub.Stop || stub.Status == statusDead {
			state = statusDead
		}

		out = append(out, sdk.Worker{
			ID:        stub.ID,
			Name:      stub.Name,
			Labels:    maps.Clone(job.Meta),
			State:     state,
			CreatedAt: time.Unix(0, stub.SubmitTime),
		})
	}
	return out, nil
}

// Create satisfies the Create function on the fleet.Driver interface.
func (d *Driver) Create(ctx context.Context, spec sdk.WorkerSpec) (string, error) {
	job := d.jobFromSpec(spec)

	resp, _, err := d.jobs.Register(job, (&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to register job: %w", err)
	}

	d.log.Debug("registered worker job", "job_id", *job.ID, "eval_id", resp.EvalID)
	return *job.ID, nil
}

// Stop satisfies the Stop function on the fleet.Driver interface. Nomad
// honours the task kill timeout set when the job was registered, so the
// timeout argument is unused.
func (d *Driver) Stop(ctx context.Context, id string, _ time.Duration) error {
	return d.deregister(ctx, id, false)
}

// Remove satisfies the Remove function on the fleet.Driver interface.
func (d *Driver) Remove(ctx context.Context, id string) error {
	return d.deregister(ctx, id, true)
}

func (d *Driver) deregister(ctx context.Context, id string, purge bool) error {
	_, _, err := d.jobs.Deregister(id, purge, (&api.WriteOptions{}).WithContext(ctx))
	if err != nil && errHelper.APIErrIs(err, http.StatusNotFound, "not found") {
		return fmt.Errorf("%w: %s", fleet.ErrWorkerNotFound, id)
	}
	return err
}

func (d *Driver) jobFromSpec(spec sdk.WorkerSpec) *api.Job {
	task := api.NewTask(workerTaskName, "docker").
		SetConfig("image", spec.Image)
	if spec.Network != "" {
		task.SetConfig("network_mode", spec.Network)
	}
	task.Env = maps.Clone(spec.Env)
	if d.cfg.KillTimeout > 0 {
		kt := d.cfg.KillTimeout
		task.KillTimeout = &kt
	}

	group := api.NewTaskGroup(workerGroupName, 1).AddTask(task)

	job := api.NewServiceJob(spec.Name, spec.Name, d.region, d.cfg.Priority).
		AddTaskGroup(group)
	job.Datacenters = d.cfg.Datacenters
	job.Meta = maps.Clone(spec.Labels)

	return job
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
