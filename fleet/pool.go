// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/queue-autoscaler/sdk"
	"github.com/hashicorp/queue-autoscaler/sdk/helper/metrics"
)

// PoolConfig describes the members of a pool and the template used to create
// new ones.
type PoolConfig struct {

	// Prefix is the worker name prefix. Only workers whose name starts with
	// "<Prefix>-" are considered members of the pool.
	Prefix string

	// Image is the worker image used when creating workers.
	Image string

	// Network is the optional network workers are attached to.
	Network string

	// Labels are added to each created worker, in addition to OwnerLabel.
	Labels map[string]string

	// Env is the environment passed to each created worker.
	Env map[string]string

	// StopTimeout is the grace period used when purging the pool.
	StopTimeout time.Duration

	// MaxParallel bounds the number of concurrent lifecycle operations issued
	// while purging.
	MaxParallel int
}

// Pool is the runtime agnostic implementation of Inspector and Backend. It
// enforces pool ownership on top of a Driver and generates unique worker
// names.
type Pool struct {
	log    hclog.Logger
	driver Driver
	cfg    PoolConfig

	// counter makes worker names unique when several are created within the
	// same second.
	counter atomic.Uint64

	// purgeLock serializes PurgeAll calls.
	purgeLock sync.Mutex
}

// nowFunc is the function used to get the current time, overridable in tests.
var nowFunc = time.Now

// NewPool returns a Pool backed by the passed driver.
func NewPool(log hclog.Logger, driver Driver, cfg PoolConfig) *Pool {
	return &Pool{
		log:    log.Named("fleet").With("driver", driver.Name()),
		driver: driver,
		cfg:    cfg,
	}
}

// DriverName returns the name of the underlying driver.
func (p *Pool) DriverName() string { return p.driver.Name() }

// NewWorkerSpec returns a spec for a new pool member with a unique name in the
// form <prefix>-<unix seconds>-<counter>.
func (p *Pool) NewWorkerSpec() sdk.WorkerSpec {
	labels := maps.Clone(p.cfg.Labels)
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[OwnerLabel] = OwnerLabelValue

	return sdk.WorkerSpec{
		Name:    fmt.Sprintf("%s-%d-%d", p.cfg.Prefix, nowFunc().Unix(), p.counter.Add(1)),
		Image:   p.cfg.Image,
		Network: p.cfg.Network,
		Labels:  labels,
		Env:     maps.Clone(p.cfg.Env),
	}
}

// ListWorkers satisfies the ListWorkers function on the Inspector interface.
// Only running workers are returned, ordered by creation time and then name.
func (p *Pool) ListWorkers(ctx context.Context) (*sdk.WorkerSet, error) {
	return p.list(ctx, false)
}

func (p *Pool) list(ctx context.Context, includeStopped bool) (*sdk.WorkerSet, error) {
	defer metrics.MeasureSinceWithLabels([]string{"fleet", "list", "invoke_ms"}, time.Now(), p.labels())

	all, err := p.driver.List(ctx, map[string]string{OwnerLabel: OwnerLabelValue}, includeStopped)
	if err != nil {
		metrics.IncrCounterWithLabels([]string{"fleet", "list", "error_count"}, 1, p.labels())
		return nil, &InspectionError{Driver: p.driver.Name(), Err: err}
	}

	out := &sdk.WorkerSet{ObservedAt: nowFunc()}
	for _, w := range all {
		if p.owns(w) {
			out.Workers = append(out.Workers, w)
		}
	}
	SortByCreation(out.Workers)

	return out, nil
}

// owns reports whether the worker passes both the name and label checks.
func (p *Pool) owns(w sdk.Worker) bool {
	return strings.HasPrefix(w.Name, p.cfg.Prefix+"-") && w.Labels[OwnerLabel] == OwnerLabelValue
}

// Start satisfies the Start function on the Backend interface.
func (p *Pool) Start(ctx context.Context, spec sdk.WorkerSpec) (string, error) {
	defer metrics.MeasureSinceWithLabels([]string{"fleet", OpStart, "invoke_ms"}, time.Now(), p.labels())

	id, err := p.driver.Create(ctx, spec)
	if err != nil {
		metrics.IncrCounterWithLabels([]string{"fleet", OpStart, "error_count"}, 1, p.labels())
		return "", &LifecycleOpError{Op: OpStart, WorkerID: spec.Name, Err: err}
	}

	p.log.Info("started worker", "worker_name", spec.Name, "worker_id", id)
	return id, nil
}

// Stop satisfies the Stop function on the Backend interface. A worker that no
// longer exists is treated as successfully stopped.
func (p *Pool) Stop(ctx context.Context, id string, timeout time.Duration) error {
	defer metrics.MeasureSinceWithLabels([]string{"fleet", OpStop, "invoke_ms"}, time.Now(), p.labels())

	if err := p.driver.Stop(ctx, id, timeout); err != nil {
		if !errors.Is(err, ErrWorkerNotFound) {
			metrics.IncrCounterWithLabels([]string{"fleet", OpStop, "error_count"}, 1, p.labels())
			return &LifecycleOpError{Op: OpStop, WorkerID: id, Err: err}
		}
		p.log.Debug("worker already gone", "worker_id", id)
		return nil
	}

	if err := p.driver.Remove(ctx, id); err != nil && !errors.Is(err, ErrWorkerNotFound) {
		metrics.IncrCounterWithLabels([]string{"fleet", OpRemove, "error_count"}, 1, p.labels())
		return &LifecycleOpError{Op: OpRemove, WorkerID: id, Err: err}
	}

	p.log.Info("stopped worker", "worker_id", id)
	return nil
}

// PurgeAll satisfies the PurgeAll function on the Backend interface. Stopped
// members are purged too.
func (p *Pool) PurgeAll(ctx context.Context) (int, error) {
	p.purgeLock.Lock()
	defer p.purgeLock.Unlock()

	set, err := p.list(ctx, true)
	if err != nil {
		return 0, err
	}
	if set.Count() == 0 {
		p.log.Info("no workers to purge")
		return 0, nil
	}

	p.log.Info("purging workers", "count", set.Count())

	errs := Batch(ctx, p.cfg.MaxParallel, len(set.Workers), func(ctx context.Context, i int) error {
		return p.Stop(ctx, set.Workers[i].ID, p.cfg.StopTimeout)
	})

	var mErr *multierror.Error
	removed := 0
	for i, err := range errs {
		if err != nil {
			p.log.Error("failed to purge worker", "worker_id", set.Workers[i].ID,
				"worker_name", set.Workers[i].Name, "error", err)
			mErr = multierror.Append(mErr, err)
			continue
		}
		removed++
	}

	return removed, mErr.ErrorOrNil()
}

func (p *Pool) labels() []metrics.Label {
	return []metrics.Label{{Name: "driver", Value: p.driver.Name()}}
}

// SortByCreation orders workers oldest first, using the name to break ties so
// the order is stable regardless of how the runtime enumerates them.
func SortByCreation(workers []sdk.Worker) {
	sort.SliceStable(workers, func(i, j int) bool {
		if !workers[i].CreatedAt.Equal(workers[j].CreatedAt) {
			return workers[i].CreatedAt.Before(workers[j].CreatedAt)
		}
		return workers[i].Name < workers[j].Name
	})
}
