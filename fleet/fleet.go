// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/queue-autoscaler/sdk"
)

// OwnerLabel is applied to every worker created by the autoscaler and is used,
// alongside the name prefix, to identify members of the pool.
const (
	OwnerLabel      = "autoscaler.owner"
	OwnerLabelValue = "true"
)

// StateRunning is the normalized state of a running worker.
const StateRunning = "running"

// Lifecycle operation names used within LifecycleOpError.
const (
	OpStart  = "start"
	OpStop   = "stop"
	OpRemove = "remove"
)

// ErrWorkerNotFound is returned by drivers when the referenced worker does not
// exist. Stopping or removing a worker which is already gone is not an error
// at the pool level.
var ErrWorkerNotFound = errors.New("worker not found")

// Inspector lists the live members of the pool.
type Inspector interface {
	ListWorkers(ctx context.Context) (*sdk.WorkerSet, error)
}

// Backend issues lifecycle operations against individual pool members.
type Backend interface {

	// Start creates and starts a single worker, returning its identity.
	Start(ctx context.Context, spec sdk.WorkerSpec) (string, error)

	// Stop gracefully stops the worker, waiting up to timeout before the
	// runtime kills it, and then removes it.
	Stop(ctx context.Context, id string, timeout time.Duration) error

	// PurgeAll stops and removes every member of the pool. It is best effort;
	// individual failures are aggregated and do not halt the remaining
	// removals. The number of removed workers is returned.
	PurgeAll(ctx context.Context) (int, error)
}

// Driver is the runtime specific implementation used by Pool. Drivers do not
// need to filter by name prefix; Pool enforces the full ownership check.
type Driver interface {

	// Name returns the name of the driver, used for logging and metrics.
	Name() string

	// List returns the workers which carry every one of the passed labels.
	// Stopped workers are only included when includeStopped is true.
	List(ctx context.Context, labels map[string]string, includeStopped bool) ([]sdk.Worker, error)

	// Create creates and starts a worker from the spec.
	Create(ctx context.Context, spec sdk.WorkerSpec) (string, error)

	// Stop stops a worker. ErrWorkerNotFound must be returned, or wrapped,
	// when the worker does not exist.
	Stop(ctx context.Context, id string, timeout time.Duration) error

	// Remove deletes a stopped worker. ErrWorkerNotFound must be returned,
	// or wrapped, when the worker does not exist.
	Remove(ctx context.Context, id string) error
}

// InspectionError is returned when the pool membership could not be listed.
// Reconciliation cycles observing it are skipped.
type InspectionError struct {
	Driver string
	Err    error
}

func (e *InspectionError) Error() string {
	return fmt.Sprintf("failed to list %s workers: %v", e.Driver, e.Err)
}

func (e *InspectionError) Unwrap() error { return e.Err }

// LifecycleOpError is returned when a single start, stop, or remove operation
// failed.
type LifecycleOpError struct {
	Op       string
	WorkerID string
	Err      error
}

func (e *LifecycleOpError) Error() string {
	if e.WorkerID == "" {
		return fmt.Sprintf("failed to %s worker: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s worker %s: %v", e.Op, e.WorkerID, e.Err)
}

func (e *LifecycleOpError) Unwrap() error { return e.Err }
