// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/hashicorp/queue-autoscaler/sdk"
)

// MockDriver is an in-memory Driver implementation used in tests.
type MockDriver struct {
	lock    sync.Mutex
	workers map[string]sdk.Worker
	nextID  int
	calls   []string

	// ListErr, when set, is returned by List.
	ListErr error

	// CreateErr, when set, is called for each Create and a non-nil return
	// fails the call.
	CreateErr func(spec sdk.WorkerSpec) error

	// StopErr, when set, is called for each Stop and a non-nil return fails
	// the call.
	StopErr func(id string) error
}

// NewMockDriver returns an empty MockDriver.
func NewMockDriver() *MockDriver {
	return &MockDriver{workers: make(map[string]sdk.Worker)}
}

func (m *MockDriver) Name() string { return "mock" }

// Add inserts a worker directly, bypassing Create.
func (m *MockDriver) Add(w sdk.Worker) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.workers[w.ID] = w
}

// Calls returns the lifecycle calls issued against the driver, in the form
// "<op>:<name or id>".
func (m *MockDriver) Calls() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.calls...)
}

// ResetCalls clears the recorded calls.
func (m *MockDriver) ResetCalls() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.calls = nil
}

// Len returns the number of workers currently held.
func (m *MockDriver) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.workers)
}

func (m *MockDriver) List(_ context.Context, labels map[string]string, includeStopped bool) ([]sdk.Worker, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var out []sdk.Worker
	for _, w := range m.workers {
		if !includeStopped && w.State != "" && w.State != StateRunning {
			continue
		}
		if hasLabels(w.Labels, labels) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *MockDriver) Create(_ context.Context, spec sdk.WorkerSpec) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.calls = append(m.calls, OpStart+":"+spec.Name)
	if m.CreateErr != nil {
		if err := m.CreateErr(spec); err != nil {
			return "", err
		}
	}

	m.nextID++
	id := fmt.Sprintf("mock-%d", m.nextID)
	m.workers[id] = sdk.Worker{
		ID:        id,
		Name:      spec.Name,
		Labels:    maps.Clone(spec.Labels),
		State:     StateRunning,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (m *MockDriver) Stop(_ context.Context, id string, _ time.Duration) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.calls = append(m.calls, OpStop+":"+id)
	if m.StopErr != nil {
		if err := m.StopErr(id); err != nil {
			return err
		}
	}
	if _, ok := m.workers[id]; !ok {
		return ErrWorkerNotFound
	}
	return nil
}

func (m *MockDriver) Remove(_ context.Context, id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.calls = append(m.calls, OpRemove+":"+id)
	if _, ok := m.workers[id]; !ok {
		return ErrWorkerNotFound
	}
	delete(m.workers, id)
	return nil
}

func hasLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
