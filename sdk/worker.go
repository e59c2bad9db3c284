// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sdk

import (
	"time"
)

// Worker is a single live member of the managed pool as reported by a fleet
// driver.
type Worker struct {
	ID        string
	Name      string
	Labels    map[string]string
	State     string
	CreatedAt time.Time
}

// WorkerSet is a point in time listing of the pool. It is the authoritative
// source of the current count for a single reconciliation cycle.
type WorkerSet struct {
	Workers    []Worker
	ObservedAt time.Time
}

// Count returns the number of workers within the set.
func (ws *WorkerSet) Count() int64 {
	if ws == nil {
		return 0
	}
	return int64(len(ws.Workers))
}

// IDs returns the identities of all workers within the set.
func (ws *WorkerSet) IDs() []string {
	if ws == nil {
		return nil
	}
	out := make([]string, len(ws.Workers))
	for i, w := range ws.Workers {
		out[i] = w.ID
	}
	return out
}

// WorkerSpec describes a worker that should be created by a fleet driver.
type WorkerSpec struct {
	Name    string
	Image   string
	Network string
	Labels  map[string]string
	Env     map[string]string
}

// QueueSnapshot is a single observation of the backlog on the monitored
// queue.
type QueueSnapshot struct {
	Queue      string
	Length     int64
	ObservedAt time.Time
}
