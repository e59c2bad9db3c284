// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package queue

import (
	"context"
	"fmt"

	"github.com/hashicorp/queue-autoscaler/sdk"
)

// DepthSource reports the current backlog of the monitored queue.
type DepthSource interface {
	Fetch(ctx context.Context) (*sdk.QueueSnapshot, error)
}

// UnavailableError is returned when the queue depth could not be read after
// all retries. Callers should treat the backlog as empty and carry on.
type UnavailableError struct {
	Queue string

	// StatusCode is the last HTTP status received, or zero when no response
	// was received.
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("queue %q depth unavailable (status %d): %v", e.Queue, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("queue %q depth unavailable: %v", e.Queue, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
