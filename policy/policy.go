// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package policy

import (
	"fmt"
	"time"

	"github.com/hashicorp/queue-autoscaler/sdk"
)

// SustainedLowCycles is the number of consecutive low backlog cycles after
// which the pool is forced towards its minimum even when the current backlog
// sits between the two thresholds.
const SustainedLowCycles = 3

// Config is the static scaling configuration of a pool.
type Config struct {
	Min                int64
	Max                int64
	ScaleUpThreshold   int64
	ScaleDownThreshold int64

	// MessagesPerWorker is the backlog a single worker is expected to drain.
	// Values below one are treated as one.
	MessagesPerWorker int64
}

// Validate checks the invariants required by Evaluate.
func (c Config) Validate() error {
	if c.Min < 0 {
		return fmt.Errorf("min must be zero or greater, got %d", c.Min)
	}
	if c.Min > c.Max {
		return fmt.Errorf("min (%d) must be less than or equal to max (%d)", c.Min, c.Max)
	}
	if c.ScaleDownThreshold > c.ScaleUpThreshold {
		return fmt.Errorf("scale down threshold (%d) must be less than or equal to scale up threshold (%d)",
			c.ScaleDownThreshold, c.ScaleUpThreshold)
	}
	return nil
}

// State is the memory carried between evaluations. It is owned by a single
// reconciler and never shared.
type State struct {

	// DownStreak counts consecutive cycles where the backlog was at or below
	// the scale down threshold.
	DownStreak int

	// LastScaleActionAt is the time of the last scaling action which changed
	// the live worker count. The zero value means never.
	LastScaleActionAt time.Time
}

// Evaluate computes the desired worker count from the current count and the
// observed backlog. It has no side effects; the returned State must replace
// the one passed in.
//
// The sustained-low rule consults the streak accumulated by previous cycles,
// so a pool which has been idle for SustainedLowCycles is shrunk on the first
// cycle whose backlog lands between the thresholds. A backlog at or above the
// scale up threshold never shrinks the pool.
func Evaluate(current, queueLength int64, cfg Config, state State) (sdk.ScalingDecision, State) {
	mpw := cfg.MessagesPerWorker
	if mpw < 1 {
		mpw = 1
	}
	if queueLength < 0 {
		queueLength = 0
	}

	priorStreak := state.DownStreak
	if queueLength >= cfg.ScaleUpThreshold {
		priorStreak = 0
	}
	next := state
	if queueLength <= cfg.ScaleDownThreshold {
		next.DownStreak++
	} else {
		next.DownStreak = 0
	}

	decision := sdk.ScalingDecision{Count: max(current, cfg.Min)}

	switch {
	case queueLength >= cfg.ScaleUpThreshold && current < cfg.Max:
		decision.Count = ceilDiv(queueLength, mpw)
		decision.Reason = fmt.Sprintf("queue length %d at or above scale up threshold %d",
			queueLength, cfg.ScaleUpThreshold)

	case queueLength <= cfg.ScaleDownThreshold && current > cfg.Min:
		decision.Count = max(cfg.Min, ceilDiv(queueLength, mpw))
		decision.Reason = fmt.Sprintf("queue length %d at or below scale down threshold %d",
			queueLength, cfg.ScaleDownThreshold)

	case max(priorStreak, next.DownStreak) >= SustainedLowCycles && current > cfg.Min:
		decision.Count = max(cfg.Min, ceilDiv(queueLength, mpw))
		decision.Reason = fmt.Sprintf("queue length low for %d consecutive cycles",
			max(priorStreak, next.DownStreak))

	default:
		decision.Reason = "queue length within thresholds"
	}

	decision.CapCount(cfg.Min, cfg.Max)
	decision.Direction = sdk.DirectionFor(current, decision.Count)

	return decision, next
}

// ceilDiv returns ceil(n/d) for non-negative n and positive d.
func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
