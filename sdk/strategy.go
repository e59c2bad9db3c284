// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sdk

import "fmt"

// ScalingDecision represents the policy's intention for the size of the
// worker pool. It includes the desired count along with useful information
// for operators about which rule produced it.
type ScalingDecision struct {

	// Count is the desired number of live workers. It is always within the
	// configured pool bounds once CapCount has been called.
	Count int64

	// Reason is a user friendly description of why the policy reached the
	// decision.
	Reason string

	// Direction is the scaling direction relative to the current count.
	Direction ScaleDirection

	// Capped is true when the count produced by the rule had to be clamped
	// into the pool bounds.
	Capped bool

	// OriginalCount holds the uncapped count when Capped is true.
	OriginalCount int64

	// ReasonHistory holds any reasons that were superseded.
	ReasonHistory []string
}

// ScaleDirection is an identifier used to describe how the pool should change
// relative to its current size.
type ScaleDirection int8

// The following constants are used to standardize the possible scaling
// directions for a decision. ScaleDirectionNone is the default and zero
// value.
const (
	// ScaleDirectionDown indicates the pool should lower the number of running
	// workers.
	ScaleDirectionDown ScaleDirection = iota - 1

	// ScaleDirectionNone indicates no scaling is required.
	ScaleDirectionNone

	// ScaleDirectionUp indicates the pool should increase the number of
	// running workers.
	ScaleDirectionUp
)

// String satisfies the Stringer interface and returns as string representation
// of the scaling direction.
func (d ScaleDirection) String() string {
	switch d {
	case ScaleDirectionDown:
		return "down"
	case ScaleDirectionUp:
		return "up"
	default:
		return "none"
	}
}

// DirectionFor returns the direction required to move from current to
// desired.
func DirectionFor(current, desired int64) ScaleDirection {
	switch {
	case desired > current:
		return ScaleDirectionUp
	case desired < current:
		return ScaleDirectionDown
	default:
		return ScaleDirectionNone
	}
}

// CapCount caps the value of Count so it remains within the specified limits.
func (d *ScalingDecision) CapCount(min, max int64) {
	oldCount, newCount := d.Count, d.Count
	if newCount < min {
		newCount = min
	} else if newCount > max {
		newCount = max
	}

	if newCount != oldCount {
		d.Capped = true
		d.OriginalCount = oldCount
		d.pushReason(fmt.Sprintf("capped count from %d to %d to stay within limits", oldCount, newCount))
		d.Count = newCount
	}
}

// pushReason updates the Reason value and stores the previous Reason in the
// history.
func (d *ScalingDecision) pushReason(r string) {
	if d.Reason != "" {
		d.ReasonHistory = append(d.ReasonHistory, d.Reason)
	}
	d.Reason = r
}
