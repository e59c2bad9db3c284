// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package reconciler

// phase is the step of the control loop currently executing.
type phase int

const (
	phaseIdle phase = iota
	phasePolling
	phaseDeciding
	phaseCooling
	phaseActing
	phaseStopped
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phasePolling:
		return "polling"
	case phaseDeciding:
		return "deciding"
	case phaseCooling:
		return "cooling"
	case phaseActing:
		return "acting"
	case phaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// outcome is the result of a single cycle.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeNoAction
	outcomeCooldown
	outcomeDryRun
	outcomeScaled
	outcomePartial
	outcomeFailed
)

func (o outcome) String() string {
	switch o {
	case outcomeSkipped:
		return "skipped"
	case outcomeNoAction:
		return "no_action"
	case outcomeCooldown:
		return "cooldown"
	case outcomeDryRun:
		return "dry_run"
	case outcomeScaled:
		return "scaled"
	case outcomePartial:
		return "partially_scaled"
	case outcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
