// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/queue-autoscaler/fleet"
	"github.com/hashicorp/queue-autoscaler/policy"
	"github.com/hashicorp/queue-autoscaler/queue"
	"github.com/hashicorp/queue-autoscaler/sdk"
	"github.com/hashicorp/queue-autoscaler/sdk/helper/metrics"
)

// nowFunc is the function used to get the current time, overridable in tests.
var nowFunc = time.Now

// Fleet is the pool the reconciler drives.
type Fleet interface {
	fleet.Inspector
	fleet.Backend

	// NewWorkerSpec returns the spec of a new, uniquely named, worker.
	NewWorkerSpec() sdk.WorkerSpec
}

// Config is the static configuration of the control loop.
type Config struct {
	Policy policy.Config

	PollInterval   time.Duration
	CooldownPeriod time.Duration
	StopTimeout    time.Duration

	// MaxParallel bounds the number of lifecycle operations in flight within
	// a single scaling action. A value below one means no limit.
	MaxParallel int

	// DryRun computes and logs decisions without issuing any lifecycle
	// operation.
	DryRun bool
}

// Reconciler runs the poll, decide, act loop which keeps the pool size in
// line with the queue backlog.
type Reconciler struct {
	log      hclog.Logger
	cfg      Config
	source   queue.DepthSource
	fleet    Fleet
	selector fleet.ScaleInSelector

	// state is only read and written by the goroutine running cycles.
	state policy.State

	stateLock sync.RWMutex
	phase     phase

	statusLock sync.RWMutex
	status     Status
}

// Status is a point in time view of the reconciler, safe to read from any
// goroutine.
type Status struct {
	Phase             string    `codec:"phase"`
	LastCycleAt       time.Time `codec:"last_cycle_at"`
	QueueLength       int64     `codec:"queue_length"`
	QueueAvailable    bool      `codec:"queue_available"`
	CurrentCount      int64     `codec:"current_count"`
	DesiredCount      int64     `codec:"desired_count"`
	Direction         string    `codec:"direction"`
	Reason            string    `codec:"reason"`
	Outcome           string    `codec:"outcome"`
	DownStreak        int       `codec:"down_streak"`
	LastScaleActionAt time.Time `codec:"last_scale_action_at"`
	CooldownRemaining string    `codec:"cooldown_remaining"`
}

// New returns a Reconciler. A nil selector uses the oldest_create strategy.
func New(log hclog.Logger, cfg Config, source queue.DepthSource, f Fleet, selector fleet.ScaleInSelector) *Reconciler {
	if selector == nil {
		selector, _ = fleet.NewSelector(fleet.SelectorOldestCreate)
	}
	return &Reconciler{
		log:      log.Named("reconciler"),
		cfg:      cfg,
		source:   source,
		fleet:    f,
		selector: selector,
		phase:    phaseIdle,
		status:   Status{Phase: phaseIdle.String()},
	}
}

// Run executes reconciliation cycles until the context is cancelled. The first
// cycle runs immediately and each following one starts PollInterval after the
// previous one finished, so cycles never overlap.
func (r *Reconciler) Run(ctx context.Context) {
	r.log.Info("starting reconciler", "poll_interval", r.cfg.PollInterval,
		"cooldown", r.cfg.CooldownPeriod, "dry_run", r.cfg.DryRun)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.setPhase(phaseStopped)
			r.log.Info("stopping reconciler due to context done")
			return
		case <-timer.C:
		}

		r.runCycle(ctx)
		r.setPhase(phaseIdle)
		timer.Reset(r.cfg.PollInterval)
	}
}

// Status returns the status recorded by the most recent cycle.
func (r *Reconciler) Status() Status {
	r.statusLock.RLock()
	defer r.statusLock.RUnlock()

	s := r.status
	s.Phase = r.getPhase().String()
	return s
}

// runCycle performs a single poll, decide, act pass.
func (r *Reconciler) runCycle(ctx context.Context) outcome {
	now := nowFunc()
	defer metrics.MeasureSinceWithLabels([]string{"cycle", "invoke_ms"}, now, nil)

	r.setPhase(phasePolling)

	status := Status{LastCycleAt: now, QueueAvailable: true}

	snap, err := r.source.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeSkipped
		}
		r.log.Warn("failed to read queue depth, assuming empty queue", "error", err)
		status.QueueAvailable = false
	} else {
		status.QueueLength = snap.Length
	}

	set, err := r.fleet.ListWorkers(ctx)
	if err != nil {
		r.log.Error("failed to list workers, skipping cycle", "error", err)
		metrics.IncrCounter([]string{"cycle", "skip_count"}, 1)
		status.Outcome = outcomeSkipped.String()
		r.setStatus(status)
		return outcomeSkipped
	}

	r.setPhase(phaseDeciding)

	current := set.Count()
	decision, next := policy.Evaluate(current, status.QueueLength, r.cfg.Policy, r.state)
	r.state = next

	status.CurrentCount = current
	status.DesiredCount = decision.Count
	status.Direction = decision.Direction.String()
	status.Reason = decision.Reason
	status.DownStreak = r.state.DownStreak

	metrics.SetGauge([]string{"queue", "length"}, float32(status.QueueLength))
	metrics.SetGauge([]string{"workers", "current"}, float32(current))
	metrics.SetGauge([]string{"workers", "desired"}, float32(decision.Count))

	r.log.Debug("evaluated scaling policy", "queue_length", status.QueueLength,
		"current", current, "desired", decision.Count, "down_streak", r.state.DownStreak,
		"reason", decision.Reason)

	out := r.decide(ctx, now, set, decision)

	status.Outcome = out.String()
	status.LastScaleActionAt = r.state.LastScaleActionAt
	if rem := r.remainingCooldown(nowFunc()); rem > 0 {
		status.CooldownRemaining = rem.Round(time.Second).String()
	}
	r.setStatus(status)

	return out
}

func (r *Reconciler) decide(ctx context.Context, now time.Time, set *sdk.WorkerSet, decision sdk.ScalingDecision) outcome {
	current := set.Count()

	if decision.Count == current {
		r.log.Debug("no scaling needed", "current", current)
		return outcomeNoAction
	}

	if rem := r.remainingCooldown(now); rem > 0 {
		r.setPhase(phaseCooling)
		r.log.Info("skipping scaling, still on cooldown", "remaining", rem,
			"current", current, "desired", decision.Count)
		metrics.IncrCounter([]string{"scale", "cooldown", "skip_count"}, 1)
		return outcomeCooldown
	}

	r.log.Info("scaling workers", "direction", decision.Direction, "from", current,
		"to", decision.Count, "reason", decision.Reason)

	if r.cfg.DryRun {
		r.log.Info("dry-run enabled, no lifecycle operation issued")
		return outcomeDryRun
	}

	r.setPhase(phaseActing)

	labels := []metrics.Label{{Name: "direction", Value: decision.Direction.String()}}
	defer metrics.MeasureSinceWithLabels([]string{"scale", "invoke_ms"}, nowFunc(), labels)

	var succeeded, failed int
	switch decision.Direction {
	case sdk.ScaleDirectionUp:
		succeeded, failed = r.scaleUp(ctx, int(decision.Count-current))
	case sdk.ScaleDirectionDown:
		succeeded, failed = r.scaleDown(ctx, set.Workers, int(current-decision.Count))
	}

	metrics.IncrCounterWithLabels([]string{"scale", "invoke", "success_count"}, float32(succeeded), labels)
	metrics.IncrCounterWithLabels([]string{"scale", "invoke", "error_count"}, float32(failed), labels)

	if succeeded == 0 {
		r.log.Error("scaling action failed, cooldown not started", "failed", failed)
		return outcomeFailed
	}

	r.state.LastScaleActionAt = nowFunc()

	if failed > 0 {
		r.log.Warn("scaling action partially succeeded", "succeeded", succeeded, "failed", failed)
		return outcomePartial
	}
	return outcomeScaled
}

// scaleUp starts n workers and returns the number of successful and failed
// starts.
func (r *Reconciler) scaleUp(ctx context.Context, n int) (int, int) {
	specs := make([]sdk.WorkerSpec, n)
	for i := range specs {
		specs[i] = r.fleet.NewWorkerSpec()
	}

	errs := fleet.Batch(ctx, r.cfg.MaxParallel, n, func(ctx context.Context, i int) error {
		_, err := r.fleet.Start(ctx, specs[i])
		return err
	})

	var failed int
	for i, err := range errs {
		if err != nil {
			failed++
			r.log.Error("failed to start worker", "worker_name", specs[i].Name, "op", fleet.OpStart, "error", err)
		}
	}
	return n - failed, failed
}

// scaleDown stops n workers chosen by the selector and returns the number of
// successful and failed stops.
func (r *Reconciler) scaleDown(ctx context.Context, workers []sdk.Worker, n int) (int, int) {
	victims := r.selector.Select(workers, n)

	errs := fleet.Batch(ctx, r.cfg.MaxParallel, len(victims), func(ctx context.Context, i int) error {
		return r.fleet.Stop(ctx, victims[i].ID, r.cfg.StopTimeout)
	})

	var failed int
	for i, err := range errs {
		if err != nil {
			failed++
			r.log.Error("failed to stop worker", "worker_id", victims[i].ID,
				"worker_name", victims[i].Name, "op", fleet.OpStop, "error", err)
		}
	}
	return len(victims) - failed, failed
}

// remainingCooldown returns how long the pool stays on cooldown. A zero or
// negative value means no cooldown applies.
func (r *Reconciler) remainingCooldown(now time.Time) time.Duration {
	if r.state.LastScaleActionAt.IsZero() {
		return 0
	}
	return r.cfg.CooldownPeriod - now.Sub(r.state.LastScaleActionAt)
}

func (r *Reconciler) setStatus(s Status) {
	r.statusLock.Lock()
	defer r.statusLock.Unlock()
	r.status = s
}

func (r *Reconciler) setPhase(p phase) {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()
	r.phase = p
}

func (r *Reconciler) getPhase() phase {
	r.stateLock.RLock()
	defer r.stateLock.RUnlock()
	return r.phase
}
