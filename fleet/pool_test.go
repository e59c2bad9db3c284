// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/queue-autoscaler/sdk"
	"github.com/shoenig/test/must"
)

func testPool(t *testing.T) (*Pool, *MockDriver) {
	t.Helper()
	d := NewMockDriver()
	p := NewPool(hclog.NewNullLogger(), d, PoolConfig{
		Prefix:      "worker",
		Image:       "worker:latest",
		Labels:      map[string]string{"com.docker.compose.project": "demo"},
		Env:         map[string]string{"QUEUE_NAME": "jobs"},
		StopTimeout: time.Second,
		MaxParallel: 2,
	})
	return p, d
}

func owned(id, name string, created int64) sdk.Worker {
	return sdk.Worker{
		ID:        id,
		Name:      name,
		Labels:    map[string]string{OwnerLabel: OwnerLabelValue},
		CreatedAt: time.Unix(created, 0),
	}
}

func TestPool_NewWorkerSpec(t *testing.T) {
	oldNow := nowFunc
	t.Cleanup(func() { nowFunc = oldNow })
	nowFunc = func() time.Time { return time.Unix(1700000000, 0) }

	p, _ := testPool(t)

	first := p.NewWorkerSpec()
	second := p.NewWorkerSpec()

	must.Eq(t, "worker-1700000000-1", first.Name)
	must.Eq(t, "worker-1700000000-2", second.Name)
	must.Eq(t, "worker:latest", first.Image)
	must.Eq(t, OwnerLabelValue, first.Labels[OwnerLabel])
	must.Eq(t, "demo", first.Labels["com.docker.compose.project"])
	must.Eq(t, "jobs", first.Env["QUEUE_NAME"])

	// The template must not be aliased by returned specs.
	first.Labels["extra"] = "x"
	must.MapNotContainsKey(t, p.NewWorkerSpec().Labels, "extra")
}

func TestPool_ListWorkers(t *testing.T) {
	p, d := testPool(t)

	d.Add(owned("c", "worker-3-1", 30))
	d.Add(owned("a", "worker-1-1", 10))
	d.Add(owned("b2", "worker-1-3", 10))
	d.Add(owned("b1", "worker-1-2", 10))

	// Correct label but wrong prefix.
	d.Add(owned("x", "other-1-1", 5))
	d.Add(owned("y", "workers-1-1", 5))

	// Correct prefix but missing the ownership label.
	d.Add(sdk.Worker{ID: "z", Name: "worker-1-9", CreatedAt: time.Unix(1, 0)})

	set, err := p.ListWorkers(context.Background())
	must.NoError(t, err)
	must.Eq(t, []string{"a", "b1", "b2", "c"}, set.IDs())
}

func TestPool_ListWorkers_error(t *testing.T) {
	p, d := testPool(t)
	d.ListErr = errors.New("daemon unreachable")

	_, err := p.ListWorkers(context.Background())
	must.Error(t, err)

	var inspErr *InspectionError
	must.True(t, errors.As(err, &inspErr))
	must.Eq(t, "mock", inspErr.Driver)
}

func TestPool_StartStop(t *testing.T) {
	p, d := testPool(t)
	ctx := context.Background()

	id, err := p.Start(ctx, p.NewWorkerSpec())
	must.NoError(t, err)
	must.Eq(t, 1, d.Len())

	must.NoError(t, p.Stop(ctx, id, time.Second))
	must.Eq(t, 0, d.Len())

	// Stopping a worker which is already gone is not an error.
	must.NoError(t, p.Stop(ctx, id, time.Second))
}

func TestPool_Start_error(t *testing.T) {
	p, d := testPool(t)
	d.CreateErr = func(sdk.WorkerSpec) error { return errors.New("image not found") }

	spec := p.NewWorkerSpec()
	_, err := p.Start(context.Background(), spec)

	var opErr *LifecycleOpError
	must.True(t, errors.As(err, &opErr))
	must.Eq(t, OpStart, opErr.Op)
	must.Eq(t, spec.Name, opErr.WorkerID)
}

func TestPool_PurgeAll(t *testing.T) {
	p, d := testPool(t)
	ctx := context.Background()

	d.Add(owned("a", "worker-1-1", 1))
	d.Add(owned("b", "worker-1-2", 2))
	d.Add(owned("c", "worker-1-3", 3))
	d.Add(owned("keep", "db-1-1", 1))

	var calls atomic.Int32
	d.StopErr = func(id string) error {
		calls.Add(1)
		if id == "b" {
			return errors.New("stop timed out")
		}
		return nil
	}

	removed, err := p.PurgeAll(ctx)
	must.Error(t, err)
	must.Eq(t, 2, removed)
	must.Eq(t, int32(3), calls.Load())

	// The failed worker and the foreign one survive.
	must.Eq(t, 2, d.Len())

	d.StopErr = nil
	removed, err = p.PurgeAll(ctx)
	must.NoError(t, err)
	must.Eq(t, 1, removed)

	// Purging an empty pool is a no-op.
	removed, err = p.PurgeAll(ctx)
	must.NoError(t, err)
	must.Eq(t, 0, removed)
	must.Eq(t, 1, d.Len())
}

func TestBatch(t *testing.T) {
	var inflight, peak atomic.Int32

	errs := Batch(context.Background(), 2, 6, func(_ context.Context, i int) error {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)

		if i%2 == 0 {
			return errors.New("even")
		}
		return nil
	})

	must.SliceLen(t, 6, errs)
	for i, err := range errs {
		if i%2 == 0 {
			must.Error(t, err)
		} else {
			must.NoError(t, err)
		}
	}
	must.LessEq(t, int32(2), peak.Load())
}

func TestPool_stoppedWorkers(t *testing.T) {
	p, d := testPool(t)
	ctx := context.Background()

	exited := owned("old", "worker-1-1", 1)
	exited.State = "exited"
	d.Add(exited)
	d.Add(owned("live", "worker-2-1", 2))

	// Only running members count towards the pool size.
	set, err := p.ListWorkers(ctx)
	must.NoError(t, err)
	must.Eq(t, []string{"live"}, set.IDs())

	// Purging removes stopped members as well.
	removed, err := p.PurgeAll(ctx)
	must.NoError(t, err)
	must.Eq(t, 2, removed)
	must.Eq(t, 0, d.Len())
}
