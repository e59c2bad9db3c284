// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Batch calls fn once for every index in [0, n) with at most limit calls in
// flight, and returns the per index errors after every call has returned. A
// failing call never cancels its siblings. A limit below one means no limit.
func Batch(ctx context.Context, limit, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i := 0; i < n; i++ {
		g.Go(func() error {
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	return errs
}
