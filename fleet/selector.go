// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"fmt"
	"slices"

	"github.com/hashicorp/queue-autoscaler/sdk"
)

// The supported scale in selector strategies.
const (
	SelectorOldestCreate = "oldest_create"
	SelectorNewestCreate = "newest_create"
)

// ScaleInSelector is the interface that defines how workers are selected for
// termination when performing scale in actions.
type ScaleInSelector interface {

	// Name returns the name of the selector strategy.
	Name() string

	// Select picks up to num workers from the passed list. The passed list is
	// not modified and the function never returns more workers than asked
	// for.
	Select([]sdk.Worker, int) []sdk.Worker
}

// NewSelector returns the selector identified by name. An empty name returns
// the default oldest_create selector. Unknown names return an error rather
// than defaulting so we do not stop workers the user wasn't expecting.
func NewSelector(name string) (ScaleInSelector, error) {
	switch name {
	case "", SelectorOldestCreate:
		return &oldestCreateSelector{}, nil
	case SelectorNewestCreate:
		return &newestCreateSelector{}, nil
	default:
		return nil, fmt.Errorf("unsupported scale in selector strategy: %v", name)
	}
}

// oldestCreateSelector selects the workers which have been running the
// longest.
type oldestCreateSelector struct{}

func (s *oldestCreateSelector) Name() string { return SelectorOldestCreate }

func (s *oldestCreateSelector) Select(workers []sdk.Worker, num int) []sdk.Worker {
	if num <= 0 {
		return nil
	}
	sorted := slices.Clone(workers)
	SortByCreation(sorted)
	return sorted[:min(num, len(sorted))]
}

// newestCreateSelector selects the most recently created workers.
type newestCreateSelector struct{}

func (s *newestCreateSelector) Name() string { return SelectorNewestCreate }

func (s *newestCreateSelector) Select(workers []sdk.Worker, num int) []sdk.Worker {
	if num <= 0 {
		return nil
	}
	sorted := slices.Clone(workers)
	SortByCreation(sorted)
	slices.Reverse(sorted)
	return sorted[:min(num, len(sorted))]
}
