// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package ptr

// Of returns a pointer to a copy of v.
func Of[T any](v T) *T {
	return &v
}

func BoolToPtr(b bool) *bool { return Of(b) }

func IntToPtr(i int) *int { return Of(i) }

func Int64ToPtr(i int64) *int64 { return Of(i) }

// DerefOr returns the value pointed to by p, or def when p is nil.
func DerefOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
