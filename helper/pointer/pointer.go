// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package pointer provides helpers for the optional fields of API requests.
package pointer

// Of returns a pointer to a.
func Of[A any](a A) *A {
	return &a
}

// Value returns the value a points to, or the zero value when a is nil.
func Value[A any](a *A) A {
	if a == nil {
		var zero A
		return zero
	}
	return *a
}
