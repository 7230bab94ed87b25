// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"strconv"
	"testing"
)

// RequireE2E skips the test unless an AUTH_TOKEN is available to log in to a
// real platform.
func RequireE2E(t *testing.T) {
	t.Helper()
	if os.Getenv("AUTH_TOKEN") == "" {
		t.Skip("AUTH_TOKEN not set; skipping end-to-end test")
	}
}

// Parallel marks the test parallel unless running in CI.
func Parallel(t *testing.T) {
	value := os.Getenv("CI")
	isCI, err := strconv.ParseBool(value)
	if !isCI || err != nil {
		t.Parallel()
	}
}
