// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package containers

import (
	"testing"

	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/shoenig/test/must"
)

// testCleanup destroys the service and repository instances left over by
// earlier runs.
func testCleanup(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)

	destroyed, err := e2eutil.CleanupInstances(ctx, f.Client, f.Opts.Org, f.Opts.ServiceName, f.Opts.RepoName)
	must.NoError(t, err)
	f.Logger.Info("cleaned up instances", "count", len(destroyed), "names", destroyed)
}
