// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/hashicorp/snoop/helper/poll"
	"github.com/shoenig/test/must"
)

const (
	curlCommand = "curl localhost\n"

	// a terminal that never prints the page is retried on a new connection
	dnsAttempts       = 5
	dnsAttemptTimeout = 20 * time.Second
)

// checkCurl runs curl inside ref's container until the repository answers
// with its database connection page.
func checkCurl(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, ref *api.InstanceRef) {
	t.Helper()
	must.NotNil(t, ref)
	err := poll.UntilFunc(ctx, func(ctx context.Context) (bool, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, dnsAttemptTimeout)
		defer cancel()
		if err := e2eutil.AwaitTerminal(attemptCtx, f.Client, ref, curlCommand, e2eutil.RepoContainerMatch); err != nil {
			f.Logger.Debug("curl did not reach the database yet", "instance", ref.Attrs().Name, "error", err)
			return false, nil
		}
		return true, nil
	}, poll.Attempts(dnsAttempts), poll.Logger(f.Logger))
	must.NoError(t, err, must.Sprintf("curl from %q", ref.Attrs().Name))
}

// testContainerDNS checks that repository containers reach the service
// container by its hostname.
func testContainerDNS(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)

	t.Run("master", func(t *testing.T) {
		checkCurl(t, ctx, f, f.RepoOrExisting(t, ctx))
	})
	t.Run("branch", func(t *testing.T) {
		if f.Opts.Isolation || f.Opts.NoWebhooks {
			t.Skip("branch instance is isolated or was never created")
		}
		checkCurl(t, ctx, f, f.RepoBranchInstance)
	})
	t.Run("isolated branch", func(t *testing.T) {
		if !f.Opts.Isolation {
			t.Skip("isolation disabled")
		}
		checkCurl(t, ctx, f, f.RepoBranchInstance)
	})
}

// testNaviURLs requests the repository containers through their public
// hostnames.
func testNaviURLs(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)

	t.Run("master", func(t *testing.T) {
		e2eutil.CheckNavi(t, ctx, f, f.RepoOrExisting(t, ctx), e2eutil.RepoContainerMatch)
	})
	t.Run("branch", func(t *testing.T) {
		if f.Opts.Isolation || f.Opts.NoWebhooks {
			t.Skip("branch instance is isolated or was never created")
		}
		must.NotNil(t, f.RepoBranchInstance)
		e2eutil.CheckNavi(t, ctx, f, f.RepoBranchInstance, e2eutil.RepoContainerMatch)
	})
}
