// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package containers

import (
	"testing"

	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/hashicorp/snoop/e2e/registry"
	"github.com/shoenig/test/must"
)

// testPrivateRegistry regenerates the robot token on quay and stores it as
// the org's private registry.
func testPrivateRegistry(t *testing.T, f *e2eutil.Fixtures) {
	if f.Opts.QuayToken == "" {
		t.Skip("QUAY_API_TOKEN not set")
	}
	ctx := f.Context(t)
	org := f.Organization(t)

	creds, err := registry.NewQuay(f.Opts.QuayToken).Regenerate(ctx)
	must.NoError(t, err)

	err = f.Client.Users().SetPrivateRegistry(ctx, org.ID, &api.PrivateRegistryRequest{
		URL:      creds.URL,
		Username: creds.Username,
		Password: creds.Password,
	})
	must.NoError(t, err)

	me, err := f.Client.Users().Me(ctx)
	must.NoError(t, err)
	updated, ok := me.Organization(f.Opts.Org)
	must.True(t, ok)
	must.Eq(t, creds.URL, updated.PrivateRegistryURL)
	must.Eq(t, creds.Username, updated.PrivateRegistryUsername)
}
