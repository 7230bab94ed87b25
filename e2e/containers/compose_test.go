// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package containers

import (
	"context"
	"testing"

	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/shoenig/test/must"
)

// composeCluster asks the platform for a compose cluster built from file in
// the tests repository and waits for the instances named expect. They are
// destroyed when the test ends.
func composeCluster(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, file, name string, expect ...string) []*api.InstanceRef {
	t.Helper()
	err := f.Client.Compose().Create(ctx, &api.ComposeClusterRequest{
		Repo:     f.Opts.Org + "/" + f.Opts.TestsRepo,
		Branch:   "master",
		FilePath: file,
		Name:     name,
		GithubID: f.Opts.OrgID,
	})
	must.NoError(t, err)

	refs := make([]*api.InstanceRef, 0, len(expect))
	for _, instName := range expect {
		ref := e2eutil.WaitForInstance(t, ctx, f, e2eutil.NameEquals(instName), instName)
		f.Logger.Info("compose instance created", "name", instName)
		refs = append(refs, ref)
	}
	e2eutil.DestroyOnCleanup(t, f, refs...)
	return refs
}

// testComposeExtends builds a compose file that extends another one.
func testComposeExtends(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)
	name := f.Name("compose-extends-test")

	refs := composeCluster(t, ctx, f, "/compose-extends-compose.yml", name, name+"-web")
	e2eutil.WaitForRunning(t, ctx, refs[0])
}
