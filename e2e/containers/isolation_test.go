// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package containers

import (
	"testing"

	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/hashicorp/snoop/helper/pointer"
	"github.com/shoenig/test/must"
)

// testIsolation isolates the branch instance together with the service and
// a second repository instance, then checks the isolated copies work.
func testIsolation(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)
	f.RepoOrExisting(t, ctx)
	service := f.ServiceOrExisting(t, ctx)
	must.NotNil(t, f.RepoBranchInstance, must.Sprint("isolation needs the branch instance created by the webhooks phase"))

	forIsolation, _ := repoInstance(t, ctx, f, f.Name(f.Opts.RepoName+"-for-isolation"))
	must.NoError(t, forIsolation.Update(ctx, &api.InstanceUpdateRequest{ShouldNotAutofork: pointer.Of(false)}))
	must.NoError(t, forIsolation.Refresh(ctx))
	e2eutil.DestroyOnCleanup(t, f, forIsolation)
	e2eutil.CheckWorkingContainer(t, ctx, f, forIsolation, e2eutil.RepoCMDRegex)

	attrs := forIsolation.Attrs()
	must.NotNil(t, attrs.ContextVersion)
	must.SliceNotEmpty(t, attrs.ContextVersion.AppCodeVersions)
	acv := attrs.ContextVersion.AppCodeVersions[0]

	iso, err := f.Client.Isolations().Create(ctx, &api.IsolationCreateRequest{
		Master: f.RepoBranchInstance.ID(),
		Children: []api.IsolationChild{
			{Instance: service.ID()},
			{Instance: forIsolation.ID(), Branch: acv.Branch},
		},
	})
	must.NoError(t, err)
	must.NotEq(t, "", iso.ID)
	f.Isolation = iso
	f.Logger.Info("created isolation", "id", iso.ID, "master", f.RepoBranchInstance.Attrs().Name)

	isolated, err := f.Client.Instances().List(ctx, &api.InstanceListOptions{
		GithubUsername:         f.Opts.Org,
		Isolated:               iso.ID,
		IsIsolationGroupMaster: pointer.Of(false),
	})
	must.NoError(t, err)

	var services, repos []*api.Instance
	for _, inst := range isolated {
		if e2eutil.NameContains(f.Opts.ServiceName)(inst) {
			services = append(services, inst)
		}
		if e2eutil.NameContains(attrs.Name)(inst) {
			repos = append(repos, inst)
		}
	}
	must.SliceLen(t, 1, services, must.Sprint("isolated service instances"))
	must.SliceLen(t, 1, repos, must.Sprint("isolated repository instances"))
	f.IsolatedServiceInstance = f.Client.Instances().Ref(services[0])
	f.IsolatedRepoInstance = f.Client.Instances().Ref(repos[0])

	t.Run("service", func(t *testing.T) {
		e2eutil.CheckWorkingContainer(t, ctx, f, f.IsolatedServiceInstance, e2eutil.IsolatedServiceCMDRegex)
	})
	t.Run("repository", func(t *testing.T) {
		e2eutil.CheckWorkingContainer(t, ctx, f, f.IsolatedRepoInstance, e2eutil.RepoCMDRegex)
	})
}
