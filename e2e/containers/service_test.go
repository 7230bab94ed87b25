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

// templateOwner owns the service templates offered to every org.
const templateOwner = "HelloRunnable"

// testServiceContainers deploys the service from its template and checks
// the resulting container works.
func testServiceContainers(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)

	templates, err := f.Client.Instances().List(ctx, &api.InstanceListOptions{
		GithubUsername: templateOwner,
		Name:           f.Opts.ServiceName,
	})
	must.NoError(t, err)
	var template *api.Instance
	for _, inst := range templates {
		if e2eutil.NameEquals(f.Opts.ServiceName)(inst) {
			template = inst
			break
		}
	}
	must.NotNil(t, template, must.Sprintf("no %s template owned by %s", f.Opts.ServiceName, templateOwner))
	must.NotNil(t, template.ContextVersion)

	cv, err := f.Client.Contexts().DeepCopyVersion(ctx, template.ContextVersion, f.Owner())
	must.NoError(t, err)
	cv, err = f.Client.Contexts().UpdateVersion(ctx, cv, &api.ContextVersionUpdateRequest{Advanced: pointer.Of(true)})
	must.NoError(t, err)
	must.True(t, cv.Advanced)

	b := build(t, ctx, f, cv)
	ref := deploy(t, ctx, f, b, f.Opts.ServiceName, "TIME="+millis())
	must.NoError(t, ref.Update(ctx, &api.InstanceUpdateRequest{ShouldNotAutofork: pointer.Of(false)}))
	f.ServiceInstance = ref

	e2eutil.CheckWorkingContainer(t, ctx, f, ref, e2eutil.ServiceCMDRegex)
}

// testCustomDockerfile builds a container from a hand written Dockerfile
// with no repository attached.
func testCustomDockerfile(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)

	source := sourceContextVersion(t, ctx, f, sourceStack)
	cv := newContextVersion(t, ctx, f, source)
	copySourceFiles(t, ctx, f, cv, source)
	setDockerfile(t, ctx, f, cv, "FROM rethinkdb")

	b := build(t, ctx, f, cv)
	ref := deploy(t, ctx, f, b, f.Name(f.Opts.RepoName+"-docker"), "WOW=YEYE")
	e2eutil.DestroyOnCleanup(t, f, ref)

	e2eutil.CheckWorkingContainer(t, ctx, f, ref, e2eutil.ServiceCMDRegex)
	must.SliceContains(t, ref.Attrs().Env, "WOW=YEYE")
}
