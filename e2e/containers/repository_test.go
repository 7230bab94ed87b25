// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package containers

import (
	"testing"

	"github.com/grafana/regexp"
	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/hashicorp/snoop/helper/pointer"
	"github.com/shoenig/test/must"
)

var mirroredDockerfileEnv = regexp.MustCompile(`IS_MIRRORED_DOCKERFILE`)

// testRepositoryContainers builds the repository on the Node source
// context and checks the container connects to the service.
func testRepositoryContainers(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)

	ref, b := repoInstance(t, ctx, f, f.Name(f.Opts.RepoName))
	f.RepoInstance = ref
	f.RepoBuild = b

	e2eutil.CheckWorkingContainer(t, ctx, f, ref, e2eutil.RepoCMDRegex)
}

// testMirroredDockerfile builds the repository with the Dockerfile kept in
// the repository itself.
func testMirroredDockerfile(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)

	source := sourceContextVersion(t, ctx, f, sourceStack)
	cv := newContextVersion(t, ctx, f, source)
	copySourceFiles(t, ctx, f, cv, source)
	addRepo(t, ctx, f, cv)

	cv, err := f.Client.Contexts().UpdateVersion(ctx, cv, &api.ContextVersionUpdateRequest{
		Advanced:            pointer.Of(true),
		BuildDockerfilePath: "/Dockerfile",
	})
	must.NoError(t, err)
	must.Eq(t, "/Dockerfile", cv.BuildDockerfilePath)

	copied, err := f.Client.Contexts().DeepCopyVersion(ctx, cv, f.Owner())
	must.NoError(t, err)
	must.NotEq(t, cv.ID, copied.ID)
	must.Eq(t, cv.Context, copied.Context)

	b := build(t, ctx, f, copied)
	ref := deploy(t, ctx, f, b, f.Name(f.Opts.RepoName+"-mirrored-dockerfile-container"),
		serviceLinkEnv(t, ctx, f))
	must.NoError(t, ref.Update(ctx, &api.InstanceUpdateRequest{ShouldNotAutofork: pointer.Of(false)}))
	e2eutil.DestroyOnCleanup(t, f, ref)

	e2eutil.CheckWorkingContainer(t, ctx, f, ref, e2eutil.RepoCMDRegex)
	e2eutil.CheckTerminal(t, ctx, f.Client, ref, "sleep 1 && printenv\n", mirroredDockerfileEnv)
}

// testRebuildWithoutCache rebuilds the repository instance from a copy of
// its build with the docker cache disabled.
func testRebuildWithoutCache(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)
	ref := f.RepoOrExisting(t, ctx)

	buildID := ""
	if f.RepoBuild != nil {
		buildID = f.RepoBuild.ID
	} else if attrs := ref.Attrs(); attrs.Build != nil {
		buildID = attrs.Build.ID
	}
	must.NotEq(t, "", buildID, must.Sprint("repository instance has no build"))

	copied, err := f.Client.Builds().DeepCopy(ctx, buildID)
	must.NoError(t, err)
	must.NotEq(t, buildID, copied.ID)

	rebuilt, err := f.Client.Builds().Build(ctx, copied.ID, &api.BuildOptions{Message: "Manual build", NoCache: true})
	must.NoError(t, err)
	must.NoError(t, ref.Update(ctx, &api.InstanceUpdateRequest{Build: rebuilt.ID}))
	must.NoError(t, ref.Refresh(ctx))
	f.RepoBuild = rebuilt

	e2eutil.CheckWorkingContainer(t, ctx, f, ref, e2eutil.RepoCMDRegex)
}
