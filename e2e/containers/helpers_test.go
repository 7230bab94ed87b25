// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package containers

import (
	"context"
	_ "embed"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/grafana/regexp"
	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/hashicorp/snoop/helper/uuid"
	"github.com/shoenig/test/must"
)

//go:embed testdata/source-dockerfile-body.txt
var sourceDockerfile string

// sourceStack selects the source context repository containers start from.
var sourceStack = regexp.MustCompile(`(?i)nodejs`)

// millis is used to make env values and branch names unique per run.
func millis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// sourceContextVersion returns the newest version of the source context
// whose name matches re.
func sourceContextVersion(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, re *regexp.Regexp) *api.ContextVersion {
	t.Helper()
	contexts, err := f.Client.Contexts().List(ctx, true)
	must.NoError(t, err)

	var source *api.Context
	for _, c := range contexts {
		if c.IsSource && re.MatchString(c.LowerName) {
			source = c
			break
		}
	}
	must.NotNil(t, source, must.Sprintf("no source context matching %s", re))

	versions, err := f.Client.Contexts().Versions(ctx, source.ID)
	must.NoError(t, err)
	must.SliceNotEmpty(t, versions, must.Sprintf("source context %q has no versions", source.Name))
	return versions[0]
}

// newContextVersion creates a fresh context owned by the org and a first
// version of it based on source.
func newContextVersion(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, source *api.ContextVersion) *api.ContextVersion {
	t.Helper()
	c, err := f.Client.Contexts().Create(ctx, &api.ContextCreateRequest{
		Name:  uuid.Generate(),
		Owner: f.Owner(),
	})
	must.NoError(t, err)

	var sourceID string
	if source != nil {
		sourceID = source.ID
	}
	cv, err := f.Client.Contexts().CreateVersion(ctx, c.ID, sourceID)
	must.NoError(t, err)
	return cv
}

// copySourceFiles copies the infra-code files of source into cv.
func copySourceFiles(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, cv, source *api.ContextVersion) {
	t.Helper()
	must.NoError(t, f.Client.Contexts().CopyFilesFromSource(ctx, cv, source.InfraCodeVersion))
}

// setDockerfile replaces the body of cv's /Dockerfile.
func setDockerfile(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, cv *api.ContextVersion, body string) {
	t.Helper()
	file, err := f.Client.Contexts().UpdateFile(ctx, cv, "/Dockerfile", body)
	must.NoError(t, err)
	must.Eq(t, body, file.Body)
}

// addRepo pins the master branch of the run's repository into cv.
func addRepo(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, cv *api.ContextVersion) (*api.GithubRepo, *api.AppCodeVersion) {
	t.Helper()
	repo, err := f.Client.Github().Repo(ctx, f.Opts.Org, f.Opts.RepoName)
	must.NoError(t, err)
	branch, err := f.Client.Github().Branch(ctx, f.Opts.Org, f.Opts.RepoName, "master")
	must.NoError(t, err)

	// the platform runs its stack analysis before the first repo build
	if _, err := f.Client.Github().Analyze(ctx, repo.FullName); err != nil {
		f.Logger.Warn("stack analysis failed", "repo", repo.FullName, "error", err)
	}

	acv, err := f.Client.Contexts().CreateAppCodeVersion(ctx, cv, &api.AppCodeVersion{
		Repo:   repo.FullName,
		Branch: branch.Name,
		Commit: branch.Commit.SHA,
	})
	must.NoError(t, err)
	return repo, acv
}

// build creates a build of cv and starts it.
func build(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, cv *api.ContextVersion) *api.Build {
	t.Helper()
	b, err := f.Client.Builds().Create(ctx, &api.BuildCreateRequest{
		ContextVersions: []string{cv.ID},
		Owner:           f.Owner(),
	})
	must.NoError(t, err)

	b, err = f.Client.Builds().Build(ctx, b.ID, &api.BuildOptions{Message: "Initial Build"})
	must.NoError(t, err)
	return b
}

// deploy creates an instance of b. Instances start without the ingress
// whitelist and as masters of their pod.
func deploy(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, b *api.Build, name string, env ...string) *api.InstanceRef {
	t.Helper()
	ref, err := f.Client.Instances().Create(ctx, &api.InstanceCreateRequest{
		Name:        name,
		Build:       b.ID,
		Owner:       f.Owner(),
		MasterPod:   true,
		Env:         env,
		IPWhitelist: &api.IPWhitelist{Enabled: false},
	})
	must.NoError(t, err)
	f.Logger.Info("created instance", "name", name, "id", ref.ID())
	return ref
}

// repoInstance builds the run's repository on top of the source Node
// context and deploys it as name, linked to the service instance.
func repoInstance(t *testing.T, ctx context.Context, f *e2eutil.Fixtures, name string) (*api.InstanceRef, *api.Build) {
	t.Helper()
	source := sourceContextVersion(t, ctx, f, sourceStack)
	cv := newContextVersion(t, ctx, f, source)
	copySourceFiles(t, ctx, f, cv, source)
	setDockerfile(t, ctx, f, cv, strings.ReplaceAll(sourceDockerfile, "GITHUB_REPO_NAME", f.Opts.RepoName))
	addRepo(t, ctx, f, cv)

	b := build(t, ctx, f, cv)
	ref := deploy(t, ctx, f, b, name, serviceLinkEnv(t, ctx, f))
	return ref, b
}

// serviceLinkEnv points a repository container at the service container.
func serviceLinkEnv(t *testing.T, ctx context.Context, f *e2eutil.Fixtures) string {
	service := f.ServiceOrExisting(t, ctx)
	return strings.ToUpper(f.Opts.ServiceName) + "=" + service.ContainerHostname()
}
