// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package containers

import (
	"context"
	"strings"
	"testing"

	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/shoenig/test/must"
)

// testGithubWebhooks pushes a new branch to the repository and expects the
// platform to autofork the repository instance for it.
func testGithubWebhooks(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)
	ref := f.RepoOrExisting(t, ctx)

	attrs := ref.Attrs()
	must.NotNil(t, attrs.ContextVersion)
	must.SliceNotEmpty(t, attrs.ContextVersion.AppCodeVersions)
	owner, repo, ok := strings.Cut(attrs.ContextVersion.AppCodeVersions[0].Repo, "/")
	must.True(t, ok, must.Sprintf("unexpected repo %q", attrs.ContextVersion.AppCodeVersions[0].Repo))

	branch := "test-branch-" + millis()
	sha, err := f.Github.LastCommit(ctx, owner, repo, "")
	must.NoError(t, err)
	_, err = f.Github.CreateBranch(ctx, owner, repo, branch, sha)
	must.NoError(t, err)
	f.Logger.Info("pushed branch", "repo", owner+"/"+repo, "branch", branch, "sha", sha)
	if !f.Opts.NoCleanup {
		t.Cleanup(func() {
			if err := f.Github.DeleteBranch(context.Background(), owner, repo, branch); err != nil {
				t.Logf("failed to delete branch %s: %v", branch, err)
			}
		})
	}

	fork := e2eutil.WaitForInstance(t, ctx, f, func(inst *api.Instance) bool {
		return e2eutil.NameContains(repo)(inst) && e2eutil.NameContains(branch)(inst)
	}, branch)
	f.RepoBranchInstance = fork
	must.NoError(t, ref.Refresh(ctx))

	e2eutil.CheckWorkingContainer(t, ctx, f, fork, e2eutil.RepoCMDRegex)
}

// testMultipleWebhooks creates a compose cluster of two services from the
// tests repository and expects both to run.
func testMultipleWebhooks(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)
	name := f.Name("multiple-webhooks-test")

	refs := composeCluster(t, ctx, f, "/multiple-webhooks-compose.yml", name, name+"-test1", name+"-test2")
	for _, ref := range refs {
		e2eutil.WaitForRunning(t, ctx, ref)
	}
}
