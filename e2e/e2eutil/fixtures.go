// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package e2eutil

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/grafana/regexp"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/e2e/githubapi"
	"github.com/hashicorp/snoop/helper/testlog"
	"github.com/shoenig/test/must"
)

// Fixtures is the state shared by the phases of one run. Phases read what
// earlier phases created and record what they create for later ones.
type Fixtures struct {
	Opts   *Options
	Client *api.Client
	Github *githubapi.Client
	User   *api.User
	Logger hclog.Logger

	// RandInt suffixes every name created during the run.
	RandInt int

	ServiceInstance    *api.InstanceRef
	RepoInstance       *api.InstanceRef
	RepoBuild          *api.Build
	RepoBranchInstance *api.InstanceRef

	Isolation               *api.Isolation
	IsolatedServiceInstance *api.InstanceRef
	IsolatedRepoInstance    *api.InstanceRef
}

// NewFixtures logs in to the target in opts and returns fresh fixtures.
func NewFixtures(t testing.TB, opts *Options) *Fixtures {
	client, user := SnoopClient(t, opts)
	return &Fixtures{
		Opts:    opts,
		Client:  client,
		Github:  GithubClient(t, opts),
		User:    user,
		Logger:  testlog.HCLogger(t),
		RandInt: rand.IntN(1000000),
	}
}

// Owner is the instance owner of the org the run acts as.
func (f *Fixtures) Owner() api.Owner {
	return api.Owner{Github: f.Opts.OrgID, Username: f.Opts.Org}
}

// Organization returns the platform organization for the org, failing the
// test if the user does not belong to it.
func (f *Fixtures) Organization(t testing.TB) *api.Organization {
	org, ok := f.User.Organization(f.Opts.Org)
	must.True(t, ok, must.Sprintf("user is not a member of %q", f.Opts.Org))
	return org
}

// Name suffixes base with the run's random number.
func (f *Fixtures) Name(base string) string {
	return fmt.Sprintf("%s-%d", base, f.RandInt)
}

// Context returns a context bounded by the run timeout and cancelled when
// the test ends.
func (f *Fixtures) Context(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), f.Opts.Timeout)
	t.Cleanup(cancel)
	return ctx
}

// ServiceOrExisting returns the service instance of this run, falling back
// to the org's existing instance named after the service.
func (f *Fixtures) ServiceOrExisting(t testing.TB, ctx context.Context) *api.InstanceRef {
	t.Helper()
	if f.ServiceInstance == nil {
		f.ServiceInstance = f.lookup(t, ctx, NameEquals(f.Opts.ServiceName), f.Opts.ServiceName)
	}
	return f.ServiceInstance
}

// RepoOrExisting returns the repository instance of this run, falling back
// to the org's existing "<repo>-<n>" instance.
func (f *Fixtures) RepoOrExisting(t testing.TB, ctx context.Context) *api.InstanceRef {
	t.Helper()
	if f.RepoInstance == nil {
		re := regexp.MustCompile("^" + regexp.QuoteMeta(f.Opts.RepoName) + `-\d+$`)
		f.RepoInstance = f.lookup(t, ctx, func(inst *api.Instance) bool {
			return re.MatchString(inst.Name)
		}, f.Opts.RepoName)
	}
	return f.RepoInstance
}

func (f *Fixtures) lookup(t testing.TB, ctx context.Context, match func(*api.Instance) bool, desc string) *api.InstanceRef {
	t.Helper()
	list, err := f.Client.Instances().List(ctx, &api.InstanceListOptions{GithubUsername: f.Opts.Org})
	must.NoError(t, err)
	for _, inst := range list {
		if match(inst) {
			return f.Client.Instances().Ref(inst)
		}
	}
	t.Fatalf("no existing %s instance owned by %s", desc, f.Opts.Org)
	return nil
}
