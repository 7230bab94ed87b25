// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package e2eutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-set/v3"
	"github.com/hashicorp/snoop/api"
	"golang.org/x/sync/errgroup"
)

// destroyConcurrency bounds parallel instance deletions.
const destroyConcurrency = 4

// SelectInstances returns the instances whose lowercased names contain any
// of patterns. Empty patterns are ignored.
func SelectInstances(list []*api.Instance, patterns ...string) []*api.Instance {
	want := set.New[string](len(patterns))
	for _, p := range patterns {
		if p != "" {
			want.Insert(strings.ToLower(p))
		}
	}

	var out []*api.Instance
	for _, inst := range list {
		name := strings.ToLower(inst.Name)
		for _, p := range want.Slice() {
			if strings.Contains(name, p) {
				out = append(out, inst)
				break
			}
		}
	}
	return out
}

// DestroyAll deletes every instance concurrently. Instances already gone
// are not an error. All failures are returned together.
func DestroyAll(ctx context.Context, c *api.Client, ids ...string) error {
	var (
		lock   sync.Mutex
		merr   *multierror.Error
		unique = set.From(ids)
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(destroyConcurrency)
	for _, id := range unique.Slice() {
		g.Go(func() error {
			err := c.Instances().Destroy(ctx, id)
			if err != nil && !api.IsNotFound(err) {
				lock.Lock()
				merr = multierror.Append(merr, fmt.Errorf("failed to destroy instance %s: %w", id, err))
				lock.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return merr.ErrorOrNil()
}

// CleanupInstances destroys the instances of org whose names contain any of
// patterns and returns their names. When nothing matches it returns
// without destroying anything.
func CleanupInstances(ctx context.Context, c *api.Client, org string, patterns ...string) ([]string, error) {
	list, err := c.Instances().List(ctx, &api.InstanceListOptions{GithubUsername: org})
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	matched := SelectInstances(list, patterns...)
	if len(matched) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(matched))
	names := make([]string, 0, len(matched))
	for _, inst := range matched {
		ids = append(ids, inst.ID)
		names = append(names, inst.Name)
	}
	sort.Strings(names)
	return names, DestroyAll(ctx, c, ids...)
}

// DestroyOnCleanup destroys refs when the test ends, unless cleanup is
// turned off for the run.
func DestroyOnCleanup(t testing.TB, f *Fixtures, refs ...*api.InstanceRef) {
	if f.Opts.NoCleanup {
		return
	}
	t.Cleanup(func() {
		ids := make([]string, 0, len(refs))
		for _, r := range refs {
			if r != nil {
				ids = append(ids, r.ID())
			}
		}
		if err := DestroyAll(context.Background(), f.Client, ids...); err != nil {
			t.Errorf("cleanup failed: %v", err)
		}
	})
}
