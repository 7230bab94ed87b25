// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package e2eutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/helper/poll"
	"github.com/kr/pretty"
)

// ErrBuildFailed is returned while waiting on an instance whose build
// failed.
var ErrBuildFailed = errors.New("instance build failed")

// AwaitContainer polls ref until its container exists.
func AwaitContainer(ctx context.Context, ref *api.InstanceRef, opts ...poll.Option) error {
	return poll.Until(ctx, ref, func() bool {
		return ref.Attrs().HasContainer()
	}, opts...)
}

// AwaitRunning polls ref until its container is running. A failed build
// aborts the wait.
func AwaitRunning(ctx context.Context, ref *api.InstanceRef, opts ...poll.Option) error {
	return poll.UntilFunc(ctx, func(ctx context.Context) (bool, error) {
		switch ref.Status() {
		case api.InstanceStatusRunning:
			return true, nil
		case api.InstanceStatusBuildFailed:
			return false, ErrBuildFailed
		}
		if err := ref.Refresh(ctx); err != nil {
			return false, err
		}
		return ref.Status() == api.InstanceStatusRunning, nil
	}, opts...)
}

// WaitForContainer fails the test if ref never gets a container.
func WaitForContainer(t testing.TB, ctx context.Context, ref *api.InstanceRef, opts ...poll.Option) {
	t.Helper()
	if err := AwaitContainer(ctx, ref, opts...); err != nil {
		t.Fatalf("instance %q never got a container: %v\n%# v", ref.Attrs().Name, err, pretty.Formatter(ref.Attrs()))
	}
}

// WaitForRunning fails the test if ref's container never runs.
func WaitForRunning(t testing.TB, ctx context.Context, ref *api.InstanceRef, opts ...poll.Option) {
	t.Helper()
	if err := AwaitRunning(ctx, ref, opts...); err != nil {
		t.Fatalf("instance %q not running (status %s): %v\n%# v",
			ref.Attrs().Name, ref.Status(), err, pretty.Formatter(ref.Attrs()))
	}
}

// FindInstance polls the instance list until match selects one and returns
// a ref to it.
func FindInstance(ctx context.Context, c *api.Client, q *api.InstanceListOptions,
	match func(*api.Instance) bool, opts ...poll.Option) (*api.InstanceRef, error) {

	var found *api.Instance
	err := poll.UntilFunc(ctx, func(ctx context.Context) (bool, error) {
		list, err := c.Instances().List(ctx, q)
		if err != nil {
			return false, err
		}
		for _, inst := range list {
			if match(inst) {
				found = inst
				return true, nil
			}
		}
		return false, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return c.Instances().Ref(found), nil
}

// NameContains matches instances whose name contains s, ignoring case.
func NameContains(s string) func(*api.Instance) bool {
	s = strings.ToLower(s)
	return func(inst *api.Instance) bool {
		return strings.Contains(strings.ToLower(inst.Name), s)
	}
}

// NameEquals matches the instance named name.
func NameEquals(name string) func(*api.Instance) bool {
	return func(inst *api.Instance) bool {
		return strings.EqualFold(inst.Name, name)
	}
}

// WaitForInstance fails the test unless an instance owned by the run's org
// and selected by match shows up.
func WaitForInstance(t testing.TB, ctx context.Context, f *Fixtures, match func(*api.Instance) bool, desc string) *api.InstanceRef {
	t.Helper()
	ref, err := FindInstance(ctx, f.Client, &api.InstanceListOptions{GithubUsername: f.Opts.Org}, match, poll.Logger(f.Logger))
	if err != nil {
		t.Fatalf("instance %s never appeared: %v", desc, err)
	}
	return ref
}

// DescribeInstance is a one-line summary used in logs.
func DescribeInstance(inst *api.Instance) string {
	container := "<none>"
	if inst.HasContainer() {
		container = inst.Container.DockerContainer
	}
	return fmt.Sprintf("%s (id=%s status=%s container=%s)", inst.Name, inst.ID, inst.Status(), container)
}
