// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package containers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/hashicorp/snoop/e2e/githubapi"
	"github.com/hashicorp/snoop/helper/poll"
	"github.com/shoenig/test/must"
)

// cleanupGithubKeys deletes the keys the platform registered on GitHub for
// the org.
func cleanupGithubKeys(ctx context.Context, f *e2eutil.Fixtures) error {
	keys, err := f.Github.UserKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range githubapi.KeysMatching(keys, f.Opts.SSHKeyPrefix, f.Opts.Org) {
		if err := f.Github.DeleteUserKey(ctx, key.ID); err != nil {
			return err
		}
		f.Logger.Debug("deleted github key", "id", key.ID, "title", key.Title)
	}
	return nil
}

// testSSHKeys creates a platform SSH key for the org and builds a compose
// cluster that clones a private dependency with it.
func testSSHKeys(t *testing.T, f *e2eutil.Fixtures) {
	ctx := f.Context(t)
	org := f.Organization(t)

	must.NoError(t, cleanupGithubKeys(ctx, f))
	t.Cleanup(func() {
		if err := cleanupGithubKeys(context.Background(), f); err != nil {
			t.Logf("failed to clean up github keys: %v", err)
		}
	})

	must.NoError(t, f.Client.Users().CreateSSHKey(ctx, org.ID))

	var registered *githubapi.Key
	var fp string
	err := poll.UntilFunc(ctx, func(ctx context.Context) (bool, error) {
		keys, err := f.Github.UserKeys(ctx)
		if err != nil {
			return false, err
		}
		registered, fp, err = githubapi.FindKey(keys, f.Opts.SSHKeyPrefix, f.Opts.Org)
		return registered != nil, err
	}, poll.Gap(100*time.Millisecond), poll.Logger(f.Logger))
	must.NoError(t, err, must.Sprint("platform key never reached github as a valid key"))
	f.Logger.Info("platform key registered on github", "title", registered.Title, "fingerprint", fp)

	keys, err := f.Client.Users().SSHKeys(ctx, org.ID)
	must.NoError(t, err)
	found := false
	for _, key := range keys {
		if strings.HasSuffix(key.KeyName, f.Opts.Org) {
			found = true
			break
		}
	}
	must.True(t, found, must.Sprintf("no platform key named for %s in %d keys", f.Opts.Org, len(keys)))

	name := f.Name("ssh-key-test")
	refs := composeCluster(t, ctx, f, "/ssh-keys/docker-compose.yml", name, name+"-web")
	e2eutil.WaitForRunning(t, ctx, refs[0])
}
