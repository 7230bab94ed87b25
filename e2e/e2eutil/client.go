// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package e2eutil

import (
	"context"
	"testing"

	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/e2e/githubapi"
	"github.com/hashicorp/snoop/helper/testlog"
	"github.com/shoenig/test/must"
)

// ClientConfig returns an API client config for the target in opts.
func ClientConfig(t testing.TB, opts *Options) *api.Config {
	return &api.Config{
		Address:           opts.APIURL,
		SocketAddress:     opts.SocketURL,
		UserContentDomain: opts.UserContentDomain,
		Logger:            testlog.HCLogger(t),
	}
}

// SnoopClient creates a client for the target in opts and logs in with the
// GitHub access token. The session is logged out when the test ends. Fails
// the test if login fails.
func SnoopClient(t testing.TB, opts *Options) (*api.Client, *api.User) {
	client, err := api.NewClient(ClientConfig(t, opts))
	must.NoError(t, err)

	user, err := client.Auth().Login(context.Background(), opts.AccessToken)
	must.NoError(t, err, must.Sprint("failed to log in to ", opts.APIURL))

	t.Cleanup(func() {
		if err := client.Auth().Logout(context.Background()); err != nil {
			t.Logf("logout failed: %v", err)
		}
	})
	return client, user
}

// GithubClient creates a GitHub client using the same access token.
func GithubClient(t testing.TB, opts *Options) *githubapi.Client {
	return githubapi.NewClient(opts.AccessToken, testlog.HCLogger(t))
}
