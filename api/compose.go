// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"net/http"
)

// ComposeClusterRequest asks the platform to create the instances described
// by a docker-compose file in a repository.
type ComposeClusterRequest struct {
	Repo              string `json:"repo"`
	Branch            string `json:"branch"`
	FilePath          string `json:"filePath"`
	Name              string `json:"name"`
	IsTesting         bool   `json:"isTesting"`
	TestReporters     []any  `json:"testReporters"`
	ShouldNotAutofork bool   `json:"shouldNotAutoFork"`
	GithubID          int64  `json:"githubId,omitempty"`
}

// Compose is used to access the docker-compose cluster endpoints.
type Compose struct {
	client *Client
}

// Compose returns a handle on the compose cluster endpoints.
func (c *Client) Compose() *Compose {
	return &Compose{client: c}
}

// Create requests a compose cluster. The instances appear asynchronously;
// callers poll the instance listing for them.
func (c *Compose) Create(ctx context.Context, req *ComposeClusterRequest) error {
	if req.TestReporters == nil {
		req.TestReporters = []any{}
	}
	return c.client.write(ctx, http.MethodPost, "/docker-compose-cluster/", req, nil)
}
