// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"errors"
	"net/http"
)

// Isolation groups a master instance and dependent children into an
// environment separate from the shared instances.
type Isolation struct {
	ID             string `json:"_id"`
	Owner          Owner  `json:"owner"`
	Master         string `json:"instance"`
	RedeployOnKill bool   `json:"redeployOnKilled"`
}

// IsolationChild is an instance (optionally pinned to a branch) to include
// in an isolation.
type IsolationChild struct {
	Instance string `json:"instance,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Repo     string `json:"repo,omitempty"`
	Org      string `json:"org,omitempty"`
}

// IsolationCreateRequest is the body of an isolation creation.
type IsolationCreateRequest struct {
	Master   string           `json:"master"`
	Children []IsolationChild `json:"children"`
}

// Isolations is used to access the isolation endpoints.
type Isolations struct {
	client *Client
}

// Isolations returns a handle on the isolation endpoints.
func (c *Client) Isolations() *Isolations {
	return &Isolations{client: c}
}

// Create creates an isolation.
func (i *Isolations) Create(ctx context.Context, req *IsolationCreateRequest) (*Isolation, error) {
	if req.Master == "" {
		return nil, errors.New("isolation requires a master instance")
	}
	var resp Isolation
	if err := i.client.write(ctx, http.MethodPost, "/isolations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete removes an isolation and its children.
func (i *Isolations) Delete(ctx context.Context, id string) error {
	return i.client.delete(ctx, "/isolations/"+id, nil)
}
