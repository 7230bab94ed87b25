// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"net/http"
)

// Build is a compilation of context versions into a runnable image.
type Build struct {
	ID              string   `json:"_id"`
	ContextVersions []string `json:"contextVersions"`
	Owner           Owner    `json:"owner"`
	Started         string   `json:"started,omitempty"`
	Completed       string   `json:"completed,omitempty"`
	Failed          bool     `json:"failed"`
}

// BuildCreateRequest is the body of a build creation.
type BuildCreateRequest struct {
	ContextVersions []string `json:"contextVersions"`
	Owner           Owner    `json:"owner"`
}

// BuildOptions are passed when starting a build.
type BuildOptions struct {
	Message string `json:"message"`
	NoCache bool   `json:"noCache,omitempty"`
}

// Builds is used to access the build endpoints.
type Builds struct {
	client *Client
}

// Builds returns a handle on the build endpoints.
func (c *Client) Builds() *Builds {
	return &Builds{client: c}
}

// Create creates a build for the given context versions.
func (b *Builds) Create(ctx context.Context, req *BuildCreateRequest) (*Build, error) {
	var resp Build
	if err := b.client.write(ctx, http.MethodPost, "/builds", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Info fetches a build.
func (b *Builds) Info(ctx context.Context, id string) (*Build, error) {
	var resp Build
	if err := b.client.query(ctx, "/builds/"+id, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Build starts the build. The platform may answer with a new build when the
// original was already built.
func (b *Builds) Build(ctx context.Context, id string, opts *BuildOptions) (*Build, error) {
	var resp Build
	if err := b.client.write(ctx, http.MethodPost, "/builds/"+id+"/actions/build", opts, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeepCopy copies a build and its context versions.
func (b *Builds) DeepCopy(ctx context.Context, id string) (*Build, error) {
	var resp Build
	if err := b.client.write(ctx, http.MethodPost, "/builds/"+id+"/actions/copy?deep=true", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
