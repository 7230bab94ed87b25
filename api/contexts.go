// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Context groups the versions of a container's build inputs.
type Context struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	LowerName string `json:"lowerName"`
	IsSource  bool   `json:"isSource"`
	Owner     Owner  `json:"owner"`
}

// AppCodeVersion pins a repository branch and commit into a context version.
type AppCodeVersion struct {
	ID        string `json:"_id,omitempty"`
	Repo      string `json:"repo"`
	LowerRepo string `json:"lowerRepo,omitempty"`
	Branch    string `json:"branch"`
	Commit    string `json:"commit"`
}

// BuildError is attached to a failed build.
type BuildError struct {
	Message string `json:"message"`
}

// BuildState is the build progress of a context version.
type BuildState struct {
	Started     string      `json:"started,omitempty"`
	Completed   bool        `json:"completed"`
	Failed      bool        `json:"failed"`
	Error       *BuildError `json:"error,omitempty"`
	DockerImage string      `json:"dockerImage,omitempty"`
}

// ContextVersion is an immutable snapshot of build inputs.
type ContextVersion struct {
	ID                  string           `json:"_id"`
	Context             string           `json:"context"`
	Owner               Owner            `json:"owner"`
	Advanced            bool             `json:"advanced"`
	InfraCodeVersion    string           `json:"infraCodeVersion"`
	AppCodeVersions     []AppCodeVersion `json:"appCodeVersions"`
	BuildDockerfilePath string           `json:"buildDockerfilePath,omitempty"`
	Build               *BuildState      `json:"build,omitempty"`
}

// File is a file stored in an infra-code version.
type File struct {
	ID   string `json:"_id,omitempty"`
	Name string `json:"name"`
	Path string `json:"path"`
	Body string `json:"body"`
}

// ContextCreateRequest is the body of a context creation.
type ContextCreateRequest struct {
	Name  string `json:"name"`
	Owner Owner  `json:"owner"`
}

// ContextVersionUpdateRequest is a partial update of a context version.
type ContextVersionUpdateRequest struct {
	Advanced            *bool  `json:"advanced,omitempty"`
	BuildDockerfilePath string `json:"buildDockerfilePath,omitempty"`
}

// Contexts is used to access the context and context version endpoints.
type Contexts struct {
	client *Client
}

// Contexts returns a handle on the context endpoints.
func (c *Client) Contexts() *Contexts {
	return &Contexts{client: c}
}

// List lists contexts. With source set only template contexts are returned.
func (c *Contexts) List(ctx context.Context, source bool) ([]*Context, error) {
	params := map[string]string{}
	if source {
		params["isSource"] = "true"
	}
	var resp []*Context
	if err := c.client.query(ctx, "/contexts", &resp, params); err != nil {
		return nil, err
	}
	return resp, nil
}

// Create creates a new context.
func (c *Contexts) Create(ctx context.Context, req *ContextCreateRequest) (*Context, error) {
	var resp Context
	if err := c.client.write(ctx, http.MethodPost, "/contexts", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Versions lists the versions of a context, newest first.
func (c *Contexts) Versions(ctx context.Context, contextID string) ([]*ContextVersion, error) {
	var resp []*ContextVersion
	err := c.client.query(ctx, versionsPath(contextID), &resp, map[string]string{"sort": "-created"})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateVersion creates a version of a context, optionally seeded from a
// source context version.
func (c *Contexts) CreateVersion(ctx context.Context, contextID, source string) (*ContextVersion, error) {
	body := map[string]string{}
	if source != "" {
		body["source"] = source
	}
	var resp ContextVersion
	if err := c.client.write(ctx, http.MethodPost, versionsPath(contextID), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version fetches a single context version.
func (c *Contexts) Version(ctx context.Context, contextID, versionID string) (*ContextVersion, error) {
	var resp ContextVersion
	if err := c.client.query(ctx, versionPath(contextID, versionID), &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateVersion applies a partial update to a context version.
func (c *Contexts) UpdateVersion(ctx context.Context, cv *ContextVersion, req *ContextVersionUpdateRequest) (*ContextVersion, error) {
	var resp ContextVersion
	if err := c.client.write(ctx, http.MethodPatch, versionPath(cv.Context, cv.ID), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeepCopyVersion copies a context version (and its context) to a new owner.
func (c *Contexts) DeepCopyVersion(ctx context.Context, cv *ContextVersion, owner Owner) (*ContextVersion, error) {
	body := map[string]Owner{"owner": owner}
	var resp ContextVersion
	endpoint := versionPath(cv.Context, cv.ID) + "/actions/copy?deep=true"
	if err := c.client.write(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CopyFilesFromSource copies the files of a source infra-code version into
// the context version.
func (c *Contexts) CopyFilesFromSource(ctx context.Context, cv *ContextVersion, sourceInfraCodeVersion string) error {
	endpoint := versionPath(cv.Context, cv.ID) + "/infraCodeVersion/actions/copy?sourceInfraCodeVersion=" +
		url.QueryEscape(sourceInfraCodeVersion)
	return c.client.write(ctx, http.MethodPut, endpoint, nil, nil)
}

// File fetches a file of the context version by path.
func (c *Contexts) File(ctx context.Context, cv *ContextVersion, path string) (*File, error) {
	var resp File
	if err := c.client.query(ctx, filePath(cv, path), &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateFile replaces the body of a file of the context version.
func (c *Contexts) UpdateFile(ctx context.Context, cv *ContextVersion, path, body string) (*File, error) {
	var resp File
	req := map[string]string{"body": body}
	if err := c.client.write(ctx, http.MethodPatch, filePath(cv, path), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateAppCodeVersion attaches a repository to the context version.
func (c *Contexts) CreateAppCodeVersion(ctx context.Context, cv *ContextVersion, acv *AppCodeVersion) (*AppCodeVersion, error) {
	var resp AppCodeVersion
	endpoint := versionPath(cv.Context, cv.ID) + "/appCodeVersions"
	if err := c.client.write(ctx, http.MethodPost, endpoint, acv, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func versionsPath(contextID string) string {
	return fmt.Sprintf("/contexts/%s/versions", contextID)
}

func versionPath(contextID, versionID string) string {
	return fmt.Sprintf("/contexts/%s/versions/%s", contextID, versionID)
}

func filePath(cv *ContextVersion, path string) string {
	return versionPath(cv.Context, cv.ID) + "/files/" + strings.TrimPrefix(path, "/")
}
