// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"fmt"
)

// GithubRepo is a repository as returned by the platform's GitHub proxy.
type GithubRepo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
}

// GithubBranch is a branch as returned by the platform's GitHub proxy.
type GithubBranch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// StackAnalysis is the platform's guess at the language stack of a repo.
type StackAnalysis struct {
	LanguageFramework   string            `json:"languageFramework"`
	Version             map[string]string `json:"version"`
	ServiceDependencies []string          `json:"serviceDependencies"`
}

// Github is used to access the platform's GitHub proxy.
type Github struct {
	client *Client
}

// Github returns a handle on the GitHub proxy endpoints.
func (c *Client) Github() *Github {
	return &Github{client: c}
}

// Repo fetches a repository.
func (g *Github) Repo(ctx context.Context, owner, repo string) (*GithubRepo, error) {
	var resp GithubRepo
	if err := g.client.query(ctx, fmt.Sprintf("/github/repos/%s/%s", owner, repo), &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Branch fetches a branch of a repository.
func (g *Github) Branch(ctx context.Context, owner, repo, branch string) (*GithubBranch, error) {
	var resp GithubBranch
	endpoint := fmt.Sprintf("/github/repos/%s/%s/branches/%s", owner, repo, branch)
	if err := g.client.query(ctx, endpoint, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Analyze asks the platform to detect the stack of a repository given as
// "owner/repo".
func (g *Github) Analyze(ctx context.Context, fullName string) (*StackAnalysis, error) {
	var resp StackAnalysis
	if err := g.client.query(ctx, "/actions/analyze", &resp, map[string]string{"repo": fullName}); err != nil {
		return nil, err
	}
	return &resp, nil
}
