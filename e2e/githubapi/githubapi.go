// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package githubapi wraps the GitHub client with what the end-to-end suite
// needs to trigger webhooks and manage deploy keys.
package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/time/rate"
)

const (
	// DefaultRate and DefaultBurst keep polling callers under GitHub's
	// authenticated request quota.
	DefaultRate  = rate.Limit(1)
	DefaultBurst = 5
)

// Client talks to the GitHub API as the user owning the token.
type Client struct {
	gh    *github.Client
	pacer *pacedTransport
}

// NewClient returns a client for the public GitHub API.
func NewClient(token string, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("github")

	pacer := &pacedTransport{
		base:    cleanhttp.DefaultTransport(),
		limiter: rate.NewLimiter(DefaultRate, DefaultBurst),
		logger:  logger,
	}
	gh := github.NewClient(&http.Client{Transport: pacer})
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	return &Client{gh: gh, pacer: pacer}
}

// SetBaseURL points the client at another GitHub API, such as GitHub
// Enterprise or a test server.
func (c *Client) SetBaseURL(addr string) error {
	u, err := url.Parse(strings.TrimSuffix(addr, "/") + "/")
	if err != nil {
		return fmt.Errorf("invalid github address %q: %w", addr, err)
	}
	c.gh.BaseURL = u
	return nil
}

// SetLimiter replaces the request pacing. A nil limiter does not limit.
func (c *Client) SetLimiter(l *rate.Limiter) {
	c.pacer.setLimiter(l)
}

// pacedTransport waits on a rate limiter before every request.
type pacedTransport struct {
	base   http.RoundTripper
	logger hclog.Logger

	lock    sync.Mutex
	limiter *rate.Limiter
}

func (p *pacedTransport) setLimiter(l *rate.Limiter) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.limiter = l
}

func (p *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	p.lock.Lock()
	limiter := p.limiter
	p.lock.Unlock()

	if limiter != nil {
		start := time.Now()
		if err := limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("github rate limit: %w", err)
		}
		if waited := time.Since(start); waited > time.Second {
			p.logger.Debug("request delayed by rate limit", "path", req.URL.Path, "waited", waited)
		}
	}
	p.logger.Trace("request", "method", req.Method, "path", req.URL.Path)
	return p.base.RoundTrip(req)
}

// Key is an SSH key registered on the authenticated user.
type Key struct {
	ID    int64
	Title string
	Key   string
}

// Fingerprint returns the SHA256 fingerprint of the public key.
func (k *Key) Fingerprint() (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(k.Key))
	if err != nil {
		return "", fmt.Errorf("failed to parse key %d: %w", k.ID, err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// LastCommit returns the SHA of the newest commit on branch, or on the
// default branch when branch is empty.
func (c *Client) LastCommit(ctx context.Context, owner, repo, branch string) (string, error) {
	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		SHA:         branch,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", fmt.Errorf("github: failed to list commits of %s/%s: %w", owner, repo, err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("github: no commits in %s/%s", owner, repo)
	}
	return commits[0].GetSHA(), nil
}

// CreateBranch creates refs/heads/<branch> pointing at sha.
func (c *Client) CreateBranch(ctx context.Context, owner, repo, branch, sha string) (*github.Reference, error) {
	ref, _, err := c.gh.Git.CreateRef(ctx, owner, repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err != nil {
		return nil, fmt.Errorf("github: failed to create branch %s: %w", branch, err)
	}
	return ref, nil
}

// DeleteBranch removes refs/heads/<branch>.
func (c *Client) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	if _, err := c.gh.Git.DeleteRef(ctx, owner, repo, "refs/heads/"+branch); err != nil {
		return fmt.Errorf("github: failed to delete branch %s: %w", branch, err)
	}
	return nil
}

// UserKeys lists the SSH keys of the authenticated user.
func (c *Client) UserKeys(ctx context.Context) ([]*Key, error) {
	keys, _, err := c.gh.Users.ListKeys(ctx, "", &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("github: failed to list keys: %w", err)
	}
	out := make([]*Key, 0, len(keys))
	for _, k := range keys {
		out = append(out, &Key{ID: k.GetID(), Title: k.GetTitle(), Key: k.GetKey()})
	}
	return out, nil
}

// DeleteUserKey removes an SSH key of the authenticated user.
func (c *Client) DeleteUserKey(ctx context.Context, id int64) error {
	if _, err := c.gh.Users.DeleteKey(ctx, id); err != nil {
		return fmt.Errorf("github: failed to delete key %d: %w", id, err)
	}
	return nil
}

// KeysMatching filters keys by title prefix and suffix.
func KeysMatching(keys []*Key, prefix, suffix string) []*Key {
	var out []*Key
	for _, k := range keys {
		if strings.HasPrefix(k.Title, prefix) && strings.HasSuffix(k.Title, suffix) {
			out = append(out, k)
		}
	}
	return out
}

// FindKey returns the first key whose title has prefix and suffix, along
// with its fingerprint. It returns a nil key when none match and an error
// when the matching key does not parse.
func FindKey(keys []*Key, prefix, suffix string) (*Key, string, error) {
	matched := KeysMatching(keys, prefix, suffix)
	if len(matched) == 0 {
		return nil, "", nil
	}
	fp, err := matched[0].Fingerprint()
	if err != nil {
		return nil, "", err
	}
	return matched[0], fp, nil
}
