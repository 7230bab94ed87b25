// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package registry manages the private registry credentials used by the
// private registry phase.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
)

const (
	// QuayAddress is the API of the registry the robot account lives on.
	QuayAddress = "https://quay.io"

	// QuayURL is the registry url stored on the organization.
	QuayURL = "quay.io"

	// DefaultOrg and DefaultRobot name the robot account whose token is
	// regenerated.
	DefaultOrg   = "runnable"
	DefaultRobot = "snoop"
)

// ErrNoToken is returned when no API token was configured.
var ErrNoToken = errors.New("registry: QUAY_API_TOKEN not set")

// Quay regenerates robot account tokens.
type Quay struct {
	Address    string
	APIToken   string
	Org        string
	Robot      string
	HttpClient *http.Client
}

// NewQuay returns a client for the runnable+snoop robot.
func NewQuay(apiToken string) *Quay {
	return &Quay{
		Address:    QuayAddress,
		APIToken:   apiToken,
		Org:        DefaultOrg,
		Robot:      DefaultRobot,
		HttpClient: cleanhttp.DefaultClient(),
	}
}

// Username is the login name of the robot account.
func (q *Quay) Username() string {
	return q.Org + "+" + q.Robot
}

// Credentials are what the platform needs to pull from the registry.
type Credentials struct {
	URL      string
	Username string
	Password string
}

// Regenerate issues a fresh token for the robot, invalidating the previous
// one, and returns the new credentials.
func (q *Quay) Regenerate(ctx context.Context) (*Credentials, error) {
	if q.APIToken == "" {
		return nil, ErrNoToken
	}
	url := fmt.Sprintf("%s/api/v1/organization/%s/robots/%s/regenerate",
		strings.TrimSuffix(q.Address, "/"), q.Org, q.Robot)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+q.APIToken)

	resp, err := q.HttpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry: regenerate failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("registry: regenerate returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("registry: failed to decode response: %w", err)
	}
	if out.Token == "" {
		return nil, errors.New("registry: response carried no token")
	}
	return &Credentials{URL: QuayURL, Username: q.Username(), Password: out.Token}, nil
}
