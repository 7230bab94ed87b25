// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// GithubAccount is the GitHub identity linked to a user.
type GithubAccount struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	AccessToken string `json:"accessToken,omitempty"`
}

// UserAccounts lists the linked third party accounts.
type UserAccounts struct {
	Github GithubAccount `json:"github"`
}

// Organization is an organization as tracked by the platform.
type Organization struct {
	ID                      int64  `json:"id"`
	GithubID                int64  `json:"githubId"`
	LowerName               string `json:"lowerName"`
	PrivateRegistryURL      string `json:"privateRegistryUrl,omitempty"`
	PrivateRegistryUsername string `json:"privateRegistryUsername,omitempty"`
}

// User is the authenticated platform user.
type User struct {
	ID            string         `json:"_id"`
	Accounts      UserAccounts   `json:"accounts"`
	Organizations []Organization `json:"organizations,omitempty"`
}

// userResponse mirrors the nested shape the platform returns for the
// current user.
type userResponse struct {
	ID           string       `json:"_id"`
	Accounts     UserAccounts `json:"accounts"`
	BigPoppaUser struct {
		Organizations []Organization `json:"organizations"`
	} `json:"bigPoppaUser"`
}

func (r *userResponse) user() *User {
	return &User{
		ID:            r.ID,
		Accounts:      r.Accounts,
		Organizations: r.BigPoppaUser.Organizations,
	}
}

// Organization returns the organization with the given lower-cased name.
func (u *User) Organization(name string) (*Organization, bool) {
	name = strings.ToLower(name)
	for i := range u.Organizations {
		if u.Organizations[i].LowerName == name {
			return &u.Organizations[i], true
		}
	}
	return nil, false
}

// SSHKey is a deploy key registered for an organization.
type SSHKey struct {
	KeyName     string `json:"keyName"`
	Fingerprint string `json:"keyFingerprint"`
	PublicKey   string `json:"publicKey,omitempty"`
}

// PrivateRegistryRequest stores credentials for a private docker registry.
type PrivateRegistryRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Users is used to access the user and organization endpoints.
type Users struct {
	client *Client
}

// Users returns a handle on the user endpoints.
func (c *Client) Users() *Users {
	return &Users{client: c}
}

// Me fetches the authenticated user.
func (u *Users) Me(ctx context.Context) (*User, error) {
	if u.client.SessionID() == "" {
		return nil, ErrNotAuthenticated
	}
	var resp userResponse
	if err := u.client.query(ctx, "/users/me", &resp, nil); err != nil {
		return nil, err
	}
	return resp.user(), nil
}

// SSHKeys lists the SSH keys of an organization. An organization that never
// had a key reports none.
func (u *Users) SSHKeys(ctx context.Context, orgID int64) ([]*SSHKey, error) {
	var resp struct {
		Keys []*SSHKey `json:"keys"`
	}
	err := u.client.query(ctx, fmt.Sprintf("/organizations/%d/ssh-key", orgID), &resp, nil)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// CreateSSHKey generates a new SSH key for the organization. The platform
// registers its public half with GitHub.
func (u *Users) CreateSSHKey(ctx context.Context, orgID int64) error {
	return u.client.write(ctx, http.MethodPost, fmt.Sprintf("/organizations/%d/ssh-key", orgID), nil, nil)
}

// SetPrivateRegistry stores private registry credentials for the
// organization.
func (u *Users) SetPrivateRegistry(ctx context.Context, orgID int64, req *PrivateRegistryRequest) error {
	return u.client.write(ctx, http.MethodPost, fmt.Sprintf("/organizations/%d/private-registry", orgID), req, nil)
}
