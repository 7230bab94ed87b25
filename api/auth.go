// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"errors"
	"net/http"
)

// Auth is used to authenticate against the platform.
type Auth struct {
	client *Client
}

// Auth returns a handle on the auth endpoints.
func (c *Client) Auth() *Auth {
	return &Auth{client: c}
}

type loginRequest struct {
	AccessToken string `json:"accessToken"`
}

// Login exchanges a GitHub access token for a platform session. The session
// cookie is stored on the client and sent with every subsequent request.
func (a *Auth) Login(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, errors.New("login requires a GitHub access token")
	}
	r, err := a.client.newRequest(ctx, http.MethodPost, "/auth/github/token")
	if err != nil {
		return nil, err
	}
	r.obj = &loginRequest{AccessToken: token}
	_, resp, err := requireStatusIn(http.StatusOK, http.StatusCreated)(a.client.doRequest(r))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	for _, cookie := range resp.Cookies() {
		if cookie.Name == SessionCookie {
			a.client.SetSessionID(cookie.Value)
		}
	}
	if a.client.SessionID() == "" {
		return nil, errors.New("login response did not set a session cookie")
	}

	var body userResponse
	if err := decodeBody(resp, &body); err != nil {
		return nil, err
	}
	user := body.user()
	a.client.logger.Debug("logged in", "user", user.Accounts.Github.Username)
	return user, nil
}

// Logout ends the session.
func (a *Auth) Logout(ctx context.Context) error {
	if a.client.SessionID() == "" {
		return nil
	}
	if err := a.client.query(ctx, "/auth/logout", nil, nil); err != nil {
		return err
	}
	a.client.SetSessionID("")
	return nil
}
