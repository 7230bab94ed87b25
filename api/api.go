// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	hclog "github.com/hashicorp/go-hclog"
)

const (
	// SessionCookie is the name of the cookie carrying the session id issued
	// by the platform at login.
	SessionCookie = "connect.sid"

	// DefaultUserAgent is sent on every request.
	DefaultUserAgent = "snoop-integration-test"
)

// ErrNotAuthenticated is returned by operations that need a session when
// the client has none.
var ErrNotAuthenticated = errors.New("client has no session; call Login first")

// Config is used to configure the creation of a client
type Config struct {
	// Address is the address of the platform API
	Address string

	// SocketAddress is the address of the log/terminal socket server. When
	// empty it is derived from Address.
	SocketAddress string

	// UserContentDomain is the domain under which container hostnames are
	// published.
	UserContentDomain string

	// SessionID is an existing session to reuse instead of logging in.
	SessionID string

	// HttpClient is the client to use. Default will be used if not provided.
	HttpClient *http.Client

	// Headers are extra headers added to every request.
	Headers http.Header

	// Logger is used for debug output. Defaults to a named hclog logger.
	Logger hclog.Logger
}

// DefaultConfig returns a default configuration for the client, reading
// API_URL, API_SOCKET_SERVER and USER_CONTENT_DOMAIN from the environment.
func DefaultConfig() *Config {
	config := &Config{
		Address: "https://api.runnable-gamma.com",
		Headers: make(http.Header),
	}
	if addr := os.Getenv("API_URL"); addr != "" {
		config.Address = addr
	}
	if addr := os.Getenv("API_SOCKET_SERVER"); addr != "" {
		config.SocketAddress = addr
	}
	if domain := os.Getenv("USER_CONTENT_DOMAIN"); domain != "" {
		config.UserContentDomain = domain
	}
	return config
}

// SocketURL derives the socket server address from an API address by
// replacing the "api" host label with "apisock".
func SocketURL(apiAddress string) string {
	return strings.Replace(apiAddress, "api", "apisock", 1)
}

// normalizeAddress defaults addr to https and drops a trailing slash.
func normalizeAddress(addr string) string {
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	return strings.TrimSuffix(addr, "/")
}

// Client provides a client to the platform API
type Client struct {
	config     Config
	httpClient *http.Client
	logger     hclog.Logger

	sidLock sync.RWMutex
	sid     string
}

// NewClient returns a new client
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	// bootstrap the config
	defConfig := DefaultConfig()

	if config.Address == "" {
		config.Address = defConfig.Address
	} else if _, err := url.Parse(normalizeAddress(config.Address)); err != nil {
		return nil, fmt.Errorf("invalid address '%s': %v", config.Address, err)
	}
	config.Address = normalizeAddress(config.Address)

	if config.SocketAddress == "" {
		config.SocketAddress = SocketURL(config.Address)
	} else if _, err := url.Parse(normalizeAddress(config.SocketAddress)); err != nil {
		return nil, fmt.Errorf("invalid socket address '%s': %v", config.SocketAddress, err)
	}
	config.SocketAddress = normalizeAddress(config.SocketAddress)
	if config.Headers == nil {
		config.Headers = make(http.Header)
	}
	if config.Logger == nil {
		level := hclog.LevelFromString(os.Getenv("SNOOP_LOG_LEVEL"))
		if level == hclog.NoLevel {
			level = hclog.Warn
		}
		config.Logger = hclog.New(&hclog.LoggerOptions{
			Name:  "snoop-api",
			Level: level,
		})
	}

	httpClient := config.HttpClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}

	client := &Client{
		config:     *config,
		httpClient: httpClient,
		logger:     config.Logger,
		sid:        config.SessionID,
	}
	return client, nil
}

// Address return the address of the platform API
func (c *Client) Address() string {
	return c.config.Address
}

// SocketAddress returns the address of the socket server.
func (c *Client) SocketAddress() string {
	return c.config.SocketAddress
}

// UserContentDomain returns the domain container hostnames live under.
func (c *Client) UserContentDomain() string {
	return c.config.UserContentDomain
}

// SessionID returns the current session id, if any.
func (c *Client) SessionID() string {
	c.sidLock.RLock()
	defer c.sidLock.RUnlock()
	return c.sid
}

// SetSessionID sets the session id sent with every request.
func (c *Client) SetSessionID(sid string) {
	c.sidLock.Lock()
	defer c.sidLock.Unlock()
	c.sid = sid
}

// request is used to help build up a request
type request struct {
	config *Config
	method string
	url    *url.URL
	params url.Values
	header http.Header
	sid    string
	body   io.Reader
	obj    interface{}
	ctx    context.Context
}

// toHTTP converts the request to an HTTP request
func (r *request) toHTTP() (*http.Request, error) {
	// Encode the query parameters
	r.url.RawQuery = r.params.Encode()

	// Check if we should encode the body
	if r.body == nil && r.obj != nil {
		b, err := encodeBody(r.obj)
		if err != nil {
			return nil, err
		}
		r.body = b
	}

	req, err := http.NewRequestWithContext(r.ctx, r.method, r.url.String(), r.body)
	if err != nil {
		return nil, err
	}
	req.Header = r.header
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")
	if r.obj != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.sid != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: r.sid})
	}
	return req, nil
}

// newRequest is used to create a new request
func (c *Client) newRequest(ctx context.Context, method, path string) (*request, error) {
	base, _ := url.Parse(c.config.Address)
	u, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	r := &request{
		config: &c.config,
		method: method,
		url: &url.URL{
			Scheme: base.Scheme,
			User:   base.User,
			Host:   base.Host,
			Path:   strings.TrimSuffix(base.Path, "/") + u.Path,
		},
		params: make(url.Values),
		header: make(http.Header),
		sid:    c.SessionID(),
		ctx:    ctx,
	}
	for key, values := range u.Query() {
		for _, value := range values {
			r.params.Add(key, value)
		}
	}
	for key, values := range c.config.Headers {
		r.header[key] = values
	}
	return r, nil
}

// doRequest runs a request with our client
func (c *Client) doRequest(r *request) (time.Duration, *http.Response, error) {
	req, err := r.toHTTP()
	if err != nil {
		return 0, nil, err
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	diff := time.Since(start)
	c.logger.Trace("request", "method", r.method, "url", req.URL.Redacted(), "duration", diff)
	return diff, resp, err
}

// query is used to do a GET request against an endpoint and deserialize
// the response into an interface
func (c *Client) query(ctx context.Context, endpoint string, out interface{}, params map[string]string) error {
	r, err := c.newRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	for k, v := range params {
		r.params.Set(k, v)
	}
	_, resp, err := requireOK(c.doRequest(r))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := decodeBody(resp, out); err != nil {
		return err
	}
	return nil
}

// write is used to do a POST, PUT or PATCH request against an endpoint and
// serialize/deserialize using the standard platform conventions.
func (c *Client) write(ctx context.Context, method, endpoint string, in, out interface{}) error {
	r, err := c.newRequest(ctx, method, endpoint)
	if err != nil {
		return err
	}
	r.obj = in
	_, resp, err := requireStatusIn(http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent)(c.doRequest(r))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := decodeBody(resp, out); err != nil {
			return err
		}
	}
	return nil
}

// delete is used to do a DELETE request against an endpoint
func (c *Client) delete(ctx context.Context, endpoint string, out interface{}) error {
	r, err := c.newRequest(ctx, http.MethodDelete, endpoint)
	if err != nil {
		return err
	}
	_, resp, err := requireStatusIn(http.StatusOK, http.StatusAccepted, http.StatusNoContent)(c.doRequest(r))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := decodeBody(resp, out); err != nil {
			return err
		}
	}
	return nil
}

// decodeBody is used to JSON decode a body
func decodeBody(resp *http.Response, out interface{}) error {
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// encodeBody is used to encode a request body
func encodeBody(obj interface{}) (io.Reader, error) {
	if reader, ok := obj.(io.Reader); ok {
		return reader, nil
	}

	buf := bytes.NewBuffer(nil)
	enc := json.NewEncoder(buf)
	if err := enc.Encode(obj); err != nil {
		return nil, err
	}
	return buf, nil
}
