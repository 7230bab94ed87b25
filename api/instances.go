// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

const (
	InstanceStatusBuildFailed  = "buildFailed"
	InstanceStatusBuilding     = "building"
	InstanceStatusNeverStarted = "neverStarted"
	InstanceStatusCrashed      = "crashed"
	InstanceStatusStarting     = "starting"
	InstanceStatusRunning      = "running"
	InstanceStatusStopping     = "stopping"
	InstanceStatusStopped      = "stopped"
)

// Owner identifies the GitHub account or org owning a resource.
type Owner struct {
	Github   int64  `json:"github"`
	Username string `json:"username,omitempty"`
}

// ContainerState is the subset of the docker inspect State the platform
// reports for a container.
type ContainerState struct {
	Running    bool   `json:"Running"`
	Starting   bool   `json:"Starting"`
	Stopping   bool   `json:"Stopping"`
	Restarting bool   `json:"Restarting"`
	ExitCode   int    `json:"ExitCode"`
	Error      string `json:"Error"`
	StartedAt  string `json:"StartedAt"`
}

// ContainerInspect wraps the inspect state.
type ContainerInspect struct {
	State ContainerState `json:"State"`
}

// Container is the docker container backing an instance.
type Container struct {
	DockerContainer string            `json:"dockerContainer"`
	DockerHost      string            `json:"dockerHost"`
	Inspect         *ContainerInspect `json:"inspect,omitempty"`
	Error           *ContainerError   `json:"error,omitempty"`
}

// ContainerError is reported by the platform when a container failed to be
// created or started.
type ContainerError struct {
	Message string `json:"message"`
}

// Instance is a deployed, container-backed application unit.
type Instance struct {
	ID                     string          `json:"_id"`
	ShortHash              string          `json:"shortHash"`
	Name                   string          `json:"name"`
	LowerName              string          `json:"lowerName"`
	Owner                  Owner           `json:"owner"`
	MasterPod              bool            `json:"masterPod"`
	Isolated               string          `json:"isolated,omitempty"`
	IsIsolationGroupMaster bool            `json:"isIsolationGroupMaster"`
	ShouldNotAutofork      bool            `json:"shouldNotAutofork"`
	Env                    []string        `json:"env"`
	Hostname               string          `json:"hostname,omitempty"`
	Container              *Container      `json:"container,omitempty"`
	ContextVersion         *ContextVersion `json:"contextVersion,omitempty"`
	Build                  *Build          `json:"build,omitempty"`
}

// HasContainer reports whether a docker container has been created.
func (i *Instance) HasContainer() bool {
	return i.Container != nil && i.Container.DockerContainer != ""
}

// Status derives the instance status from its build and container state.
func (i *Instance) Status() string {
	var build *BuildState
	if i.ContextVersion != nil {
		build = i.ContextVersion.Build
	}
	switch {
	case build != nil && (build.Failed || build.Error != nil):
		return InstanceStatusBuildFailed
	case build == nil || !build.Completed:
		return InstanceStatusBuilding
	case !i.HasContainer():
		return InstanceStatusNeverStarted
	case i.Container.Error != nil:
		return InstanceStatusCrashed
	}

	if i.Container.Inspect == nil {
		return InstanceStatusStarting
	}
	state := i.Container.Inspect.State
	switch {
	case state.Starting:
		return InstanceStatusStarting
	case state.Stopping:
		return InstanceStatusStopping
	case state.Running:
		return InstanceStatusRunning
	case state.ExitCode > 0 || state.Error != "":
		return InstanceStatusCrashed
	default:
		return InstanceStatusStopped
	}
}

// ContainerHostname returns the navi hostname of the instance under the
// given user content domain. Non-master isolated children are prefixed with
// their short hash.
func (i *Instance) ContainerHostname(domain string) string {
	name := i.LowerName
	if name == "" {
		name = strings.ToLower(i.Name)
	}
	if i.Isolated != "" && !i.IsIsolationGroupMaster && i.ShortHash != "" {
		name = i.ShortHash + "--" + name
	}
	return fmt.Sprintf("%s-staging-%s.%s", name, strings.ToLower(i.Owner.Username), domain)
}

// InstanceListOptions filters an instance listing.
type InstanceListOptions struct {
	GithubUsername         string
	Name                   string
	Isolated               string
	IsIsolationGroupMaster *bool
}

func (o *InstanceListOptions) params() map[string]string {
	p := make(map[string]string)
	if o == nil {
		return p
	}
	if o.GithubUsername != "" {
		p["githubUsername"] = o.GithubUsername
	}
	if o.Name != "" {
		p["name"] = o.Name
	}
	if o.Isolated != "" {
		p["isolated"] = o.Isolated
	}
	if o.IsIsolationGroupMaster != nil {
		p["isIsolationGroupMaster"] = strconv.FormatBool(*o.IsIsolationGroupMaster)
	}
	return p
}

// IPWhitelist toggles the platform's ingress whitelist.
type IPWhitelist struct {
	Enabled bool `json:"enabled"`
}

// InstanceCreateRequest is the body of an instance creation.
type InstanceCreateRequest struct {
	Name        string       `json:"name"`
	Build       string       `json:"build"`
	Owner       Owner        `json:"owner"`
	MasterPod   bool         `json:"masterPod"`
	Env         []string     `json:"env,omitempty"`
	IPWhitelist *IPWhitelist `json:"ipWhitelist,omitempty"`
}

// InstanceUpdateRequest is a partial update of an instance.
type InstanceUpdateRequest struct {
	Build             string   `json:"build,omitempty"`
	Env               []string `json:"env,omitempty"`
	ShouldNotAutofork *bool    `json:"shouldNotAutofork,omitempty"`
}

// Instances is used to access the instance endpoints.
type Instances struct {
	client *Client
}

// Instances returns a handle on the instance endpoints.
func (c *Client) Instances() *Instances {
	return &Instances{client: c}
}

// List is used to list instances matching the options.
func (i *Instances) List(ctx context.Context, opts *InstanceListOptions) ([]*Instance, error) {
	var resp []*Instance
	if err := i.client.query(ctx, "/instances", &resp, opts.params()); err != nil {
		return nil, err
	}
	return resp, nil
}

// Info is used to fetch a single instance.
func (i *Instances) Info(ctx context.Context, id string) (*Instance, error) {
	var resp Instance
	if err := i.client.query(ctx, "/instances/"+id, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Create creates a new instance from a build.
func (i *Instances) Create(ctx context.Context, req *InstanceCreateRequest) (*InstanceRef, error) {
	var resp Instance
	if err := i.client.write(ctx, http.MethodPost, "/instances", req, &resp); err != nil {
		return nil, err
	}
	return i.Ref(&resp), nil
}

// Update applies a partial update to an instance.
func (i *Instances) Update(ctx context.Context, id string, req *InstanceUpdateRequest) (*Instance, error) {
	var resp Instance
	if err := i.client.write(ctx, http.MethodPatch, "/instances/"+id, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Destroy deletes an instance. Destroying an instance that no longer
// exists is not an error.
func (i *Instances) Destroy(ctx context.Context, id string) error {
	err := i.client.delete(ctx, "/instances/"+id, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// Ref wraps an instance snapshot into a refreshable handle.
func (i *Instances) Ref(inst *Instance) *InstanceRef {
	return &InstanceRef{instances: i, attrs: inst}
}

// InstanceRef is a handle on a server-side instance. Its snapshot is only
// ever replaced by re-fetching from the server.
type InstanceRef struct {
	instances *Instances

	lock  sync.RWMutex
	attrs *Instance
}

// ID returns the server id of the instance.
func (r *InstanceRef) ID() string {
	return r.Attrs().ID
}

// Attrs returns the latest fetched snapshot.
func (r *InstanceRef) Attrs() *Instance {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.attrs
}

// Status returns the status of the latest snapshot.
func (r *InstanceRef) Status() string {
	return r.Attrs().Status()
}

// ContainerHostname returns the navi hostname using the client's user
// content domain.
func (r *InstanceRef) ContainerHostname() string {
	return r.Attrs().ContainerHostname(r.instances.client.UserContentDomain())
}

// Refresh re-fetches the instance and replaces the snapshot in place.
func (r *InstanceRef) Refresh(ctx context.Context) error {
	inst, err := r.instances.Info(ctx, r.ID())
	if err != nil {
		return err
	}
	r.lock.Lock()
	r.attrs = inst
	r.lock.Unlock()
	return nil
}

// Update applies req and stores the returned snapshot.
func (r *InstanceRef) Update(ctx context.Context, req *InstanceUpdateRequest) error {
	inst, err := r.instances.Update(ctx, r.ID(), req)
	if err != nil {
		return err
	}
	r.lock.Lock()
	r.attrs = inst
	r.lock.Unlock()
	return nil
}

// Destroy deletes the instance on the server.
func (r *InstanceRef) Destroy(ctx context.Context) error {
	return r.instances.Destroy(ctx, r.ID())
}
