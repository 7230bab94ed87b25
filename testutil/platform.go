// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/helper/testlog"
	"github.com/hashicorp/snoop/helper/uuid"
)

const (
	// FakeToken is the GitHub token the fake platform accepts at login.
	FakeToken = "fake-github-token"

	// FakeSession is the session id issued by the fake platform.
	FakeSession = "fake-session"

	// FakeDomain is the user content domain of the fake platform.
	FakeDomain = "runnableapp.test"
)

// Platform is an in-process fake of the platform API and its socket server.
// Tests seed instances, drive their state transitions and script the
// websocket side of stream connections.
type Platform struct {
	Server *httptest.Server
	Calls  *CallCounter

	t        testing.TB
	upgrader websocket.Upgrader

	lock      sync.Mutex
	user      *api.User
	instances map[string]*api.Instance
	evolve    map[string][]func(*api.Instance)
	destroyed []string
	sshKeys   []*api.SSHKey
	registry  *api.PrivateRegistryRequest
	compose   []*api.ComposeClusterRequest
	streams   chan *FakeStream
	open      []*FakeStream

	stop      chan struct{}
	closeOnce sync.Once
}

// NewPlatform starts a fake platform that is shut down when the test ends.
func NewPlatform(t testing.TB) *Platform {
	p := &Platform{
		Calls:     NewCallCounter(),
		t:         t,
		instances: make(map[string]*api.Instance),
		evolve:    make(map[string][]func(*api.Instance)),
		streams:   make(chan *FakeStream, 16),
		stop:      make(chan struct{}),
		user: &api.User{
			ID: "user-1",
			Accounts: api.UserAccounts{
				Github: api.GithubAccount{ID: 1, Username: "snoop"},
			},
			Organizations: []api.Organization{
				{ID: 7, GithubID: 2828361, LowerName: "runnable"},
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/github/token", p.login)
	mux.HandleFunc("GET /auth/logout", p.authed(p.logout))
	mux.HandleFunc("GET /users/me", p.authed(p.me))
	mux.HandleFunc("GET /instances", p.authed(p.listInstances))
	mux.HandleFunc("POST /instances", p.authed(p.createInstance))
	mux.HandleFunc("GET /instances/{id}", p.authed(p.getInstance))
	mux.HandleFunc("PATCH /instances/{id}", p.authed(p.updateInstance))
	mux.HandleFunc("DELETE /instances/{id}", p.authed(p.destroyInstance))
	mux.HandleFunc("GET /organizations/{id}/ssh-key", p.authed(p.listSSHKeys))
	mux.HandleFunc("POST /organizations/{id}/ssh-key", p.authed(p.createSSHKey))
	mux.HandleFunc("POST /organizations/{id}/private-registry", p.authed(p.setRegistry))
	mux.HandleFunc("POST /docker-compose-cluster/", p.authed(p.createCompose))
	mux.HandleFunc("GET /socket", p.authed(p.socket))

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

// Config returns a client config pointing at the fake platform.
func (p *Platform) Config() *api.Config {
	return &api.Config{
		Address:           p.Server.URL,
		SocketAddress:     p.Server.URL + "/socket",
		UserContentDomain: FakeDomain,
		Logger:            testlog.HCLogger(p.t),
	}
}

// Client returns a client already logged in to the fake platform.
func (p *Platform) Client() *api.Client {
	cfg := p.Config()
	cfg.SessionID = FakeSession
	c, err := api.NewClient(cfg)
	if err != nil {
		p.t.Fatalf("failed to create client: %v", err)
	}
	return c
}

// Close disconnects every stream and stops the server.
func (p *Platform) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.lock.Lock()
		open := p.open
		p.open = nil
		p.lock.Unlock()
		for _, s := range open {
			s.Disconnect()
		}
		p.Server.Close()
	})
}

// AddInstance seeds an instance and returns its id.
func (p *Platform) AddInstance(inst *api.Instance) string {
	p.lock.Lock()
	defer p.lock.Unlock()
	if inst.ID == "" {
		inst.ID = uuid.Short()
	}
	if inst.LowerName == "" {
		inst.LowerName = strings.ToLower(inst.Name)
	}
	p.instances[inst.ID] = inst
	return inst.ID
}

// Evolve queues state transitions for an instance. Each fetch of the
// instance applies the next one before responding.
func (p *Platform) Evolve(id string, steps ...func(*api.Instance)) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.evolve[id] = append(p.evolve[id], steps...)
}

// UpdateInstance mutates a seeded instance.
func (p *Platform) UpdateInstance(id string, fn func(*api.Instance)) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if inst, ok := p.instances[id]; ok {
		fn(inst)
	}
}

// Instances returns the names of the live instances.
func (p *Platform) Instances() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	names := make([]string, 0, len(p.instances))
	for _, inst := range p.instances {
		names = append(names, inst.Name)
	}
	return names
}

// Destroyed returns the ids of the instances deleted through the API.
func (p *Platform) Destroyed() []string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]string(nil), p.destroyed...)
}

// AddSSHKey seeds an organization SSH key.
func (p *Platform) AddSSHKey(key *api.SSHKey) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.sshKeys = append(p.sshKeys, key)
}

// Registry returns the private registry credentials last stored.
func (p *Platform) Registry() *api.PrivateRegistryRequest {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.registry
}

// Streams yields the server side of every accepted stream connection.
func (p *Platform) Streams() <-chan *FakeStream {
	return p.streams
}

func (p *Platform) authed(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Calls.Inc(r.Pattern)
		cookie, err := r.Cookie(api.SessionCookie)
		if err != nil || cookie.Value != FakeSession {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (p *Platform) login(w http.ResponseWriter, r *http.Request) {
	p.Calls.Inc(r.Pattern)
	var req struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken != FakeToken {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: api.SessionCookie, Value: FakeSession, Path: "/"})
	p.me(w, r)
}

func (p *Platform) logout(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (p *Platform) me(w http.ResponseWriter, _ *http.Request) {
	p.lock.Lock()
	defer p.lock.Unlock()
	u := p.user
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"_id":      u.ID,
		"accounts": u.Accounts,
		"bigPoppaUser": map[string]interface{}{
			"organizations": u.Organizations,
		},
	})
}

func (p *Platform) listInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p.lock.Lock()
	defer p.lock.Unlock()

	out := []*api.Instance{}
	for _, inst := range p.instances {
		if v := q.Get("githubUsername"); v != "" && !strings.EqualFold(v, inst.Owner.Username) {
			continue
		}
		if v := q.Get("name"); v != "" && v != inst.Name {
			continue
		}
		if v := q.Get("isolated"); v != "" && v != inst.Isolated {
			continue
		}
		if v := q.Get("isIsolationGroupMaster"); v != "" {
			b, _ := strconv.ParseBool(v)
			if b != inst.IsIsolationGroupMaster {
				continue
			}
		}
		out = append(out, inst)
	}
	writeJSON(w, http.StatusOK, out)
}

func (p *Platform) createInstance(w http.ResponseWriter, r *http.Request) {
	var req api.InstanceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	inst := &api.Instance{
		Name:      req.Name,
		Owner:     req.Owner,
		MasterPod: req.MasterPod,
		Env:       req.Env,
		Build:     &api.Build{ID: req.Build},
	}
	p.AddInstance(inst)
	writeJSON(w, http.StatusCreated, inst)
}

func (p *Platform) getInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p.lock.Lock()
	defer p.lock.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	if steps := p.evolve[id]; len(steps) > 0 {
		steps[0](inst)
		p.evolve[id] = steps[1:]
	}
	writeJSON(w, http.StatusOK, inst)
}

func (p *Platform) updateInstance(w http.ResponseWriter, r *http.Request) {
	var req api.InstanceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := r.PathValue("id")
	p.lock.Lock()
	defer p.lock.Unlock()
	inst, ok := p.instances[id]
	if !ok {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	if req.Build != "" {
		inst.Build = &api.Build{ID: req.Build}
	}
	if req.Env != nil {
		inst.Env = req.Env
	}
	if req.ShouldNotAutofork != nil {
		inst.ShouldNotAutofork = *req.ShouldNotAutofork
	}
	writeJSON(w, http.StatusOK, inst)
}

func (p *Platform) destroyInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p.lock.Lock()
	defer p.lock.Unlock()
	if _, ok := p.instances[id]; !ok {
		http.Error(w, "instance not found", http.StatusNotFound)
		return
	}
	delete(p.instances, id)
	p.destroyed = append(p.destroyed, id)
	w.WriteHeader(http.StatusNoContent)
}

func (p *Platform) listSSHKeys(w http.ResponseWriter, _ *http.Request) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.sshKeys) == 0 {
		http.Error(w, "no keys", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"keys": p.sshKeys})
}

func (p *Platform) createSSHKey(w http.ResponseWriter, r *http.Request) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.sshKeys = append(p.sshKeys, &api.SSHKey{
		KeyName:     fmt.Sprintf("Runnable key for org %s", r.PathValue("id")),
		Fingerprint: "SHA256:" + uuid.Short(),
	})
	w.WriteHeader(http.StatusCreated)
}

func (p *Platform) setRegistry(w http.ResponseWriter, r *http.Request) {
	var req api.PrivateRegistryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.registry = &req
	for i := range p.user.Organizations {
		if strconv.FormatInt(p.user.Organizations[i].ID, 10) == r.PathValue("id") {
			p.user.Organizations[i].PrivateRegistryURL = req.URL
			p.user.Organizations[i].PrivateRegistryUsername = req.Username
		}
	}
	w.WriteHeader(http.StatusCreated)
}

// Compose returns the compose cluster requests received.
func (p *Platform) Compose() []*api.ComposeClusterRequest {
	p.lock.Lock()
	defer p.lock.Unlock()
	return append([]*api.ComposeClusterRequest(nil), p.compose...)
}

// createCompose records the request and creates the "<name>-web" instance
// the cluster would start, already built and running.
func (p *Platform) createCompose(w http.ResponseWriter, r *http.Request) {
	var req api.ComposeClusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	owner := strings.SplitN(req.Repo, "/", 2)[0]
	p.AddInstance(RunningInstance(req.Name+"-web", owner))

	p.lock.Lock()
	p.compose = append(p.compose, &req)
	p.lock.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

// RunningInstance returns an instance that is built and running.
func RunningInstance(name, owner string) *api.Instance {
	return &api.Instance{
		Name:      name,
		ShortHash: uuid.Short()[:5],
		Owner:     api.Owner{Github: 2828361, Username: owner},
		ContextVersion: &api.ContextVersion{
			ID:    "cv-" + uuid.Short(),
			Build: &api.BuildState{Completed: true},
		},
		Container: &api.Container{
			DockerContainer: "container-" + uuid.Short(),
			DockerHost:      "http://10.0.0.1:4242",
			Inspect:         &api.ContainerInspect{State: api.ContainerState{Running: true}},
		},
	}
}

func (p *Platform) socket(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.t.Logf("websocket upgrade failed: %v", err)
		return
	}
	s := newFakeStream(ws)
	p.lock.Lock()
	p.open = append(p.open, s)
	p.lock.Unlock()

	select {
	case p.streams <- s:
	default:
		p.t.Errorf("too many unclaimed stream connections")
		s.Disconnect()
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
