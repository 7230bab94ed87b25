// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package e2eutil

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/grafana/regexp"
	envparse "github.com/hashicorp/go-envparse"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/mitchellh/go-homedir"
)

const (
	// DefaultEnvironment is used when neither an API URL nor an environment
	// name is given.
	DefaultEnvironment = "gamma"

	// DefaultOrg is the GitHub org the suite runs as.
	DefaultOrg = "Runnable"

	// DefaultRepoName is the repository built by the repository phases.
	DefaultRepoName = "hello-node-rethinkdb"

	// DefaultServiceName is the template service built by the service phases.
	DefaultServiceName = "RethinkDB"

	// DefaultTimeout bounds each phase's waits.
	DefaultTimeout = 20 * time.Minute

	// DefaultTestsRepo holds the compose files of the compose phases.
	DefaultTestsRepo = "snoop-tests"

	// DefaultSSHKeyPrefix prefixes the GitHub keys the platform creates.
	DefaultSSHKeyPrefix = "Runnable"
)

var (
	// ServiceCMDRegex matches the service container reporting ready.
	ServiceCMDRegex = regexp.MustCompile(`(?i)server.*ready`)

	// RepoCMDRegex matches the repository container reporting it listens.
	RepoCMDRegex = regexp.MustCompile(`(?i)server.*running`)

	// RepoContainerMatch matches the repository container's HTTP response.
	// The sample app prints "Succesfully", so both spellings are accepted.
	RepoContainerMatch = regexp.MustCompile(`(?i)succes+fully.*connected.*to.*db`)

	// ServiceContainerMatch matches the service container's admin page.
	ServiceContainerMatch = regexp.MustCompile(`(?i)rethinkdb.*administration.*console`)

	// IsolatedServiceCMDRegex matches the isolated service container's logs.
	IsolatedServiceCMDRegex = regexp.MustCompile(`(?i)running.*rethinkdb`)

	platformDomain = regexp.MustCompile(`(?i)runnable[-a-z.]*`)
)

// Environment is a target deployment of the platform.
type Environment struct {
	Name              string `hcl:"name,label"`
	APIURL            string `hcl:"api_url"`
	SocketURL         string `hcl:"socket_url,optional"`
	UserContentDomain string `hcl:"user_content_domain,optional"`
}

// environmentsFile is the schema of SNOOP_ENVIRONMENTS_FILE.
type environmentsFile struct {
	Environments []*Environment `hcl:"environment,block"`
}

// builtinEnvironments are the known deployments.
var builtinEnvironments = map[string]*Environment{
	"staging": {Name: "staging", APIURL: "api-staging-codenow.runnableapp.com"},
	"stage":   {Name: "stage", APIURL: "api-staging-codenow.runnableapp.com"},
	"gamma":   {Name: "gamma", APIURL: "https://api.runnable-gamma.com"},
	"epsilon": {Name: "epsilon", APIURL: "https://api.runnable-beta.com"},
	"beta":    {Name: "beta", APIURL: "https://api.runnable-beta.com"},
	"delta":   {Name: "delta", APIURL: "https://api.runnable.io"},
	"bear":    {Name: "bear", APIURL: "https://api.runnable.rocks"},
	"grizzly": {Name: "grizzly", APIURL: "https://api.runnablecloud.com"},
}

// userContentDomains maps a platform domain to the domain its containers are
// published under.
var userContentDomains = map[string]string{
	"runnableapp.com":    "runnable-staging.com",
	"runnable-beta.com":  "runnablecloud.com",
	"runnable-gamma.com": "runnablecloud.com",
	"runnable.rocks":     "runnable-beta.com",
	"runnablecloud.com":  "runnabae.com",
	"runnable.io":        "runnableapp.com",
}

// githubIDs are the GitHub ids of the orgs the suite is usually run as.
var githubIDs = map[string]int64{
	"Runnable": 2828361,
	"thejsj":   1981198,
	"CodeNow":  2335750,
}

// Toggles switch phases of the suite on or off.
type Toggles struct {
	NoLogs            bool
	NoCleanup         bool
	NoRebuild         bool
	NoWebhooks        bool
	NoDNS             bool
	NoNavi            bool
	Isolation         bool
	NoPrivateRegistry bool
	NoSSHKeys         bool
	NoComposeExtends  bool
	NoMultipleHooks   bool
}

// Options configures a run of the suite.
type Options struct {
	Environment       string
	APIURL            string
	SocketURL         string
	UserContentDomain string
	AccessToken       string
	Org               string
	OrgID             int64
	RepoName          string
	ServiceName       string
	TestsRepo         string
	SSHKeyPrefix      string
	QuayToken         string
	DNSServer         string
	Timeout           time.Duration
	Toggles
}

// LoadOptions builds Options from an optional .env file and the process
// environment. Non-empty process values win over file values.
func LoadOptions() (*Options, error) {
	env, err := loadEnv()
	if err != nil {
		return nil, err
	}
	envs, err := loadEnvironments(env["SNOOP_ENVIRONMENTS_FILE"])
	if err != nil {
		return nil, err
	}
	return resolveOptions(env, envs)
}

// loadEnv merges the .env file (if any) under the process environment.
func loadEnv() (map[string]string, error) {
	path := os.Getenv("SNOOP_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("invalid SNOOP_ENV_FILE: %w", err)
	}

	env := make(map[string]string)
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		fileEnv, err := envparse.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}

	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if _, ok := env[k]; ok && v == "" {
			continue
		}
		env[k] = v
	}
	return env, nil
}

// loadEnvironments returns the built-in environments overlaid with the
// environments declared in the HCL file at path.
func loadEnvironments(path string) (map[string]*Environment, error) {
	envs := make(map[string]*Environment, len(builtinEnvironments))
	for name, e := range builtinEnvironments {
		c := *e
		envs[name] = &c
	}
	if path == "" {
		return envs, nil
	}

	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("invalid SNOOP_ENVIRONMENTS_FILE: %w", err)
	}
	var file environmentsFile
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, fmt.Errorf("failed to load environments: %w", err)
	}
	for _, e := range file.Environments {
		envs[e.Name] = e
	}
	return envs, nil
}

func resolveOptions(env map[string]string, envs map[string]*Environment) (*Options, error) {
	opts := &Options{
		Environment:       env["SNOOP_ENVIRONMENT"],
		APIURL:            env["API_URL"],
		SocketURL:         env["API_SOCKET_SERVER"],
		UserContentDomain: env["USER_CONTENT_DOMAIN"],
		AccessToken:       env["AUTH_TOKEN"],
		Org:               orDefault(env["SNOOP_ORG"], DefaultOrg),
		RepoName:          orDefault(env["SNOOP_REPO_NAME"], DefaultRepoName),
		ServiceName:       orDefault(env["SNOOP_SERVICE_NAME"], DefaultServiceName),
		TestsRepo:         orDefault(env["SNOOP_TESTS_REPO"], DefaultTestsRepo),
		SSHKeyPrefix:      orDefault(env["SNOOP_SSH_KEY_PREFIX"], DefaultSSHKeyPrefix),
		QuayToken:         env["QUAY_API_TOKEN"],
		DNSServer:         env["SNOOP_DNS_SERVER"],
		Timeout:           DefaultTimeout,
	}

	var err error
	opts.Toggles, err = parseToggles(env)
	if err != nil {
		return nil, err
	}

	if v := env["SNOOP_TIMEOUT"]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SNOOP_TIMEOUT %q: %w", v, err)
		}
		opts.Timeout = d
	}

	var target *Environment
	switch {
	case opts.APIURL != "":
	case opts.Environment != "":
		e, ok := envs[opts.Environment]
		if !ok {
			return nil, fmt.Errorf("unknown environment %q; known environments: %s",
				opts.Environment, strings.Join(EnvironmentNames(envs), ", "))
		}
		target = e
	default:
		opts.Environment = DefaultEnvironment
		target = envs[DefaultEnvironment]
	}
	if target != nil {
		opts.APIURL = target.APIURL
		if opts.SocketURL == "" {
			opts.SocketURL = target.SocketURL
		}
		if opts.UserContentDomain == "" {
			opts.UserContentDomain = target.UserContentDomain
		}
	}
	if opts.SocketURL == "" {
		opts.SocketURL = SocketURLFor(opts.APIURL, envs)
	}
	if opts.UserContentDomain == "" {
		opts.UserContentDomain = UserContentDomainFor(opts.APIURL)
	}

	if v := env["SNOOP_ORG_ID"]; v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SNOOP_ORG_ID %q: %w", v, err)
		}
		opts.OrgID = id
	} else {
		opts.OrgID = githubIDs[opts.Org]
	}
	if opts.OrgID == 0 {
		return nil, fmt.Errorf("github id not found for org %q; set SNOOP_ORG_ID", opts.Org)
	}
	return opts, nil
}

func parseToggles(env map[string]string) (Toggles, error) {
	var t Toggles
	fields := []struct {
		key string
		dst *bool
	}{
		{"NO_LOGS", &t.NoLogs},
		{"NO_CLEANUP", &t.NoCleanup},
		{"NO_REBUILD", &t.NoRebuild},
		{"NO_WEBHOOKS", &t.NoWebhooks},
		{"NO_DNS", &t.NoDNS},
		{"NO_NAVI", &t.NoNavi},
		{"ISOLATION", &t.Isolation},
		{"NO_PRIVATE_REGISTRY", &t.NoPrivateRegistry},
		{"NO_SSH_KEYS", &t.NoSSHKeys},
		{"NO_COMPOSE_EXTENDS", &t.NoComposeExtends},
		{"NO_MULTIPLE_WEBHOOKS", &t.NoMultipleHooks},
	}
	for _, f := range fields {
		v := env[f.key]
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return t, fmt.Errorf("invalid %s %q: %w", f.key, v, err)
		}
		*f.dst = b
	}
	return t, nil
}

// SocketURLFor derives the socket server address of an API. The staging
// deployment serves sockets from the API host itself.
func SocketURLFor(apiURL string, envs map[string]*Environment) string {
	if staging, ok := envs["staging"]; ok && apiURL == staging.APIURL {
		return apiURL
	}
	return strings.Replace(apiURL, "api", "apisock", 1)
}

// UserContentDomainFor looks up the user content domain of an API by its
// platform domain. It returns "" for unknown platforms.
func UserContentDomainFor(apiURL string) string {
	return userContentDomains[strings.ToLower(platformDomain.FindString(apiURL))]
}

// EnvironmentNames returns the sorted names of envs.
func EnvironmentNames(envs map[string]*Environment) []string {
	names := make([]string, 0, len(envs))
	for name := range envs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environments returns the built-in environments overlaid with
// SNOOP_ENVIRONMENTS_FILE.
func Environments() (map[string]*Environment, error) {
	return loadEnvironments(os.Getenv("SNOOP_ENVIRONMENTS_FILE"))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
