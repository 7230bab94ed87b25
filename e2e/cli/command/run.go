// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/cli"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/snoop/e2e/e2eutil"
)

const (
	// modulePath is the module the suite lives in.
	modulePath = "github.com/hashicorp/snoop"

	// suitePackage is the package holding the phases, relative to the
	// module root.
	suitePackage = "./e2e/containers"
)

func RunCommandFactory(ui cli.Ui, logger hclog.Logger) cli.CommandFactory {
	return func() (cli.Command, error) {
		meta := Meta{
			Ui:     ui,
			logger: logger,
		}
		return &Run{Meta: meta}, nil
	}
}

type Run struct {
	Meta
}

func (c *Run) Help() string {
	helpText := `
Usage: snoop run [options]

  Runs the end-to-end suite against a platform deployment. Options are
  passed to the suite as environment variables; values already set in the
  environment or in .env are used when a flag is not given.

Run Options:

  -env
    Name of the target environment. See "snoop environments".

  -api-url
    API address to target instead of a named environment.

  -org
    GitHub org the suite acts as.

  -timeout
    Bound on the waits of each phase, e.g. 20m.

  -run
    Only run phases matching this regular expression.

  -dir
    Root of the snoop module. Defaults to the module containing the current
    directory, as reported by "go list -m".

  -no-logs, -no-cleanup, -no-rebuild, -no-webhooks, -no-dns, -no-navi,
  -no-private-registry, -no-ssh-keys, -no-compose-extends,
  -no-multiple-webhooks
    Skip the named checks or phases.

  -isolation
    Run the isolation phase.

  -verbose
    Log the suite's output at debug level as it runs.
`
	return strings.TrimSpace(helpText)
}

func (c *Run) Synopsis() string {
	return "Runs the end-to-end suite"
}

// toggleFlags maps run flags to the variables the suite reads.
var toggleFlags = map[string]string{
	"no-logs":              "NO_LOGS",
	"no-cleanup":           "NO_CLEANUP",
	"no-rebuild":           "NO_REBUILD",
	"no-webhooks":          "NO_WEBHOOKS",
	"no-dns":               "NO_DNS",
	"no-navi":              "NO_NAVI",
	"isolation":            "ISOLATION",
	"no-private-registry":  "NO_PRIVATE_REGISTRY",
	"no-ssh-keys":          "NO_SSH_KEYS",
	"no-compose-extends":   "NO_COMPOSE_EXTENDS",
	"no-multiple-webhooks": "NO_MULTIPLE_WEBHOOKS",
}

func (c *Run) Run(args []string) int {
	var envName, apiURL, org, filter, dir string
	var timeout time.Duration
	toggles := make(map[string]*bool, len(toggleFlags))

	cmdFlags := c.FlagSet("run")
	cmdFlags.Usage = func() { c.Ui.Output(c.Help()) }
	cmdFlags.StringVar(&envName, "env", "", "")
	cmdFlags.StringVar(&apiURL, "api-url", "", "")
	cmdFlags.StringVar(&org, "org", "", "")
	cmdFlags.StringVar(&filter, "run", "", "")
	cmdFlags.StringVar(&dir, "dir", "", "")
	cmdFlags.DurationVar(&timeout, "timeout", 0, "")
	for name := range toggleFlags {
		toggles[name] = cmdFlags.Bool(name, false, "")
	}

	if err := cmdFlags.Parse(args); err != nil {
		c.logger.Error("failed to parse flags:", "error", err)
		return 1
	}
	if c.verbose {
		c.logger.SetLevel(hclog.Debug)
	}

	if envName != "" {
		envs, err := e2eutil.Environments()
		if err != nil {
			c.logger.Error("failed to load environments", "error", err)
			return 1
		}
		if _, ok := envs[envName]; !ok {
			c.logger.Error("unknown environment", "env", envName,
				"known", strings.Join(e2eutil.EnvironmentNames(envs), ","))
			return 1
		}
	}

	vars := map[string]string{
		"SNOOP_ENVIRONMENT": envName,
		"API_URL":           apiURL,
		"SNOOP_ORG":         org,
	}
	if timeout > 0 {
		vars["SNOOP_TIMEOUT"] = timeout.String()
	}
	for name, set := range toggles {
		if *set {
			vars[toggleFlags[name]] = "true"
		}
	}

	// the suite reads the same variables, so a bad combination fails here
	// instead of after the build
	if err := checkOptions(vars); err != nil {
		c.logger.Error("invalid options", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runSuite(ctx, c.logger, vars, dir, filter, timeout); err != nil {
		c.logger.Error("suite failed", "error", err)
		return 1
	}
	c.logger.Info("suite passed")
	return 0
}

// checkOptions resolves the suite options as the suite will see them.
func checkOptions(vars map[string]string) error {
	for k, v := range vars {
		if v == "" {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
	}
	opts, err := e2eutil.LoadOptions()
	if err != nil {
		return err
	}
	if opts.AccessToken == "" {
		return fmt.Errorf("AUTH_TOKEN must be set")
	}
	return nil
}

// suiteEnv returns the process environment overlaid with vars.
func suiteEnv(vars map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(vars))
	for k, v := range vars {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

// testArgs builds the go test invocation of the suite. The test binary's
// own deadline covers every phase with room to spare.
func testArgs(filter string, timeout time.Duration) []string {
	if timeout <= 0 {
		timeout = e2eutil.DefaultTimeout
	}
	args := []string{"test", "-count=1", "-v",
		"-timeout", (timeout * 15).String(),
		"-run", "TestContainers",
	}
	if filter != "" {
		args[len(args)-1] = "TestContainers/" + filter
	}
	return append(args, suitePackage)
}

// moduleDir returns dir when set, otherwise asks go for the root of the
// snoop module as seen from the working directory.
func moduleDir(ctx context.Context, goBin, dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	out, err := exec.CommandContext(ctx, goBin, "list", "-m", "-f", "{{.Dir}}", modulePath).Output()
	if err != nil {
		return "", fmt.Errorf("failed to locate %s, run from inside the module or pass -dir: %v", modulePath, err)
	}
	dir = strings.TrimSpace(string(out))
	if dir == "" {
		return "", fmt.Errorf("go list reported no directory for %s", modulePath)
	}
	return dir, nil
}

func runSuite(ctx context.Context, logger hclog.Logger, vars map[string]string, dir, filter string, timeout time.Duration) error {
	goBin, err := exec.LookPath("go")
	if err != nil {
		return fmt.Errorf("failed to lookup go binary: %v", err)
	}
	dir, err = moduleDir(ctx, goBin, dir)
	if err != nil {
		return err
	}

	args := testArgs(filter, timeout)
	logger.Debug("running suite", "dir", dir, "cmd", goBin+" "+strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, goBin, args...)
	cmd.Dir = dir
	cmd.Env = suiteEnv(vars)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start go test: %v", err)
	}
	done := make(chan struct{}, 2)
	go func() { suiteLog(logger.Named("stderr"), stderr); done <- struct{}{} }()
	go func() { suiteLog(logger.Named("stdout"), stdout); done <- struct{}{} }()
	<-done
	<-done

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("go test exited with a non-zero status: %v", err)
	}
	return nil
}

// suiteLog forwards the suite's output line by line. Test results are
// always shown, everything else only at debug level.
func suiteLog(logger hclog.Logger, r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch trimmed := strings.TrimSpace(line); {
		case strings.HasPrefix(trimmed, "--- FAIL"), strings.HasPrefix(trimmed, "FAIL"):
			logger.Error(trimmed)
		case strings.HasPrefix(trimmed, "--- PASS"), strings.HasPrefix(trimmed, "--- SKIP"),
			strings.HasPrefix(trimmed, "ok "), trimmed == "PASS":
			logger.Info(trimmed)
		default:
			logger.Debug(line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("scan error", "error", err)
	}
}
