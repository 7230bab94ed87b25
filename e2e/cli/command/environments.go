// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"
	"strings"

	"github.com/hashicorp/cli"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/snoop/e2e/e2eutil"
	"github.com/ryanuber/columnize"
)

func EnvironmentsCommandFactory(ui cli.Ui, logger hclog.Logger) cli.CommandFactory {
	return func() (cli.Command, error) {
		meta := Meta{
			Ui:     ui,
			logger: logger,
		}
		return &Environments{Meta: meta}, nil
	}
}

type Environments struct {
	Meta
}

func (c *Environments) Help() string {
	helpText := `
Usage: snoop environments

  Lists the platform deployments the suite can target with -env, including
  those declared in SNOOP_ENVIRONMENTS_FILE.
`
	return strings.TrimSpace(helpText)
}

func (c *Environments) Synopsis() string {
	return "Lists the known target environments"
}

func (c *Environments) Run(args []string) int {
	cmdFlags := c.FlagSet("environments")
	cmdFlags.Usage = func() { c.Ui.Output(c.Help()) }
	if err := cmdFlags.Parse(args); err != nil {
		c.logger.Error("failed to parse flags:", "error", err)
		return 1
	}

	envs, err := e2eutil.Environments()
	if err != nil {
		c.logger.Error("failed to load environments", "error", err)
		return 1
	}
	c.Ui.Output(formatEnvironments(envs))
	return 0
}

func formatEnvironments(envs map[string]*e2eutil.Environment) string {
	rows := []string{"Name|API|Socket|User Content"}
	for _, name := range e2eutil.EnvironmentNames(envs) {
		e := envs[name]
		socket := e.SocketURL
		if socket == "" {
			socket = e2eutil.SocketURLFor(e.APIURL, envs)
		}
		domain := e.UserContentDomain
		if domain == "" {
			domain = e2eutil.UserContentDomainFor(e.APIURL)
		}
		rows = append(rows, fmt.Sprintf("%s|%s|%s|%s", name, e.APIURL, socket, orDash(domain)))
	}
	return columnize.SimpleFormat(rows)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
