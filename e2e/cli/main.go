// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"os"

	"github.com/hashicorp/cli"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/snoop/e2e/cli/command"
	"github.com/hashicorp/snoop/version"
)

func main() {

	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "snoop",
		Output: &cli.UiWriter{Ui: ui},
	})

	c := cli.NewCLI("snoop", version.GetVersion().VersionNumber())
	c.Args = os.Args[1:]
	c.Commands = map[string]cli.CommandFactory{
		"environments": command.EnvironmentsCommandFactory(ui, logger),
		"run":          command.RunCommandFactory(ui, logger),
	}

	exitStatus, err := c.Run()
	if err != nil {
		logger.Error("command exited with non-zero status", "status", exitStatus, "error", err)
	}
	os.Exit(exitStatus)
}
