// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"flag"
	"io"

	"github.com/hashicorp/cli"
	hclog "github.com/hashicorp/go-hclog"
)

// Meta holds what every command shares.
type Meta struct {
	Ui     cli.Ui
	logger hclog.Logger

	verbose bool
}

// FlagSet returns a flag set with the common flags registered.
func (m *Meta) FlagSet(name string) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.BoolVar(&m.verbose, "verbose", false, "")
	flags.SetOutput(io.Discard)
	return flags
}
