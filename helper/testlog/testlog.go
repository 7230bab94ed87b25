// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package testlog creates loggers backed by testing.T to ease logging in
// tests.
package testlog

import (
	"io"
	"os"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
)

// LogPrinter is the methods of testing.T (or testing.B) needed by the test
// logger.
type LogPrinter interface {
	Logf(format string, args ...interface{})
}

// writer implements io.Writer on top of a LogPrinter.
type writer struct {
	prefix string
	t      LogPrinter
}

// Write to an underlying LogPrinter. Never returns an error.
func (w *writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s%s", w.prefix, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// NewWriter creates a new io.Writer backed by a LogPrinter.
func NewWriter(t LogPrinter) io.Writer {
	return &writer{t: t}
}

// NewPrefixWriter creates a new io.Writer backed by a LogPrinter with a
// custom prefix per Write.
func NewPrefixWriter(t LogPrinter, prefix string) io.Writer {
	return &writer{prefix: prefix, t: t}
}

// HCLogger returns a new test hc-logger. The level defaults to Trace and can
// be overridden with SNOOP_TEST_LOG_LEVEL.
func HCLogger(t LogPrinter) hclog.InterceptLogger {
	level := hclog.Trace
	if envLogLevel := os.Getenv("SNOOP_TEST_LOG_LEVEL"); envLogLevel != "" {
		level = hclog.LevelFromString(envLogLevel)
	}
	opts := &hclog.LoggerOptions{
		Level:           level,
		Output:          NewWriter(t),
		IncludeLocation: true,
	}
	return hclog.NewInterceptLogger(opts)
}
