// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package e2eutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/armon/circbuf"
	"github.com/grafana/regexp"
	"github.com/hashicorp/snoop/api"
	"github.com/hashicorp/snoop/helper/race"
	"github.com/hashicorp/snoop/helper/uuid"
	"github.com/shoenig/test/must"
)

const (
	// DefaultTerminalCommand is written to a fresh terminal to prove the
	// container accepts commands.
	DefaultTerminalCommand = "sleep 1 && ping -c 1 localhost\n"

	// maxOutput bounds the output kept for matching.
	maxOutput = 64 * 1024
)

// DefaultTerminalMatch matches the output of DefaultTerminalCommand.
var DefaultTerminalMatch = regexp.MustCompile(`(?i)from.*(localhost|127\.0\.0\.1)`)

// BuildLogsProbe succeeds once the build stream of a context version emits
// a completion record.
func BuildLogsProbe(conn *api.StreamConn, contextVersionID string) race.Probe {
	return func(ctx context.Context) error {
		s, err := conn.BuildStream(contextVersionID, uuid.Generate())
		if err != nil {
			return err
		}
		defer s.Close()

		for {
			payload, err := s.Next(ctx)
			if err != nil {
				return err
			}
			logs, err := api.DecodeBuildLogs(payload)
			if err != nil {
				continue
			}
			for _, l := range logs {
				if l.IsCompleted() {
					return nil
				}
			}
		}
	}
}

// CMDLogsProbe succeeds once the accumulated output of a container matches
// re.
func CMDLogsProbe(conn *api.StreamConn, containerID, dockHost string, re *regexp.Regexp) race.Probe {
	return func(ctx context.Context) error {
		s, err := conn.LogStream(containerID, dockHost, uuid.Generate())
		if err != nil {
			return err
		}
		defer s.Close()
		return awaitOutput(ctx, s, re)
	}
}

// TerminalProbe opens a terminal in a container, runs command once the
// terminal is ready and succeeds when the output matches re.
func TerminalProbe(conn *api.StreamConn, containerID, dockHost, command string, re *regexp.Regexp) race.Probe {
	return func(ctx context.Context) error {
		s, err := conn.TerminalStream(ctx, containerID, dockHost, uuid.Generate(), command)
		if err != nil {
			return err
		}
		defer s.Close()
		return awaitOutput(ctx, s, re)
	}
}

// awaitOutput accumulates substream output until it matches re. Only the
// newest maxOutput bytes are kept.
func awaitOutput(ctx context.Context, s *api.Substream, re *regexp.Regexp) error {
	out, err := circbuf.NewBuffer(maxOutput)
	if err != nil {
		return err
	}
	for {
		payload, err := s.Next(ctx)
		if err != nil {
			return err
		}
		_, _ = out.Write([]byte(api.DecodeOutput(payload)))
		if re.Match(out.Bytes()) {
			return nil
		}
	}
}

// OpenStream opens a stream connection that is closed when the test ends.
func OpenStream(t testing.TB, ctx context.Context, c *api.Client) *api.StreamConn {
	t.Helper()
	conn, err := c.Stream(ctx)
	must.NoError(t, err, must.Sprint("failed to open stream connection"))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// raceOnNewConn runs probes built on a fresh connection against its
// failures and closes it afterwards.
func raceOnNewConn(ctx context.Context, c *api.Client, mode race.Mode, build func(*api.StreamConn) []race.Probe) error {
	conn, err := c.Stream(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return race.Run(ctx, conn, mode, build(conn)...)
}

func containerOf(t testing.TB, ref *api.InstanceRef) *api.Container {
	t.Helper()
	inst := ref.Attrs()
	must.True(t, inst.HasContainer(), must.Sprintf("instance %q has no container", inst.Name))
	return inst.Container
}

func contextVersionOf(t testing.TB, ref *api.InstanceRef) string {
	t.Helper()
	inst := ref.Attrs()
	must.NotNil(t, inst.ContextVersion, must.Sprintf("instance %q has no context version", inst.Name))
	return inst.ContextVersion.ID
}

// CheckBuildLogs fails the test unless the build logs of ref report
// completion before the stream fails.
func CheckBuildLogs(t testing.TB, ctx context.Context, c *api.Client, ref *api.InstanceRef) {
	t.Helper()
	cv := contextVersionOf(t, ref)
	err := raceOnNewConn(ctx, c, race.First, func(conn *api.StreamConn) []race.Probe {
		return []race.Probe{BuildLogsProbe(conn, cv)}
	})
	must.NoError(t, err, must.Sprintf("build logs of %q", ref.Attrs().Name))
}

// CheckCMDLogs fails the test unless the container output of ref matches re
// before the stream fails.
func CheckCMDLogs(t testing.TB, ctx context.Context, c *api.Client, ref *api.InstanceRef, re *regexp.Regexp) {
	t.Helper()
	container := containerOf(t, ref)
	err := raceOnNewConn(ctx, c, race.First, func(conn *api.StreamConn) []race.Probe {
		return []race.Probe{CMDLogsProbe(conn, container.DockerContainer, container.DockerHost, re)}
	})
	must.NoError(t, err, must.Sprintf("CMD logs of %q never matched %s", ref.Attrs().Name, re))
}

// CheckBuildAndCMDLogs requires both the build completion and the output
// match, joined on one connection.
func CheckBuildAndCMDLogs(t testing.TB, ctx context.Context, c *api.Client, ref *api.InstanceRef, re *regexp.Regexp) {
	t.Helper()
	cv := contextVersionOf(t, ref)
	container := containerOf(t, ref)
	err := raceOnNewConn(ctx, c, race.All, func(conn *api.StreamConn) []race.Probe {
		return []race.Probe{
			BuildLogsProbe(conn, cv),
			CMDLogsProbe(conn, container.DockerContainer, container.DockerHost, re),
		}
	})
	must.NoError(t, err, must.Sprintf("build and CMD logs of %q", ref.Attrs().Name))
}

// AwaitTerminal runs command in a terminal on ref's container and waits for
// output matching re on a fresh connection.
func AwaitTerminal(ctx context.Context, c *api.Client, ref *api.InstanceRef, command string, re *regexp.Regexp) error {
	inst := ref.Attrs()
	if !inst.HasContainer() {
		return fmt.Errorf("instance %q has no container", inst.Name)
	}
	container := inst.Container
	return raceOnNewConn(ctx, c, race.First, func(conn *api.StreamConn) []race.Probe {
		return []race.Probe{TerminalProbe(conn, container.DockerContainer, container.DockerHost, command, re)}
	})
}

// CheckTerminal fails the test unless command, run in a terminal on ref's
// container, prints output matching re.
func CheckTerminal(t testing.TB, ctx context.Context, c *api.Client, ref *api.InstanceRef, command string, re *regexp.Regexp) {
	t.Helper()
	err := AwaitTerminal(ctx, c, ref, command, re)
	must.NoError(t, err, must.Sprintf("terminal on %q never matched %s", ref.Attrs().Name, re))
}

// CheckWorkingContainer runs the checks every new container goes through:
// it gets a container, its build completes, its output matches cmdRe, it is
// running and it accepts terminal commands.
func CheckWorkingContainer(t testing.TB, ctx context.Context, f *Fixtures, ref *api.InstanceRef, cmdRe *regexp.Regexp) {
	t.Helper()
	WaitForContainer(t, ctx, ref)
	if !f.Opts.NoLogs {
		CheckBuildAndCMDLogs(t, ctx, f.Client, ref, cmdRe)
	}
	WaitForRunning(t, ctx, ref)
	CheckTerminal(t, ctx, f.Client, ref, DefaultTerminalCommand, DefaultTerminalMatch)
}
