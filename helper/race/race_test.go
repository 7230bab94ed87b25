// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package race

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shoenig/test/must"
	"pgregory.net/rapid"
)

type fakeWatcher struct {
	once sync.Once
	ch   chan struct{}
	err  error
}

func newWatcher() *fakeWatcher {
	return &fakeWatcher{ch: make(chan struct{})}
}

func (w *fakeWatcher) fail(err error) {
	w.once.Do(func() {
		w.err = err
		close(w.ch)
	})
}

func (w *fakeWatcher) Done() <-chan struct{} { return w.ch }
func (w *fakeWatcher) Err() error            { return w.err }

func after(d time.Duration, err error) Probe {
	return func(ctx context.Context) error {
		select {
		case <-time.After(d):
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func never() Probe {
	return func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
}

func TestRun_FirstSuccessWins(t *testing.T) {
	w := newWatcher()
	err := Run(context.Background(), w, First, after(time.Millisecond, nil), never())
	must.NoError(t, err)
}

func TestRun_AllWaitsForEveryProbe(t *testing.T) {
	w := newWatcher()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := Run(ctx, w, All, after(time.Millisecond, nil), never())
	must.ErrorIs(t, err, context.DeadlineExceeded)

	err = Run(context.Background(), w, All, after(time.Millisecond, nil), after(5*time.Millisecond, nil))
	must.NoError(t, err)
}

func TestRun_FailureBeforeSuccess(t *testing.T) {
	w := newWatcher()
	disconnected := errors.New("socket disconnected")

	go w.fail(disconnected)
	err := Run(context.Background(), w, First, after(time.Millisecond, nil))
	must.ErrorIs(t, err, disconnected)
}

func TestRun_AlreadyFailed(t *testing.T) {
	w := newWatcher()
	w.fail(errors.New("socket error"))

	// a probe that succeeds instantly still loses
	err := Run(context.Background(), w, First, func(context.Context) error { return nil })
	must.ErrorContains(t, err, "socket error")
}

func TestRun_FailureWhileProbeReports(t *testing.T) {
	w := newWatcher()
	boom := errors.New("build errored")

	// the probe fails the watcher and then reports success; the failure
	// must win
	probe := func(context.Context) error {
		w.fail(boom)
		return nil
	}
	err := Run(context.Background(), w, First, probe)
	must.ErrorIs(t, err, boom)
}

func TestRun_ProbeError(t *testing.T) {
	w := newWatcher()
	bad := errors.New("unexpected frame")
	err := Run(context.Background(), w, All, after(time.Millisecond, bad), never())
	must.ErrorIs(t, err, bad)
	must.ErrorContains(t, err, "probe 0")
}

func TestRun_NoProbes(t *testing.T) {
	w := newWatcher()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	must.ErrorIs(t, Run(ctx, w, First), context.DeadlineExceeded)

	w.fail(errors.New("disconnected"))
	must.ErrorContains(t, Run(context.Background(), w, First), "disconnected")
}

func TestRun_CancelsOutstandingProbes(t *testing.T) {
	w := newWatcher()
	cancelled := make(chan struct{})
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}

	must.NoError(t, Run(context.Background(), w, First, after(0, nil), slow))
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("outstanding probe was not cancelled")
	}
}

func TestRun_FailureIsAuthoritative(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		w := newWatcher()
		boom := errors.New("platform error")
		n := rapid.IntRange(1, 4).Draw(rt, "probes")
		mode := Mode(rapid.IntRange(0, 1).Draw(rt, "mode"))

		probes := make([]Probe, n)
		for i := range probes {
			probes[i] = after(time.Millisecond, nil)
		}

		w.fail(boom)
		if err := Run(context.Background(), w, mode, probes...); !errors.Is(err, boom) {
			rt.Fatalf("mode %s with %d probes: expected failure, got %v", mode, n, err)
		}
	})
}
