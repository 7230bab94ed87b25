// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package race runs success probes against a failure watcher.
//
// A failure reported by the watcher is authoritative: once it has fired the
// race fails, even if a probe reported success at the same moment.
package race

import (
	"context"
	"errors"
	"fmt"
)

// Watcher signals failure of a shared resource. Done is closed once Err
// returns a non-nil error. *api.StreamConn satisfies Watcher.
type Watcher interface {
	Done() <-chan struct{}
	Err() error
}

// Probe blocks until its success condition is observed and returns nil, or
// returns an error. It must return when ctx is cancelled.
type Probe func(ctx context.Context) error

// Mode controls how probe successes combine.
type Mode int

const (
	// First settles on the first successful probe.
	First Mode = iota

	// All settles once every probe has succeeded.
	All
)

func (m Mode) String() string {
	switch m {
	case First:
		return "first"
	case All:
		return "all"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

type result struct {
	idx int
	err error
}

// Run starts every probe concurrently and settles on the first of:
//   - the watcher firing (returns the watcher's error),
//   - a probe returning an error (returns that error),
//   - the success condition for mode.
//
// Outstanding probes are cancelled before Run returns.
func Run(ctx context.Context, w Watcher, mode Mode, probes ...Probe) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// check before starting anything so a connection that already failed
	// never reports success
	if err := failed(w); err != nil {
		return err
	}

	results := make(chan result, len(probes))
	for i, p := range probes {
		go func(i int, p Probe) {
			results <- result{idx: i, err: p(ctx)}
		}(i, p)
	}

	remaining := len(probes)
	for {
		select {
		case <-w.Done():
			return watcherErr(w)

		case <-ctx.Done():
			if err := failed(w); err != nil {
				return err
			}
			return ctx.Err()

		case res := <-results:
			if err := failed(w); err != nil {
				return err
			}
			if res.err != nil {
				return fmt.Errorf("probe %d: %w", res.idx, res.err)
			}
			remaining--
			if mode == First || remaining == 0 {
				return nil
			}
		}
	}
}

// failed reports the watcher's error without blocking.
func failed(w Watcher) error {
	select {
	case <-w.Done():
		return watcherErr(w)
	default:
		return nil
	}
}

func watcherErr(w Watcher) error {
	if err := w.Err(); err != nil {
		return err
	}
	return errors.New("race: watcher closed without error")
}
