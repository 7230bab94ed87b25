// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"maps"
	"sync"
	"testing"
)

func NewCallCounter() *CallCounter {
	return &CallCounter{
		counts: make(map[string]int),
	}
}

// CallCounter counts the requests the fake platform served, keyed by route.
type CallCounter struct {
	lock   sync.Mutex
	counts map[string]int
}

func (c *CallCounter) Inc(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.counts[name]++
}

func (c *CallCounter) Get() map[string]int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return maps.Clone(c.counts)
}

func (c *CallCounter) Count(name string) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.counts[name]
}

func (c *CallCounter) AssertCalled(t testing.TB, name string) {
	t.Helper()
	counts := c.Get()
	if _, ok := counts[name]; !ok {
		t.Errorf("'%s' not called; all counts: %v", name, counts)
	}
}

func (c *CallCounter) AssertNotCalled(t testing.TB, name string) {
	t.Helper()
	counts := c.Get()
	if n, ok := counts[name]; ok {
		t.Errorf("'%s' called %d times; all counts: %v", name, n, counts)
	}
}
