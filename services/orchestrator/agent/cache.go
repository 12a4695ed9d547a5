// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"sync"
)

// RefCache caches one resolved agent reference behind a lock so concurrent
// turns trigger at most one upstream resolution.
//
// # Description
//
// The read path is double-checked: a warm cache is served under a shared
// read lock, and a cold caller takes the write lock, re-checks the slot,
// and performs the resolution while later callers wait on the same lock
// and then see the populated slot. A failed resolution leaves the slot
// empty so the next turn retries.
//
// # Thread Safety
//
// Safe for concurrent use.
type RefCache struct {
	mu       sync.RWMutex
	resolved bool
	ref      AgentRef
}

// Get returns the cached ref, resolving it with resolve on first use.
func (c *RefCache) Get(ctx context.Context, resolve func(ctx context.Context) (AgentRef, error)) (AgentRef, error) {
	c.mu.RLock()
	if c.resolved {
		ref := c.ref
		c.mu.RUnlock()
		return ref, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		return c.ref, nil
	}
	ref, err := resolve(ctx)
	if err != nil {
		return AgentRef{}, err
	}
	c.ref = ref
	c.resolved = true
	return ref, nil
}

// Invalidate clears the cached ref, forcing the next Get to resolve again.
func (c *RefCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved = false
	c.ref = AgentRef{}
}
