// Copyright (c) 2018 DDN. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"context"
	"sort"
	"sync"
)

// TestOracle is an in-memory Oracle for tests.
type TestOracle struct {
	mu      sync.Mutex
	objects map[string]bool

	// Err, if set, is returned from every call.
	Err error

	ExistsCalls int
	Deleted     []string
}

// NewTest returns a TestOracle holding the given keys.
func NewTest(keys ...string) *TestOracle {
	o := &TestOracle{objects: make(map[string]bool)}
	for _, k := range keys {
		o.objects[k] = true
	}
	return o
}

// Put adds an object at key.
func (o *TestOracle) Put(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = true
}

// Keys returns the stored keys, sorted.
func (o *TestOracle) Keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var keys []string
	for k := range o.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Exists reports whether an object is stored at key.
func (o *TestOracle) Exists(ctx context.Context, key string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ExistsCalls++
	if o.Err != nil {
		return false, o.Err
	}
	return o.objects[key], nil
}

// Delete removes the object at key.
func (o *TestOracle) Delete(ctx context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	if !o.objects[key] {
		return NotFound(key)
	}
	delete(o.objects, key)
	o.Deleted = append(o.Deleted, key)
	return nil
}
