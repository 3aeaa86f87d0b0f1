// Copyright 2025 the bili-digest authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cor (Chain of Responsibility) provides the building blocks the
// digest pipeline is assembled from. This file defines `BaseContext`, the
// default implementation of the `Context` interface.
//
// The context is the property bag of one run: each command reads its input
// from it, does its work, and writes results back for the commands behind
// it. Temp artifact ownership is delegated to a Releaser (in practice the
// tempfiles manager) keyed by the run id, so disposal policy lives in one
// place instead of in every command that creates a file.
package cor

import "context"

// Releaser is the part of the temp artifact manager the context needs:
// ending a run's ownership of everything registered under its id.
type Releaser interface {
	ReleaseRun(runID string)
}

// BaseContext is the default implementation of the Context interface.
type BaseContext struct {
	runID    string
	data     map[string]interface{}
	errors   map[string]error // Keyed by the command name that failed.
	releaser Releaser
	context  context.Context
}

// NewBaseContext is the constructor for BaseContext.
//
// Inputs:
//   - runID: The identifier this run's temp artifacts are registered under.
//   - releaser: The temp artifact manager, or nil when the run creates none.
//
// Outputs:
//   - Context: A new, empty context object.
func NewBaseContext(runID string, releaser Releaser) Context {
	return &BaseContext{
		runID:    runID,
		data:     make(map[string]interface{}),
		errors:   make(map[string]error),
		releaser: releaser,
	}
}

// SetContext sets the underlying standard Go context. The chain uses this to
// scope each command under its own trace span.
func (c *BaseContext) SetContext(ctx context.Context) {
	c.context = ctx
}

// GetContext retrieves the underlying standard Go context.
func (c *BaseContext) GetContext() context.Context {
	return c.context
}

// RunID returns the run identifier.
func (c *BaseContext) RunID() string {
	return c.runID
}

// Close ends the run's ownership of its temp artifacts. Whether they are
// deleted now or left for the TTL sweep is the manager's policy, not the
// context's.
func (c *BaseContext) Close() {
	if c.releaser != nil {
		c.releaser.ReleaseRun(c.runID)
	}
}

// Add stores a key-value pair in the context's data map.
//
// Outputs:
//   - Context: The context instance, allowing fluent chaining.
func (c *BaseContext) Add(key string, value interface{}) Context {
	c.data[key] = value
	return c
}

// AddError records an error, keyed by the command that produced it.
func (c *BaseContext) AddError(key string, err error) {
	c.errors[key] = err
}

// GetErrors returns the map of all errors collected during the run.
func (c *BaseContext) GetErrors() map[string]error {
	return c.errors
}

// Get retrieves a value by key, nil when absent.
func (c *BaseContext) Get(key string) interface{} {
	return c.data[key]
}

// Remove deletes a key-value pair from the context's data map.
func (c *BaseContext) Remove(key string) {
	delete(c.data, key)
}

// HasErrors reports whether any command recorded an error.
func (c *BaseContext) HasErrors() bool {
	return len(c.errors) > 0
}
