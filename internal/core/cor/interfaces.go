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
// digest pipeline is assembled from. This file defines the interfaces that
// govern every component of the pattern: a workflow is a Chain of Commands
// sharing one Context per run.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CtxIn and CtxOut are the keys the chain uses to pipe the primary value
// from one command to the next.
const (
	// CtxIn is the default key for a command's primary input. The chain
	// populates it with the previous command's output.
	CtxIn = "__IN__"
	// CtxOut is the default key where a command places its primary output.
	CtxOut = "__OUT__"
)

// Context is the shared state for one digest run. It carries data between
// commands, collects per-command errors, and owns the run's temp artifacts
// through the lifecycle manager.
type Context interface {
	// SetContext sets the standard Go context, used for cancellation and
	// trace propagation.
	SetContext(ctx context.Context)

	// GetContext retrieves the standard Go context.
	GetContext() context.Context

	// RunID returns the identifier temp artifacts of this run are
	// registered under.
	RunID() string

	// Add stores a key-value pair. Returns the Context for chaining.
	Add(key string, value interface{}) Context

	// Get retrieves a value by key, nil when absent.
	Get(key string) interface{}

	// Remove deletes a key-value pair.
	Remove(key string)

	// AddError records a command failure, keyed by the command name.
	AddError(key string, err error)

	// GetErrors returns every error collected during the run.
	GetErrors() map[string]error

	// HasErrors reports whether any command failed.
	HasErrors() bool

	// Close releases the run's temp artifacts. Deferred at run start.
	Close()
}

// Executable is anything with core execution logic reading from and writing
// to a shared Context.
type Executable interface {
	Execute(context Context)
}

// Command is an atomic, testable unit of pipeline work.
type Command interface {
	Executable

	// GetName returns the command name used in logs and telemetry.
	GetName() string

	// GetInputParam returns the context key of the primary input.
	GetInputParam() string

	// GetOutputParam returns the context key of the primary output.
	GetOutputParam() string

	// IsExecutable is the precondition check before Execute runs.
	IsExecutable(context Context) bool

	// GetTracer returns the OpenTelemetry tracer for this command.
	GetTracer() trace.Tracer

	// GetMeter returns the OpenTelemetry meter for this command.
	GetMeter() metric.Meter

	// GetSuccessCounter counts successful executions.
	GetSuccessCounter() metric.Int64Counter

	// GetErrorCounter counts failed executions.
	GetErrorCounter() metric.Int64Counter
}

// Chain is a sequence of commands. A Chain is itself a Command, so chains
// nest.
type Chain interface {
	Command

	// ContinueOnFailure controls whether the chain keeps executing after a
	// command records an error.
	ContinueOnFailure(bool) Chain

	// AddCommand appends a command to the execution sequence.
	AddCommand(command Command) Chain
}
