// Package modkit is a trimmed-down module/application core in the style of
// the GoCodeAlone/modular framework: independent modules declare their own
// config and dependencies, register services, and are started/stopped by a
// single Application in dependency order.
package modkit

import "context"

// Module is the basic building block of the application. In Soonish only
// internal/store implements it; cmd/soonishd constructs the other
// components directly.
type Module interface {
	// Name returns the unique identifier for this module, used for
	// dependency resolution and service registration.
	Name() string

	// Init wires the module against the application: look up dependency
	// services, register the services this module provides.
	Init(app *Application) error
}

// Configurable is implemented by modules that need config sections loaded
// before Init runs.
type Configurable interface {
	RegisterConfig(app *Application) error
}

// DependencyAware is implemented by modules that must be initialized after
// other named modules.
type DependencyAware interface {
	Dependencies() []string
}

// Startable is implemented by modules with background work to start once
// every module has been Init'd.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is implemented by modules with background work to wind down.
type Stoppable interface {
	Stop(ctx context.Context) error
}
