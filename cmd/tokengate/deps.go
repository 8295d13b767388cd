// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package main

import (
	"context"
	"io"
	"time"

	"github.com/tokengate/tokengate/internal/document"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/store"
)

// ServeDeps contains injectable dependencies for the serve command.
// Nil fields use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the document store.
	// Default: store.Open
	StoreOpener func(ctx context.Context, url string, opts store.Options) (document.Store, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// LogWriter receives the process logs.
	// Default: os.Stderr
	LogWriter io.Writer

	// ConnectTimeout bounds the startup retries against the store.
	// Default: 30s
	ConnectTimeout time.Duration

	// OnReady is called with the API address once serving.
	OnReady func(addr string)
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Migrator wraps the methods used from postgres.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Pending() ([]uint, error)
	Close() error
}
