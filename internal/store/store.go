// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

// Package store opens the document store named by a URL.
package store

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/document"
	"github.com/tokengate/tokengate/internal/document/memory"
	"github.com/tokengate/tokengate/internal/document/postgres"
	"github.com/tokengate/tokengate/internal/document/redis"
)

// UniqueIndex declares a field whose value must be unique in a collection.
// Postgres enforces its indexes through migrations; memory and redis
// enforce the ones passed here.
type UniqueIndex struct {
	Collection string
	Field      string
}

// Options configure Open.
type Options struct {
	Indexes []UniqueIndex
	// AutoMigrate applies pending postgres migrations before connecting.
	AutoMigrate bool
	Logger      *slog.Logger
}

// migrateFunc is replaced in tests.
var migrateFunc = migrateUp

// Open returns the store for url. The caller owns the returned store and
// must Close it.
func Open(ctx context.Context, url string, opts Options) (document.Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	scheme, err := config.StoreScheme(url)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case config.SchemeMemory:
		memOpts := make([]memory.Option, 0, len(opts.Indexes))
		for _, idx := range opts.Indexes {
			memOpts = append(memOpts, memory.WithUniqueIndex(idx.Collection, idx.Field))
		}
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(memOpts...), nil

	case config.SchemePostgres:
		if opts.AutoMigrate {
			if err := migrateFunc(url, logger); err != nil {
				return nil, err
			}
		}
		s, err := postgres.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.SchemeRedis:
		redisOpts := make([]redis.Option, 0, len(opts.Indexes))
		for _, idx := range opts.Indexes {
			redisOpts = append(redisOpts, redis.WithUniqueIndex(idx.Collection, idx.Field))
		}
		s, err := redis.Open(ctx, url, redisOpts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	return nil, oops.Code("CONFIG_INVALID").With("scheme", scheme).Errorf("unsupported store scheme")
}

func migrateUp(url string, logger *slog.Logger) error {
	m, err := postgres.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	pending, err := m.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		logger.Debug("schema up to date")
		return nil
	}
	if err := m.Up(); err != nil {
		return err
	}
	logger.Info("applied migrations", "count", len(pending))
	return nil
}
