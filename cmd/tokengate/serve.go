// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/config"
	"github.com/tokengate/tokengate/internal/document"
	"github.com/tokengate/tokengate/internal/observability"
	"github.com/tokengate/tokengate/internal/store"
	"github.com/tokengate/tokengate/internal/web"
	"github.com/tokengate/tokengate/pkg/errutil"
)

const (
	defaultConnectTimeout = 30 * time.Second
	connectBackoffBase    = 500 * time.Millisecond
	shutdownTimeout       = 10 * time.Second
)

// emailIndex backs sign-up uniqueness on stores without migrations.
var emailIndex = store.UniqueIndex{Collection: auth.UsersCollection, Field: "email"}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication API",
		Long: `Start the HTTP API serving sign-up, login, logout and the protected
routes, plus the metrics and health listener when metrics.addr is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, nil)
		},
	}
}

// runServeWithDeps runs the service until ctx is cancelled or a server
// fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.StoreOpener == nil {
		deps.StoreOpener = store.Open
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.LogWriter == nil {
		deps.LogWriter = os.Stderr
	}
	if deps.ConnectTimeout <= 0 {
		deps.ConnectTimeout = defaultConnectTimeout
	}

	logger := newLogger(cfg, deps.LogWriter)
	logger.Info("starting tokengate",
		"http_addr", cfg.HTTP.Addr,
		"metrics_addr", cfg.Metrics.Addr,
	)

	docs, err := connectStore(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer docs.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, docs.Ping)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		metrics = obsServer.Metrics()
	}

	api, err := buildAPI(cfg, docs, metrics, logger)
	if err != nil {
		stopServer(obsServer, logger)
		return err
	}

	apiServer := web.NewServer(cfg.HTTP.Addr, api.Routes(), logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopServer(obsServer, logger)
		return oops.Code("SERVE_FAILED").With("operation", "start api server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api", logger)

	logger.Info("tokengate ready", "addr", apiServer.Addr())
	if deps.OnReady != nil {
		deps.OnReady(apiServer.Addr())
	}

	<-ctx.Done()
	logger.Info("shutting down...")

	stopServer(apiServer, logger)
	stopServer(obsServer, logger)

	logger.Info("shutdown complete")
	return nil
}

// connectStore opens the store, retrying with exponential backoff while
// it is unreachable. Configuration errors are not retried.
func connectStore(ctx context.Context, cfg *config.Config, deps *ServeDeps, logger *slog.Logger) (document.Store, error) {
	opts := store.Options{
		Indexes:     []store.UniqueIndex{emailIndex},
		AutoMigrate: cfg.Store.AutoMigrate,
		Logger:      logger,
	}

	var docs document.Store
	backoff := retry.WithMaxDuration(deps.ConnectTimeout, retry.NewExponential(connectBackoffBase))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s, err := deps.StoreOpener(ctx, cfg.Store.URL, opts)
		if err == nil {
			docs = s
			return nil
		}
		if errutil.Code(err) == "CONFIG_INVALID" {
			return err
		}
		logger.Warn("store not reachable, retrying", "attempt", attempt, "code", errutil.Code(err))
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("attempts", attempt).Wrap(err)
	}
	logger.Info("connected to store", "attempts", attempt)
	return docs, nil
}

func buildAPI(cfg *config.Config, docs document.Store, metrics *observability.Metrics, logger *slog.Logger) (*web.API, error) {
	users, err := document.NewRepositoryWithLogger[auth.User](docs, auth.UsersCollection, logger)
	if err != nil {
		return nil, err
	}

	var hasherOpts []auth.HasherOption
	if cfg.Auth.HashConcurrency > 0 {
		hasherOpts = append(hasherOpts, auth.WithConcurrency(cfg.Auth.HashConcurrency))
	}
	directory, err := auth.NewDirectoryWithLogger(users, auth.NewBcryptHasher(hasherOpts...), logger)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	gateway, err := auth.NewGatewayWithLogger(directory, tokens, auth.CookieTransport{Secure: cfg.Auth.CookieSecure}, logger)
	if err != nil {
		return nil, err
	}

	opts := []web.Option{web.WithMetrics(metrics)}
	if !cfg.Auth.CookieSecure {
		opts = append(opts, web.WithDevelopmentHeaders())
	}
	return web.NewAPIWithLogger(gateway, directory, logger, opts...)
}

type stoppable interface {
	Stop(ctx context.Context) error
}

func stopServer(s stoppable, logger *slog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		errutil.LogError(logger, "error stopping server", err)
	}
}

// monitorServerErrors cancels ctx when a server reports a failure. It exits
// when an error arrives, the channel closes or ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
