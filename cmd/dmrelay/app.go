package main

import (
	"context"
	"fmt"
	"time"

	"dmrelay/internal/catalog"
	"dmrelay/internal/config"
	"dmrelay/internal/constants"
	"dmrelay/internal/dispatch"
	"dmrelay/internal/models"
	"dmrelay/internal/probe"
	"dmrelay/internal/retry"
	"dmrelay/internal/session"
	"dmrelay/internal/store"
	"dmrelay/internal/tracing"
	"dmrelay/internal/transport"

	"github.com/sirupsen/logrus"
)

// app wires the full delivery stack for one invocation. Every command
// builds it the same way so a probe and a send share the identical
// transport, catalog, and session.
type app struct {
	cfg         *models.Config
	logger      *logrus.Logger
	session     *session.Session
	catalog     *catalog.Catalog
	store       *store.Store
	dispatcher  *dispatch.Dispatcher
	prober      *probe.Prober
	diagnostics *probe.Diagnostics

	tracingManager *tracing.Manager
}

func newApp(ctx context.Context) (*app, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - sensitive information will be logged")
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			if level > logrus.InfoLevel {
				level = logrus.InfoLevel
			}
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"backend": cfg.BaseURL,
		"user":    cfg.Auth.UserID,
	}).Debug("Starting dmrelay")

	tracingManager := tracing.NewManager(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
		UseStdout:      cfg.Tracing.UseStdout,
	}, logger)

	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}

	sess, err := session.New(cfg.Auth.UserID, cfg.Auth.Role, cfg.Auth.Token, logger)
	if err != nil {
		return nil, err
	}

	// The offline store must open even when the backend is down; retry
	// with backoff so a transiently locked database file does not kill the
	// command.
	var st *store.Store
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultStoreRetryAttempts,
		Jitter:       true,
	})
	err = backoff.Retry(ctx, func() error {
		var openErr error
		st, openErr = store.New(cfg.Database.Path, cfg.Auth.UserID)
		return openErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open offline store: %w", err)
	}

	cat := catalog.Default()
	attemptTimeout := time.Duration(cfg.HTTP.AttemptTimeoutSec) * time.Second
	probeTimeout := time.Duration(cfg.HTTP.ProbeTimeoutSec) * time.Second

	exec := transport.NewExecutor(cfg.BaseURL, sess.Token, attemptTimeout, nil, logger)
	dispatcher := dispatch.New(cat, exec, st, sess, logger)

	prober := probe.NewProber(cfg.BaseURL, probeTimeout, nil, logger)
	formats := probe.NewFormatProber(cat, exec, logger)
	diagnostics := probe.NewDiagnostics(prober, formats, dispatcher, logger)

	return &app{
		cfg:            cfg,
		logger:         logger,
		session:        sess,
		catalog:        cat,
		store:          st,
		dispatcher:     dispatcher,
		prober:         prober,
		diagnostics:    diagnostics,
		tracingManager: tracingManager,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warnf("Failed to close offline store: %v", err)
	}
	if err := a.tracingManager.Shutdown(context.Background()); err != nil {
		a.logger.Warnf("Failed to shutdown tracing: %v", err)
	}
}
