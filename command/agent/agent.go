// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/wazo-platform/wazo-websocketd/auth"
	"github.com/wazo-platform/wazo-websocketd/bus"
	"github.com/wazo-platform/wazo-websocketd/websocketd"
)

// Agent is the supervisor process. It bootstraps the bus exchange, keeps a
// service token fresh to learn the master tenant, and runs the pool of
// worker processes that share the listening port.
type Agent struct {
	config *Config
	logger hclog.Logger
}

// NewAgent builds an Agent from a validated configuration.
func NewAgent(config *Config, logger hclog.Logger) *Agent {
	return &Agent{
		config: config,
		logger: logger,
	}
}

// Run executes the supervisor until ctx is cancelled or a component fails.
// Cancellation is the normal shutdown path and returns nil.
func (a *Agent) Run(ctx context.Context) error {
	if err := bus.InitializeExchange(ctx, a.config.busConfig(), a.logger); err != nil {
		return fmt.Errorf("initializing exchange: %w", err)
	}

	cell, err := auth.CreateMasterTenantCell(masterTenantCellPath())
	if err != nil {
		return err
	}
	defer func() {
		cell.Close()
		os.Remove(cell.Path())
	}()

	key, err := auth.LoadServiceKey(a.config.Auth.KeyFile)
	if err != nil {
		return err
	}
	client := auth.NewClient(a.config.authClientConfig(), a.logger)
	renewer := auth.NewRenewer(client, key, a.logger)
	renewer.SubscribeOnce(func(token *auth.Token) {
		if err := cell.Set(token.TenantUUID); err != nil {
			a.logger.Error("failed to store master tenant uuid", "error", err)
			return
		}
		a.logger.Info("master tenant uuid set", "tenant_uuid", token.TenantUUID)
	})

	workers, err := a.config.ProcessWorkers.Resolve()
	if err != nil {
		return fmt.Errorf("resolving worker count: %w", err)
	}
	workerConfig, err := yaml.Marshal(a.config)
	if err != nil {
		return fmt.Errorf("serializing worker configuration: %w", err)
	}
	pool, err := websocketd.NewProcessPool(&websocketd.ProcessPoolConfig{
		Workers:      workers,
		WorkerConfig: workerConfig,
		CellPath:     cell.Path(),
	}, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info("agent started", "workers", workers,
		"listen", a.config.Websocket.Listen, "port", a.config.Websocket.Port)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return renewer.Run(ctx)
	})
	g.Go(func() error {
		return pool.Run(ctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// masterTenantCellPath is the per-supervisor path of the shared cell. The
// pid suffix lets two instances coexist during a package upgrade.
func masterTenantCellPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("wazo-websocketd.master-tenant.%d", os.Getpid()))
}
