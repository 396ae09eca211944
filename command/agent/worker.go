// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"io"
	"os"
	"os/signal"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/wazo-platform/wazo-websocketd/auth"
	"github.com/wazo-platform/wazo-websocketd/bus"
	"github.com/wazo-platform/wazo-websocketd/websocketd"
)

// RunWorker is the entry point of a worker process spawned by the
// supervisor. It reads the effective configuration as YAML on stdin, opens
// the master tenant cell named in the environment and serves WebSocket
// sessions until terminated. The return value is the process exit code.
func RunWorker() int {
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		hclog.L().Error("failed to read worker configuration", "error", err)
		return 1
	}
	parsed, err := ParseConfig(raw)
	if err != nil {
		hclog.L().Error("failed to parse worker configuration", "error", err)
		return 1
	}
	config := DefaultConfig().Merge(parsed)
	config.normalize()

	logger, err := SetupLogger(config)
	if err != nil {
		hclog.L().Error("failed to set up logging", "error", err)
		return 1
	}

	cellPath := os.Getenv(websocketd.MasterTenantCellEnv)
	if cellPath == "" {
		logger.Error("missing master tenant cell path in environment", "variable", websocketd.MasterTenantCellEnv)
		return 1
	}
	cell, err := auth.OpenMasterTenantCell(cellPath)
	if err != nil {
		logger.Error("failed to open master tenant cell", "error", err)
		return 1
	}
	defer cell.Close()

	authenticator, err := auth.NewAuthenticator(config.authenticatorConfig(), logger)
	if err != nil {
		logger.Error("failed to build authenticator", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	service := bus.NewService(config.busConfig(), config.UUID, config.WorkerConnections, logger)
	service.Start(ctx)
	defer service.Stop()

	sessions := &websocketd.SessionConfig{
		PingInterval:  time.Duration(config.Websocket.PingInterval) * time.Second,
		Authenticator: authenticator,
		Bus:           websocketd.AdaptBusService(service),
		MasterTenant: func() (string, bool) {
			value, err := cell.Get()
			if err != nil || value == "" {
				return "", false
			}
			return value, true
		},
		Logger: logger,
	}

	server := websocketd.NewServer(config.serverConfig(), sessions, logger)
	if err := server.Listen(ctx); err != nil {
		logger.Error("failed to bind listening socket", "error", err)
		return 1
	}
	logger.Info("worker serving", "address", server.Addr().String(), "pid", os.Getpid())

	if err := server.Run(ctx); err != nil {
		logger.Error("worker failed", "error", err)
		return 1
	}
	return 0
}
