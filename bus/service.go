// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wazo-platform/wazo-websocketd/auth"
)

// legacyExchangeName is the exchange older websocketd releases bound their
// queues to. It is removed at startup once nothing consumes from it.
const legacyExchangeName = "wazo-websocketd"

// InitializeExchange declares the configured upstream exchange on a
// short-lived connection and drops the legacy one. Run once at startup,
// before any worker accepts sessions; a failure here is fatal.
func InitializeExchange(ctx context.Context, cfg *Config, logger hclog.Logger) error {
	conn, err := amqp.DialConfig(cfg.URL(), amqp.Config{
		Heartbeat: heartbeatInterval,
		Dial:      amqp.DefaultDial(dialTimeout),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.ExchangeType, true, false, false, false, nil); err != nil {
		return fmt.Errorf("%w: declaring exchange %q: %v", ErrConnection, cfg.ExchangeName, err)
	}
	logger.Info("exchange initialized", "exchange", cfg.ExchangeName, "type", cfg.ExchangeType)

	if cfg.ExchangeName != legacyExchangeName {
		// Deleting a bound exchange fails with a channel error, so use a
		// dedicated channel and treat the failure as "still in use".
		legacyCh, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
		if err := legacyCh.ExchangeDelete(legacyExchangeName, true, false); err != nil {
			logger.Debug("legacy exchange not deleted", "exchange", legacyExchangeName, "error", err)
		} else {
			legacyCh.Close()
		}
	}
	return ch.Close()
}

// Service is one worker's view of the bus: a connection pool plus the
// per-installation scoping needed to attach session consumers.
type Service struct {
	cfg        *Config
	originUUID string
	pool       *Pool
	logger     hclog.Logger
}

// NewService builds the bus service with a pool of the given size. The
// originUUID is this installation's identifier; consumer bindings use it to
// keep events from other installations sharing the broker out.
func NewService(cfg *Config, originUUID string, connections int, logger hclog.Logger) *Service {
	logger = logger.Named("bus")
	return &Service{
		cfg:        cfg,
		originUUID: originUUID,
		pool:       NewPool(cfg, connections, logger),
		logger:     logger,
	}
}

// Start launches the pool's reconnect drivers.
func (s *Service) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Stop tears the pool down.
func (s *Service) Stop() {
	s.pool.Stop()
}

// NewConsumer attaches a session consumer on the next pooled connection. It
// fails fast when that connection is down; the client is expected to
// reconnect, landing on another connection or a healed one.
func (s *Service) NewConsumer(ctx context.Context, token *auth.Token, masterTenantUUID string) (*Consumer, error) {
	conn := s.pool.Get()
	return attachConsumer(ctx, conn, s.cfg, token, masterTenantUUID, s.originUUID, s.logger)
}
