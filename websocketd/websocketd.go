// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package websocketd is the session pipeline: it terminates authenticated
// WebSocket connections and streams each client the slice of the wazo event
// bus its token allows. A Session owns one WebSocket, one bus consumer, one
// token expiry watch and one keep-alive pinger, and lives until the first of
// them fails. Sessions are spread over pre-forked worker processes sharing
// the listen port with SO_REUSEPORT.
package websocketd

import (
	"context"
	"errors"

	"github.com/wazo-platform/wazo-websocketd/auth"
	"github.com/wazo-platform/wazo-websocketd/bus"
)

// Application close codes, sent with the WebSocket close frame. 1000-series
// codes are the standard ones; the 4000 range is ours.
const (
	CloseNoToken       = 4001
	CloseAuthFailed    = 4002
	CloseAuthExpired   = 4003
	CloseProtocolError = 4004
)

var (
	// ErrNoToken is raised when the client passed no credential at all.
	ErrNoToken = errors.New("no token")

	// ErrUnsupportedVersion is raised when the version query string is
	// neither 1 nor 2.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")

	// ErrMasterTenantUnknown is raised while the service token bootstrap has
	// not determined the master tenant yet; sessions cannot be scoped until
	// it has.
	ErrMasterTenantUnknown = errors.New("unable to determine master tenant")
)

// Authenticator is the slice of the wazo-auth client a session needs.
type Authenticator interface {
	GetToken(ctx context.Context, tokenID string) (*auth.Token, error)
	RunCheck(ctx context.Context, getter auth.TokenGetter) error
}

// BusConsumer is one session's subscription handle on the event bus.
type BusConsumer interface {
	Messages() <-chan bus.Message
	Bind(eventName string) error
	Unbind(eventName string) error
	Token() *auth.Token
	SetToken(*auth.Token)
	Close() error
}

// BusService attaches per-session consumers to the bus.
type BusService interface {
	NewConsumer(ctx context.Context, token *auth.Token, masterTenantUUID string) (BusConsumer, error)
}

// AdaptBusService lifts the concrete bus service to the BusService
// interface.
func AdaptBusService(service *bus.Service) BusService {
	return busServiceAdapter{service: service}
}

// busServiceAdapter bridges the method set: the concrete NewConsumer
// returns a concrete *bus.Consumer.
type busServiceAdapter struct {
	service *bus.Service
}

func (a busServiceAdapter) NewConsumer(ctx context.Context, token *auth.Token, masterTenantUUID string) (BusConsumer, error) {
	consumer, err := a.service.NewConsumer(ctx, token, masterTenantUUID)
	if err != nil {
		return nil, err
	}
	return consumer, nil
}

// MasterTenant reports the master tenant UUID learned by the bootstrap, and
// whether it is known yet.
type MasterTenant func() (string, bool)
