// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package auth talks to wazo-auth: it fetches and validates access tokens,
// watches them for expiry and renews the service token used to learn the
// master tenant.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// DefaultACL is the access required of every token presented to the
// websocket endpoint.
const DefaultACL = "websocketd"

var (
	// ErrAuthenticationFailed covers every way wazo-auth can refuse a token:
	// unknown, unauthorized, or unreachable service.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAuthenticationExpired is returned by the expiry watchers when a
	// once-valid token stops being valid.
	ErrAuthenticationExpired = errors.New("authentication expired")
)

// TokenGetter returns the current token of a session. Sessions may renew
// their token mid-flight; the watcher calls the getter on every iteration so
// it always observes the latest one.
type TokenGetter func() *Token

// CheckStrategy watches a session token and returns
// ErrAuthenticationExpired once it is no longer valid.
type CheckStrategy interface {
	Watch(ctx context.Context, getter TokenGetter) error
}

// Authenticator bundles the wazo-auth client with the configured expiry
// check strategy.
type Authenticator struct {
	client *Client
	check  CheckStrategy
	logger hclog.Logger
}

// AuthenticatorConfig carries the subset of the daemon configuration the
// authenticator needs.
type AuthenticatorConfig struct {
	Client              ClientConfig
	CheckStrategy       string
	CheckStaticInterval int
}

// NewAuthenticator builds an Authenticator from configuration. The strategy
// name must be one of "static" or "dynamic".
func NewAuthenticator(cfg *AuthenticatorConfig, logger hclog.Logger) (*Authenticator, error) {
	logger = logger.Named("auth")
	client := NewClient(&cfg.Client, logger)

	var check CheckStrategy
	switch cfg.CheckStrategy {
	case "static":
		check = newStaticCheck(client, cfg.CheckStaticInterval, logger)
	case "dynamic":
		check = newDynamicCheck(client, logger)
	default:
		return nil, fmt.Errorf("unknown auth_check_strategy %q", cfg.CheckStrategy)
	}

	return &Authenticator{
		client: client,
		check:  check,
		logger: logger,
	}, nil
}

// GetToken fetches the token from wazo-auth, requiring the websocketd ACL.
func (a *Authenticator) GetToken(ctx context.Context, tokenID string) (*Token, error) {
	return a.client.GetToken(ctx, tokenID, DefaultACL)
}

// IsValid checks token validity without fetching its body.
func (a *Authenticator) IsValid(ctx context.Context, tokenID, acl string) (bool, error) {
	return a.client.IsValid(ctx, tokenID, acl)
}

// RunCheck runs the configured expiry watcher until the token expires, the
// watcher fails, or ctx is done.
func (a *Authenticator) RunCheck(ctx context.Context, getter TokenGetter) error {
	return a.check.Watch(ctx, getter)
}
