// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTokenExpiration is the requested lifetime of the service token,
	// in seconds.
	DefaultTokenExpiration = 21600 // 6h

	// renewLeewayFactor is the fraction of the token lifetime after which it
	// is renewed.
	renewLeewayFactor = 0.85
)

// ServiceKey is the service credential stored in auth.key_file.
type ServiceKey struct {
	ServiceID  string `yaml:"service_id"`
	ServiceKey string `yaml:"service_key"`
}

// LoadServiceKey reads a wazo-auth-keys credential file.
func LoadServiceKey(path string) (*ServiceKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading service key file: %w", err)
	}
	var key ServiceKey
	if err := yaml.Unmarshal(raw, &key); err != nil {
		return nil, fmt.Errorf("parsing service key file %s: %w", path, err)
	}
	if key.ServiceID == "" || key.ServiceKey == "" {
		return nil, fmt.Errorf("service key file %s is missing service_id or service_key", path)
	}
	return &key, nil
}

// TokenCallback receives each freshly minted service token.
type TokenCallback func(*Token)

type renewerCallback struct {
	fn      TokenCallback
	oneshot bool
}

// Renewer keeps a service token alive and fans each new token out to its
// subscribers. Fetch failures are retried forever with capped backoff; they
// are never fatal.
type Renewer struct {
	client     *Client
	key        *ServiceKey
	expiration int
	logger     hclog.Logger

	mu        sync.Mutex
	callbacks []renewerCallback
}

// NewRenewer builds a Renewer minting tokens with the given credentials.
func NewRenewer(client *Client, key *ServiceKey, logger hclog.Logger) *Renewer {
	return &Renewer{
		client:     client,
		key:        key,
		expiration: DefaultTokenExpiration,
		logger:     logger.Named("token-renewer"),
	}
}

// Subscribe registers a callback invoked with every renewed token. Callbacks
// run on the renewer goroutine and must not block.
func (r *Renewer) Subscribe(fn TokenCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, renewerCallback{fn: fn})
}

// SubscribeOnce registers a callback invoked with the next renewed token
// only.
func (r *Renewer) SubscribeOnce(fn TokenCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, renewerCallback{fn: fn, oneshot: true})
}

// Run renews the token until ctx is done.
func (r *Renewer) Run(ctx context.Context) error {
	r.logger.Info("service token renewer started")
	defer r.logger.Info("service token renewer stopped")

	for {
		token, err := r.fetch(ctx)
		if err != nil {
			return err
		}
		r.notify(token)

		renewIn := time.Duration(float64(r.expiration)*renewLeewayFactor) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(renewIn):
		}
	}
}

// fetch mints a service token, retrying on failure with delays of
// 1, 2, 4, 8, 16 then 32 seconds.
func (r *Renewer) fetch(ctx context.Context) (*Token, error) {
	for attempt := 0; ; attempt++ {
		token, err := r.client.NewServiceToken(ctx, r.key, r.expiration)
		if err == nil {
			return token, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := retryDelay(attempt)
		r.logger.Error("failed to create an access token", "retry_in", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (r *Renewer) notify(token *Token) {
	r.mu.Lock()
	callbacks := make([]renewerCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	kept := r.callbacks[:0]
	for _, cb := range r.callbacks {
		if !cb.oneshot {
			kept = append(kept, cb)
		}
	}
	r.callbacks = kept
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb.fn(token)
	}
}

// retryDelay returns the nth delay of the 1, 2, 4, 8, 16, 32, 32, ...
// schedule.
func retryDelay(attempt int) time.Duration {
	delays := []time.Duration{1, 2, 4, 8, 16}
	if attempt < len(delays) {
		return delays[attempt] * time.Second
	}
	return 32 * time.Second
}
