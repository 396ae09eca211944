// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

// staticCheck revalidates the token at a fixed interval with a cheap HEAD
// request.
type staticCheck struct {
	client   *Client
	interval time.Duration
	logger   hclog.Logger
}

func newStaticCheck(client *Client, intervalSeconds int, logger hclog.Logger) *staticCheck {
	return &staticCheck{
		client:   client,
		interval: time.Duration(intervalSeconds) * time.Second,
		logger:   logger,
	}
}

func (s *staticCheck) Watch(ctx context.Context, getter TokenGetter) error {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		s.logger.Debug("static auth check: testing token validity")
		valid, err := s.client.IsValid(ctx, getter().ID, DefaultACL)
		if err != nil {
			return err
		}
		if !valid {
			return ErrAuthenticationExpired
		}
		timer.Reset(s.interval)
	}
}

// dynamicCheck schedules the next validation from the token's remaining
// lifetime and refetches the token body, so an in-session renewal pushes the
// next check further out.
type dynamicCheck struct {
	client *Client
	logger hclog.Logger
	now    func() time.Time
}

func newDynamicCheck(client *Client, logger hclog.Logger) *dynamicCheck {
	return &dynamicCheck{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

func (d *dynamicCheck) Watch(ctx context.Context, getter TokenGetter) error {
	for {
		token := getter()
		delay := nextCheckDelay(d.now().UTC(), token.UTCExpiresAt)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		d.logger.Debug("dynamic auth check: testing token validity")
		if _, err := d.client.GetToken(ctx, token.ID, DefaultACL); err != nil {
			if errors.Is(err, ErrAuthenticationFailed) {
				return fmt.Errorf("%w: %v", ErrAuthenticationExpired, err)
			}
			return err
		}
	}
}

// nextCheckDelay picks how long to wait before revalidating a token that
// expires at expiresAt. Tokens already past their expiry are retried quickly
// in case of clock skew; short-lived tokens are checked about once a minute;
// everything else at three quarters of the remaining lifetime, capped at
// twelve hours.
func nextCheckDelay(now, expiresAt time.Time) time.Duration {
	delta := expiresAt.Sub(now)
	switch {
	case delta < 0:
		return 15 * time.Second
	case delta <= 80*time.Second:
		return 60 * time.Second
	case delta <= 57600*time.Second:
		return time.Duration(int(0.75*delta.Seconds())) * time.Second
	default:
		return 43200 * time.Second
	}
}
