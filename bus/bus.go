// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bus consumes the wazo event bus over AMQP 0-9-1. Each websocket
// session owns one Consumer: an exclusive queue on a pooled connection,
// bound to a tenant-scoped headers exchange with the session's user and
// subscription filters. Connections reconnect on their own; consumers do
// not survive a reconnect, their sessions are told the link died and the
// clients reconnect.
package bus

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrConnection covers failures to reach or use the broker.
	ErrConnection = errors.New("bus connection error")

	// ErrConnectionLost signals that an established connection dropped.
	// Consumers receive it as the final message of their stream.
	ErrConnectionLost = errors.New("bus connection lost")
)

// Config is the bus section of the daemon configuration.
type Config struct {
	Host             string
	Port             int
	Username         string
	Password         string
	Vhost            string
	ExchangeName     string
	ExchangeType     string
	ConsumerPrefetch int
}

// URL renders the AMQP URI. The default vhost "/" maps to an empty path so
// the dialer keeps its own default.
func (c *Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
	}
	if c.Vhost != "" && c.Vhost != "/" {
		u.Path = "/" + c.Vhost
	}
	return u.String()
}
