// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"testing"

	"github.com/shoenig/test/must"

	"github.com/wazo-platform/wazo-websocketd/helper/testlog"
)

func testBusConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5672,
		Username: "guest",
		Password: "guest",
		Vhost:    "/",
	}
}

func TestPool_roundRobin(t *testing.T) {
	t.Parallel()

	pool := NewPool(testBusConfig(), 3, testlog.HCLogger(t))
	must.Len(t, 3, pool.connections)

	first := pool.Get()
	second := pool.Get()
	third := pool.Get()
	must.NotEq(t, first.id, second.id)
	must.NotEq(t, second.id, third.id)

	// wraps around
	must.Eq(t, first.id, pool.Get().id)
}

func TestPool_minimumSize(t *testing.T) {
	t.Parallel()

	pool := NewPool(testBusConfig(), 0, testlog.HCLogger(t))
	must.Len(t, 1, pool.connections)
}
