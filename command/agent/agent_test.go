// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/wazo-platform/wazo-websocketd/helper/testlog"
)

// closedPort returns a port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	must.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	must.NoError(t, ln.Close())
	return port
}

func TestAgent_Run_BrokerUnreachable(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.UUID = testUUID
	config.Bus.Host = "127.0.0.1"
	config.Bus.Port = closedPort(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	agent := NewAgent(config, testlog.HCLogger(t))
	err := agent.Run(ctx)
	must.Error(t, err)
	must.StrContains(t, err.Error(), "initializing exchange")
}

func TestMasterTenantCellPath(t *testing.T) {
	t.Parallel()

	path := masterTenantCellPath()
	must.StrContains(t, path, "wazo-websocketd.master-tenant")
	must.StrContains(t, path, fmt.Sprint(os.Getpid()))
}
