// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/posener/complete"

	"github.com/wazo-platform/wazo-websocketd/command/agent"
)

const (
	waitOnlineInterval = 500 * time.Millisecond
	waitOnlineTimeout  = 60 * time.Second
)

// WaitOnlineCommand polls the local daemon until a WebSocket handshake
// succeeds. Used as a readiness probe by the systemd unit and the Debian
// postinst.
type WaitOnlineCommand struct {
	Meta

	// Overridable in tests.
	host     string
	interval time.Duration
	timeout  time.Duration
}

func (c *WaitOnlineCommand) Help() string {
	helpText := `
Usage: wazo-websocketd wait-online [options]

  Blocks until the local wazo-websocketd accepts a WebSocket handshake on
  its configured port, or until the 60 second timeout expires. Exits 0 once
  the daemon is reachable, 1 otherwise.

Wait Online Options:

  -config-file=<path>, -c=<path>
    The configuration file to read the websocket port from. Defaults
    to ` + agent.DefaultConfigFile + `.
`
	return strings.TrimSpace(helpText)
}

func (c *WaitOnlineCommand) Name() string { return "wait-online" }

func (c *WaitOnlineCommand) Synopsis() string {
	return "Waits until the daemon accepts WebSocket connections"
}

func (c *WaitOnlineCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *WaitOnlineCommand) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-config-file": complete.PredictFiles("*.yml"),
		"-c":           complete.PredictFiles("*.yml"),
	}
}

func (c *WaitOnlineCommand) Run(args []string) int {
	var configFile string

	flags := c.Meta.FlagSet(c.Name())
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.StringVar(&configFile, "config-file", agent.DefaultConfigFile, "")
	flags.StringVar(&configFile, "c", agent.DefaultConfigFile, "")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if len(flags.Args()) > 0 {
		c.Ui.Error("This command takes no arguments")
		c.Ui.Error(commandErrorText(c))
		return 1
	}

	config, err := agent.LoadConfiguration(configFile)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to load configuration: %v", err))
		return 1
	}
	port := config.Websocket.Port

	host := c.host
	if host == "" {
		host = "localhost"
	}
	interval := c.interval
	if interval == 0 {
		interval = waitOnlineInterval
	}
	timeout := c.timeout
	if timeout == 0 {
		timeout = waitOnlineTimeout
	}

	target := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port))}
	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	deadline := time.Now().Add(timeout)
	for {
		conn, resp, err := dialer.Dial(target.String(), nil)
		if err == nil {
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "websocketd is up"))
			conn.Close()
			return 0
		}
		if resp != nil {
			resp.Body.Close()
		}

		if time.Now().After(deadline) {
			break
		}
		time.Sleep(interval)
	}

	c.Ui.Error(fmt.Sprintf("could not connect to wazo-websocketd on port %d", port))
	return 1
}
