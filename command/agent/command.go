// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/hashicorp/cli"
	"github.com/posener/complete"
	"golang.org/x/sys/unix"

	"github.com/wazo-platform/wazo-websocketd/helper/users"
	"github.com/wazo-platform/wazo-websocketd/version"
)

// Command is the "agent" CLI command: it runs the supervisor in the
// foreground until SIGINT or SIGTERM.
type Command struct {
	Version *version.VersionInfo
	Ui      cli.Ui

	args []string
}

func (c *Command) readConfig() (*Config, error) {
	var configFile string
	var debug bool
	var username string

	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Error(c.Help()) }

	flags.StringVar(&configFile, "config-file", DefaultConfigFile, "")
	flags.StringVar(&configFile, "c", DefaultConfigFile, "")
	flags.BoolVar(&debug, "debug", false, "")
	flags.BoolVar(&debug, "d", false, "")
	flags.StringVar(&username, "user", "", "")
	flags.StringVar(&username, "u", "", "")

	if err := flags.Parse(c.args); err != nil {
		return nil, err
	}
	if len(flags.Args()) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}

	config, err := LoadConfiguration(configFile)
	if err != nil {
		return nil, err
	}

	config = config.Merge(&Config{
		Debug: debug,
		User:  username,
	})
	return config, nil
}

func (c *Command) Run(args []string) int {
	c.args = args

	config, err := c.readConfig()
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}
	if err := config.Validate(); err != nil {
		c.Ui.Error(fmt.Sprintf("Invalid configuration: %v", err))
		return 1
	}

	// Drop root before anything touches the filesystem or the network so
	// the workers inherit the unprivileged account.
	if err := users.Drop(config.User); err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to switch to user %q: %v", config.User, err))
		return 1
	}

	logger, err := SetupLogger(config)
	if err != nil {
		c.Ui.Error(err.Error())
		return 1
	}

	c.Ui.Output(fmt.Sprintf("Starting wazo-websocketd %s", c.Version.VersionNumber()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	agent := NewAgent(config, logger)
	if err := agent.Run(ctx); err != nil {
		logger.Error("agent terminated", "error", err)
		return 1
	}
	logger.Info("agent shutdown complete")
	return 0
}

func (c *Command) Help() string {
	helpText := `
Usage: wazo-websocketd agent [options]

  Starts the wazo-websocketd daemon: a supervisor that keeps a wazo-auth
  service token fresh and a pool of worker processes serving WebSocket
  clients on a shared port. Runs in the foreground until SIGINT or SIGTERM.

Agent Options:

  -config-file=<path>, -c=<path>
    The main configuration file. Defaults to ` + DefaultConfigFile + `.
    Files in the extra_config_files directory override it.

  -debug, -d
    Log debug messages. Overrides log_level.

  -user=<name>, -u=<name>
    The owner of the process. Overrides the user configuration key.
`
	return strings.TrimSpace(helpText)
}

func (c *Command) Name() string { return "agent" }

func (c *Command) Synopsis() string {
	return "Runs the wazo-websocketd daemon"
}

func (c *Command) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *Command) AutocompleteFlags() complete.Flags {
	return complete.Flags{
		"-config-file": complete.PredictFiles("*.yml"),
		"-c":           complete.PredictFiles("*.yml"),
		"-debug":       complete.PredictNothing,
		"-d":           complete.PredictNothing,
		"-user":        complete.PredictAnything,
		"-u":           complete.PredictAnything,
	}
}
