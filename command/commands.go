// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import (
	"os"

	"github.com/hashicorp/cli"
	colorable "github.com/mattn/go-colorable"

	"github.com/wazo-platform/wazo-websocketd/command/agent"
	"github.com/wazo-platform/wazo-websocketd/version"
)

const (
	// EnvWebsocketdCLINoColor is an env var that toggles colored UI output.
	EnvWebsocketdCLINoColor = `WAZO_WEBSOCKETD_CLI_NO_COLOR`

	// EnvWebsocketdCLIForceColor is an env var that forces colored UI output.
	EnvWebsocketdCLIForceColor = `WAZO_WEBSOCKETD_CLI_FORCE_COLOR`
)

// NamedCommand is a interface to denote a commmand's name.
type NamedCommand interface {
	Name() string
}

// Commands returns the mapping of CLI commands for wazo-websocketd. The meta
// parameter lets you set meta options for all commands.
func Commands(metaPtr *Meta, agentUi cli.Ui) map[string]cli.CommandFactory {
	if metaPtr == nil {
		metaPtr = new(Meta)
	}

	meta := *metaPtr
	if meta.Ui == nil {
		meta.Ui = &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      colorable.NewColorableStdout(),
			ErrorWriter: colorable.NewColorableStderr(),
		}
	}

	all := map[string]cli.CommandFactory{
		"agent": func() (cli.Command, error) {
			return &agent.Command{
				Version: version.GetVersion(),
				Ui:      agentUi,
			}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{
				Version: version.GetVersion(),
				Meta:    meta,
			}, nil
		},
		"wait-online": func() (cli.Command, error) {
			return &WaitOnlineCommand{
				Meta: meta,
			}, nil
		},
	}

	return all
}
