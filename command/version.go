// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import (
	"github.com/posener/complete"

	"github.com/wazo-platform/wazo-websocketd/version"
)

// VersionCommand is a Command implementation prints the version.
type VersionCommand struct {
	Meta

	Version *version.VersionInfo
}

func (c *VersionCommand) Help() string {
	return ""
}

func (c *VersionCommand) Name() string { return "version" }

func (c *VersionCommand) Run(_ []string) int {
	c.Ui.Output(c.Version.FullVersionNumber(true))
	return 0
}

func (c *VersionCommand) Synopsis() string {
	return "Prints the wazo-websocketd version"
}

func (c *VersionCommand) AutocompleteArgs() complete.Predictor {
	return complete.PredictNothing
}

func (c *VersionCommand) AutocompleteFlags() complete.Flags {
	return nil
}
