// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import (
	"flag"
	"os"

	"github.com/hashicorp/cli"
	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
)

// Meta contains the meta-options and functionality that every
// wazo-websocketd command inherits.
type Meta struct {
	Ui cli.Ui
}

// FlagSet returns a FlagSet with the common behavior every command
// implements: parse errors render through the Ui instead of raw stderr.
func (m *Meta) FlagSet(n string) *flag.FlagSet {
	f := flag.NewFlagSet(n, flag.ContinueOnError)
	f.SetOutput(&uiErrorWriter{ui: m.Ui})
	return f
}

// SetupUi builds the command Ui, colored when stdout is a terminal and
// color is not disabled through the environment or the command line.
func (m *Meta) SetupUi(args []string) {
	noColor := os.Getenv(EnvWebsocketdCLINoColor) != ""
	forceColor := os.Getenv(EnvWebsocketdCLIForceColor) != ""

	for _, arg := range args {
		if arg == "-no-color" || arg == "--no-color" {
			noColor = true
		} else if arg == "-force-color" || arg == "--force-color" {
			forceColor = true
		}
	}

	m.Ui = &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      colorable.NewColorableStdout(),
		ErrorWriter: colorable.NewColorableStderr(),
	}

	// Only use colored UI if not disabled and stdout is a tty or colors are
	// forced.
	isTerminal := isatty.IsTerminal(os.Stdout.Fd())
	useColor := !noColor && (isTerminal || forceColor)
	if useColor {
		m.Ui = &cli.ColoredUi{
			ErrorColor: cli.UiColorRed,
			WarnColor:  cli.UiColorYellow,
			InfoColor:  cli.UiColorGreen,
			Ui:         m.Ui,
		}
	}
}
