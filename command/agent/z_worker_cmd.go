// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"os"

	"github.com/wazo-platform/wazo-websocketd/websocketd"
)

// Install a handler for the hidden worker argv marker before the CLI
// dispatches. The supervisor re-executes its own binary with this marker as
// the first argument; such a process must never reach the command parser.
// This init() must be initialized last in the package, hence the file name.
func init() {
	if len(os.Args) > 1 && os.Args[1] == websocketd.WorkerProcessArg {
		os.Exit(RunWorker())
	}
}
