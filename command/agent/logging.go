// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"fmt"
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

// SetupLogger builds the root logger from the agent configuration. Output
// always goes to stderr; when log_file is set a copy is appended there too.
// The file stays open for the life of the process.
func SetupLogger(config *Config) (hclog.Logger, error) {
	level, err := logLevel(config)
	if err != nil {
		return nil, err
	}

	var output io.Writer = os.Stderr
	if config.LogFile != "" {
		f, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		output = io.MultiWriter(os.Stderr, f)
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "wazo-websocketd",
		Level:  level,
		Output: output,
	}), nil
}

// logLevel maps the configured level name. The debug flag wins over
// log_level; "critical" is the legacy spelling of "error".
func logLevel(config *Config) (hclog.Level, error) {
	if config.Debug {
		return hclog.Trace, nil
	}

	name := config.LogLevel
	if name == "critical" {
		name = "error"
	}
	level := hclog.LevelFromString(name)
	if level == hclog.NoLevel {
		return hclog.NoLevel, fmt.Errorf("unknown log level %q", config.LogLevel)
	}
	return level, nil
}
