// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package agent

import (
	"os"
	"path/filepath"
	"testing"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/shoenig/test/must"
)

func TestLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		config Config
		want   hclog.Level
	}{
		{name: "info", config: Config{LogLevel: "info"}, want: hclog.Info},
		{name: "warn", config: Config{LogLevel: "warn"}, want: hclog.Warn},
		{name: "legacy critical", config: Config{LogLevel: "critical"}, want: hclog.Error},
		{name: "debug flag wins", config: Config{LogLevel: "error", Debug: true}, want: hclog.Trace},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			level, err := logLevel(&tc.config)
			must.NoError(t, err)
			must.Eq(t, tc.want, level)
		})
	}
}

func TestLogLevel_Unknown(t *testing.T) {
	t.Parallel()

	_, err := logLevel(&Config{LogLevel: "loud"})
	must.Error(t, err)
	must.StrContains(t, err.Error(), "loud")
}

func TestSetupLogger_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "websocketd.log")
	config := DefaultConfig()
	config.LogLevel = "info"
	config.LogFile = path

	logger, err := SetupLogger(config)
	must.NoError(t, err)

	logger.Info("hello from the daemon")

	raw, err := os.ReadFile(path)
	must.NoError(t, err)
	must.StrContains(t, string(raw), "hello from the daemon")
}

func TestSetupLogger_BadLevel(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	config.LogLevel = "nope"
	config.LogFile = ""

	_, err := SetupLogger(config)
	must.Error(t, err)
}
