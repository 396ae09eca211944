// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package testlog creates hclog loggers backed by testing.T so component
// logs land in the test output.
package testlog

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// Logger is the methods of testing.T (or testing.B) needed by the test
// logger.
type Logger interface {
	Logf(format string, args ...interface{})
}

// Writer implements io.Writer on top of a Logger.
type Writer struct {
	t Logger
}

// NewWriter creates a new Writer.
func NewWriter(t Logger) *Writer {
	return &Writer{t}
}

// Write to an underlying Logger. Never returns an error.
func (w *Writer) Write(p []byte) (n int, err error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

// HCLogger returns a new test hclog logger. The level defaults to trace and
// can be overridden with WAZO_TEST_LOG_LEVEL.
func HCLogger(t Logger) hclog.Logger {
	level := hclog.Trace
	if envLogLevel := os.Getenv("WAZO_TEST_LOG_LEVEL"); envLogLevel != "" {
		level = hclog.LevelFromString(envLogLevel)
	}
	return hclog.New(&hclog.LoggerOptions{
		Level:           level,
		Output:          NewWriter(t),
		IncludeLocation: true,
	})
}
