// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package command

import (
	"testing"

	"github.com/hashicorp/cli"
	"github.com/shoenig/test/must"
)

func TestUiErrorWriter(t *testing.T) {
	t.Parallel()

	ui := cli.NewMockUi()
	w := &uiErrorWriter{ui: ui}

	inputs := []string{
		"some line\n",
		"multiple\nlines\r\nhere",
		" with  followup\nand",
		" more lines ",
		" without new line ",
		"until here\n",
	}
	for _, in := range inputs {
		n, err := w.Write([]byte(in))
		must.NoError(t, err)
		must.Eq(t, len(in), n)
	}

	expected := "some line\nmultiple\nlines\nhere with  followup\nand more lines  without new line until here\n"
	must.Eq(t, expected, ui.ErrorWriter.String())
}

func TestUiErrorWriter_Close(t *testing.T) {
	t.Parallel()

	ui := cli.NewMockUi()
	w := &uiErrorWriter{ui: ui}

	_, err := w.Write([]byte("no newline"))
	must.NoError(t, err)
	must.Eq(t, "", ui.ErrorWriter.String())

	must.NoError(t, w.Close())
	must.Eq(t, "no newline\n", ui.ErrorWriter.String())
}

func TestCommandErrorText(t *testing.T) {
	t.Parallel()

	cmd := &WaitOnlineCommand{}
	must.StrContains(t, commandErrorText(cmd), "wazo-websocketd wait-online -help")
}
