// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package users

import (
	"os"
	"testing"

	"github.com/shoenig/test/must"
)

func TestDrop_EmptyUsername(t *testing.T) {
	must.NoError(t, Drop(""))
}

func TestDrop_NotRoot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("test requires a non-root account")
	}
	// Not root, so the drop is skipped even for a bogus account.
	must.NoError(t, Drop("no-such-user-websocketd"))
}

func TestDrop_UnknownUser(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("test requires root")
	}
	err := Drop("no-such-user-websocketd")
	must.Error(t, err)
	must.StrContains(t, err.Error(), "no-such-user-websocketd")
}

func TestLookup_Root(t *testing.T) {
	uid, gid, err := lookup("root")
	must.NoError(t, err)
	must.Zero(t, uid)
	must.Zero(t, gid)
}
