// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package users lowers the daemon's privileges to a regular system account.
package users

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// Drop switches the process to the named account with setgroups, setgid and
// setuid, in that order. It is a no-op when the name is empty or the process
// is not running as root, so a development run under a regular account works
// unchanged.
func Drop(username string) error {
	if username == "" || os.Geteuid() != 0 {
		return nil
	}

	uid, gid, err := lookup(username)
	if err != nil {
		return err
	}

	if err := unix.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("setgroups %d: %w", gid, err)
	}
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid %d: %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid %d: %w", uid, err)
	}
	return nil
}

func lookup(username string) (int, int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, 0, fmt.Errorf("looking up user %q: %w", username, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing uid of user %q: %w", username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing gid of user %q: %w", username, err)
	}
	return uid, gid, nil
}
