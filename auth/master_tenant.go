// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// masterTenantCellSize is the width of the shared cell: a canonical UUID in
// text form.
const masterTenantCellSize = 36

// MasterTenantProxy is a fixed-width cell shared between the supervisor and
// its worker processes through a file, typically on a tmpfs. The supervisor
// writes the master tenant UUID exactly once, when the first service token
// arrives; every session reads it to decide whether a user is a global
// admin. Reads and writes are serialized with flock so a reader can never
// observe a torn value.
type MasterTenantProxy struct {
	f    *os.File
	path string
}

// CreateMasterTenantCell creates (or truncates) the shared cell. Called by
// the supervisor before forking workers.
func CreateMasterTenantCell(path string) (*MasterTenantProxy, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating master tenant cell: %w", err)
	}
	if err := f.Truncate(masterTenantCellSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing master tenant cell: %w", err)
	}
	return &MasterTenantProxy{f: f, path: path}, nil
}

// OpenMasterTenantCell opens an existing cell. Called by workers.
func OpenMasterTenantCell(path string) (*MasterTenantProxy, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening master tenant cell: %w", err)
	}
	return &MasterTenantProxy{f: f, path: path}, nil
}

// Path returns the cell's filesystem path, to hand to worker processes.
func (p *MasterTenantProxy) Path() string {
	return p.path
}

// Set stores the master tenant UUID. The value is written once at bootstrap;
// later writes are harmless but unexpected.
func (p *MasterTenantProxy) Set(tenantUUID string) error {
	if len(tenantUUID) > masterTenantCellSize {
		return fmt.Errorf("master tenant uuid %q exceeds %d bytes", tenantUUID, masterTenantCellSize)
	}

	if err := unix.Flock(int(p.f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking master tenant cell: %w", err)
	}
	defer unix.Flock(int(p.f.Fd()), unix.LOCK_UN)

	buf := make([]byte, masterTenantCellSize)
	copy(buf, tenantUUID)
	if _, err := p.f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("writing master tenant cell: %w", err)
	}
	return nil
}

// Get returns the master tenant UUID, or "" while the bootstrap has not
// completed yet.
func (p *MasterTenantProxy) Get() (string, error) {
	if err := unix.Flock(int(p.f.Fd()), unix.LOCK_SH); err != nil {
		return "", fmt.Errorf("locking master tenant cell: %w", err)
	}
	defer unix.Flock(int(p.f.Fd()), unix.LOCK_UN)

	buf := make([]byte, masterTenantCellSize)
	if _, err := p.f.ReadAt(buf, 0); err != nil {
		return "", fmt.Errorf("reading master tenant cell: %w", err)
	}
	return string(bytes.TrimRight(buf, "\x00")), nil
}

// HasMasterTenant reports whether the bootstrap stored a value yet.
func (p *MasterTenantProxy) HasMasterTenant() bool {
	value, err := p.Get()
	return err == nil && value != ""
}

// Close releases the cell file. The file itself is left in place for other
// processes.
func (p *MasterTenantProxy) Close() error {
	return p.f.Close()
}
