// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package websocketd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// WorkerProcessArg is the hidden argv marker that turns an invocation of
// this binary into a worker process. It is matched before any CLI parsing.
const WorkerProcessArg = "websocketd-worker"

// MasterTenantCellEnv carries the master tenant cell path from the
// supervisor to its workers.
const MasterTenantCellEnv = "WAZO_WEBSOCKETD_MASTER_TENANT_CELL"

// AutoWorkerCount is the process_workers "auto" setting: one worker per CPU
// this process may be scheduled on.
func AutoWorkerCount() (int, error) {
	var cpus unix.CPUSet
	if err := unix.SchedGetaffinity(0, &cpus); err != nil {
		return 0, fmt.Errorf("reading cpu affinity: %w", err)
	}
	return cpus.Count(), nil
}

// ProcessPoolConfig configures the worker pool.
type ProcessPoolConfig struct {
	// Workers is the resolved worker count, always positive.
	Workers int

	// WorkerConfig is the serialized daemon configuration, fed to every
	// worker on stdin.
	WorkerConfig []byte

	// CellPath locates the master tenant cell the workers read.
	CellPath string
}

// ProcessPool runs N copies of this binary as worker processes, each
// accepting websocket connections on the shared port. Workers live for the
// supervisor's lifetime; they are never respawned.
type ProcessPool struct {
	cfg    *ProcessPoolConfig
	logger hclog.Logger

	// newCommand and grace are swapped by tests.
	newCommand func() *exec.Cmd
	grace      time.Duration
}

// NewProcessPool builds a pool spawning the current executable with the
// worker marker.
func NewProcessPool(cfg *ProcessPoolConfig, logger hclog.Logger) (*ProcessPool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.Workers)
	}
	executable, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating own executable: %w", err)
	}

	return &ProcessPool{
		cfg:    cfg,
		logger: logger.Named("pool"),
		newCommand: func() *exec.Cmd {
			return exec.Command(executable, WorkerProcessArg)
		},
		grace: shutdownGrace,
	}, nil
}

// Run starts the workers and blocks until ctx is done and every worker
// exited. A worker death before shutdown is reported but never interrupts
// the siblings.
func (p *ProcessPool) Run(ctx context.Context) error {
	p.logger.Info("starting worker process(es)", "count", p.cfg.Workers)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var mErr *multierror.Error

	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := p.runWorker(ctx, id); err != nil {
				mu.Lock()
				mErr = multierror.Append(mErr, fmt.Errorf("worker %d: %w", id, err))
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	return mErr.ErrorOrNil()
}

func (p *ProcessPool) runWorker(ctx context.Context, id int) error {
	cmd := p.newCommand()
	cmd.Stdin = bytes.NewReader(p.cfg.WorkerConfig)
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Env = append(os.Environ(), MasterTenantCellEnv+"="+p.cfg.CellPath)
	// Workers must not outlive a supervisor that died without cleanup.
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: unix.SIGTERM}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	logger := p.logger.With("worker", id, "pid", cmd.Process.Pid)
	logger.Info("worker process started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		logger.Error("worker process exited unexpectedly", "error", err)
		if err == nil {
			err = errors.New("exited unexpectedly")
		}
		return err
	case <-ctx.Done():
	}

	logger.Debug("stopping worker process")
	if err := cmd.Process.Signal(unix.SIGTERM); err != nil {
		logger.Debug("signaling worker failed", "error", err)
	}

	select {
	case <-waitCh:
		logger.Info("worker process stopped")
	case <-time.After(p.grace):
		logger.Warn("worker process did not stop in time, killing it")
		cmd.Process.Kill()
		<-waitCh
	}
	return nil
}
