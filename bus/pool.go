// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"
)

// stopGrace is how long Stop waits for the reconnect drivers to unwind
// before abandoning them.
const stopGrace = 5 * time.Second

// Pool is a fixed set of bus connections handed out round-robin, so
// thousands of sessions share a handful of TCP links. The pool lives as
// long as the worker process.
type Pool struct {
	connections []*Connection
	next        atomic.Uint64
	logger      hclog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPool builds size connections against the configured broker.
func NewPool(cfg *Config, size int, logger hclog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	pool := &Pool{
		logger: logger.Named("pool"),
		done:   make(chan struct{}),
	}
	for id := 0; id < size; id++ {
		pool.connections = append(pool.connections, newConnection(id, cfg.URL(), logger))
	}
	return pool
}

// Start launches every connection's reconnect driver.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	group, ctx := errgroup.WithContext(ctx)
	for _, conn := range p.connections {
		conn := conn
		group.Go(func() error {
			return conn.Run(ctx)
		})
	}
	go func() {
		defer close(p.done)
		group.Wait()
	}()
}

// Get returns the next connection, round-robin.
func (p *Pool) Get() *Connection {
	index := p.next.Add(1) - 1
	return p.connections[index%uint64(len(p.connections))]
}

// Stop cancels the drivers and waits up to the grace period for them to
// finish. Stragglers are abandoned with a warning; their goroutines exit
// with the process.
func (p *Pool) Stop() {
	for _, conn := range p.connections {
		conn.Close()
	}
	if p.cancel != nil {
		p.cancel()
	}

	select {
	case <-p.done:
	case <-time.After(stopGrace):
		p.logger.Warn("bus connections did not stop within the grace period")
	}
}
