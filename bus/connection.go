// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// heartbeatInterval is the AMQP heartbeat negotiated with the broker;
	// it bounds how long a dead TCP link goes unnoticed.
	heartbeatInterval = 10 * time.Second

	// dialTimeout bounds a single connection attempt.
	dialTimeout = 10 * time.Second
)

// Connection is one AMQP connection shared by many consumers, each on its
// own channel. Run drives a reconnect loop; when the link drops, every
// registered consumer is handed the ErrConnectionLost sentinel and must be
// recreated, bindings included, by its owner.
type Connection struct {
	id     int
	url    string
	logger hclog.Logger

	mu             sync.Mutex
	conn           *amqp.Connection
	connected      bool
	closing        bool
	ready          chan struct{}
	consumers      map[uint64]*Consumer
	nextConsumerID uint64
}

func newConnection(id int, url string, logger hclog.Logger) *Connection {
	return &Connection{
		id:        id,
		url:       url,
		logger:    logger.With("connection_id", id),
		ready:     make(chan struct{}),
		consumers: make(map[uint64]*Consumer),
	}
}

// Run dials and watches the connection until ctx is done or Close is
// called. Lost connections are retried with delays of 1, 2, 4, 8, 16 then
// 32 seconds.
func (c *Connection) Run(ctx context.Context) error {
	attempt := 0
	for {
		if c.isClosing() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := c.dial()
		if err != nil {
			delay := reconnectDelay(attempt)
			attempt++
			c.logger.Warn("connecting to bus failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
		if !c.setConnected(conn) {
			conn.Close()
			return nil
		}
		c.logger.Info("connected to bus")

		select {
		case <-ctx.Done():
			c.markLost()
			conn.Close()
			c.notifyConsumersLost()
			return ctx.Err()
		case amqpErr := <-closeCh:
			c.markLost()
			c.notifyConsumersLost()
			if amqpErr != nil {
				c.logger.Warn("bus connection lost", "error", amqpErr)
			}
		}
	}
}

func (c *Connection) dial() (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(fmt.Sprintf("wazo-websocketd-%d", c.id))

	return amqp.DialConfig(c.url, amqp.Config{
		Heartbeat:  heartbeatInterval,
		Dial:       amqp.DefaultDial(dialTimeout),
		Properties: props,
	})
}

// Close marks the connection as closing and tears down the transport. The
// reconnect driver observes the flag and exits instead of redialing.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

// Channel opens a channel on the live connection. With wait false it fails
// fast when the connection is down; with wait true it blocks until the
// reconnect driver brings the link back or ctx is done.
func (c *Connection) Channel(ctx context.Context, wait bool) (*amqp.Channel, error) {
	for {
		c.mu.Lock()
		if c.connected {
			conn := c.conn
			c.mu.Unlock()
			return conn.Channel()
		}
		if c.closing {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: connection is closing", ErrConnection)
		}
		ready := c.ready
		c.mu.Unlock()

		if !wait {
			return nil, fmt.Errorf("%w: not connected", ErrConnection)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ready:
		}
	}
}

// registerConsumer adds a consumer to the disconnect notification list and
// returns its registration id.
func (c *Connection) registerConsumer(consumer *Consumer) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextConsumerID++
	id := c.nextConsumerID
	c.consumers[id] = consumer
	return id
}

// removeConsumer drops a consumer from the notification list. Consumers
// release themselves when they close; the connection never owns them.
func (c *Connection) removeConsumer(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.consumers, id)
}

func (c *Connection) notifyConsumersLost() {
	c.mu.Lock()
	consumers := make([]*Consumer, 0, len(c.consumers))
	for _, consumer := range c.consumers {
		consumers = append(consumers, consumer)
	}
	c.consumers = make(map[uint64]*Consumer)
	c.mu.Unlock()

	for _, consumer := range consumers {
		consumer.connectionLost()
	}
}

// setConnected publishes the live connection to channel waiters. It reports
// false when Close raced the dial, in which case the caller owns the
// teardown.
func (c *Connection) setConnected(conn *amqp.Connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.conn = conn
	c.connected = true
	close(c.ready)
	return true
}

func (c *Connection) markLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.conn = nil
	c.ready = make(chan struct{})
}

func (c *Connection) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// reconnectDelay returns the nth delay of the 1, 2, 4, 8, 16, 32, 32, ...
// schedule.
func reconnectDelay(attempt int) time.Duration {
	delays := []time.Duration{1, 2, 4, 8, 16}
	if attempt < len(delays) {
		return delays[attempt] * time.Second
	}
	return 32 * time.Second
}
