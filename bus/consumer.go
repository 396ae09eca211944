// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	uuid "github.com/hashicorp/go-uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wazo-platform/wazo-websocketd/acl"
	"github.com/wazo-platform/wazo-websocketd/auth"
)

// Message is one item of a consumer's stream: an event, or the sentinel
// error telling the session the bus link died.
type Message struct {
	Event *Event
	Err   error
}

// Consumer is one session's view of the bus: an exclusive auto-delete queue
// on its own channel, fed by the tenant's sub-exchange (or the upstream
// exchange for admin-equivalent tokens) through per-event-name header
// bindings.
type Consumer struct {
	logger       hclog.Logger
	conn         *Connection
	registration uint64
	ch           *amqp.Channel
	queue        string
	consumerTag  string

	// exchange is the effective binding source. admin and originUUID are
	// frozen at attach time: a mid-session token renewal refreshes the ACL
	// check but never rescopes the queue.
	exchange   string
	originUUID string
	admin      bool

	mu       sync.Mutex
	token    *auth.Token
	check    *acl.Check
	bindings map[string][]amqp.Table

	msgs      chan Message
	closedCh  chan struct{}
	closeOnce sync.Once
}

// tenantExchangeName is the per-tenant headers sub-exchange. It is
// auto-deleted by the broker once the tenant's last consumer unbinds.
func tenantExchangeName(tenantUUID string) string {
	return "wazo-websocketd.tenant-" + tenantUUID
}

// attachConsumer provisions the channel, scoping exchange, queue and
// delivery stream for one session.
func attachConsumer(ctx context.Context, conn *Connection, cfg *Config, token *auth.Token, masterTenantUUID, originUUID string, logger hclog.Logger) (*Consumer, error) {
	ch, err := conn.Channel(ctx, false)
	if err != nil {
		return nil, err
	}

	exchange := cfg.ExchangeName
	if token.TenantUUID != masterTenantUUID {
		exchange = tenantExchangeName(token.TenantUUID)
		if err := ch.ExchangeDeclare(exchange, cfg.ExchangeType, false, true, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("%w: declaring tenant exchange: %v", ErrConnection, err)
		}
		args := amqp.Table{
			"origin_uuid": originUUID,
			"tenant_uuid": token.TenantUUID,
		}
		if err := ch.ExchangeBind(exchange, "", cfg.ExchangeName, false, args); err != nil {
			ch.Close()
			return nil, fmt.Errorf("%w: binding tenant exchange: %v", ErrConnection, err)
		}
	}

	if err := ch.Qos(cfg.ConsumerPrefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: setting prefetch: %v", ErrConnection, err)
	}

	suffix, err := uuid.GenerateUUID()
	if err != nil {
		ch.Close()
		return nil, err
	}
	queue, err := ch.QueueDeclare(
		fmt.Sprintf("wazo-websocketd.user-%s.%s", token.UserUUID, suffix),
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: declaring queue: %v", ErrConnection, err)
	}

	consumerTag := "wazo-websocketd." + suffix
	deliveries, err := ch.Consume(queue.Name, consumerTag, false, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("%w: starting consumer: %v", ErrConnection, err)
	}

	consumer := &Consumer{
		logger:      logger.With("queue", queue.Name),
		conn:        conn,
		ch:          ch,
		queue:       queue.Name,
		consumerTag: consumerTag,
		exchange:    exchange,
		originUUID:  originUUID,
		admin:       token.IsAdminEquivalent(masterTenantUUID),
		bindings:    make(map[string][]amqp.Table),
		msgs:        make(chan Message, cfg.ConsumerPrefetch),
		closedCh:    make(chan struct{}),
	}
	consumer.SetToken(token)
	consumer.registration = conn.registerConsumer(consumer)

	go consumer.deliveryLoop(deliveries)
	return consumer, nil
}

// Messages is the consumer's event stream. It is never closed; a lost
// connection is signalled in-band with a Message carrying
// ErrConnectionLost.
func (c *Consumer) Messages() <-chan Message {
	return c.msgs
}

// Token returns the token currently attached to this consumer. Renewals
// replace it, so expiry watchers read through this getter.
func (c *Consumer) Token() *auth.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetToken replaces the consumer's token and recompiles its ACL check.
// Existing bindings are kept.
func (c *Consumer) SetToken(token *auth.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.check = acl.NewCheck(token.UserUUID, token.SessionUUID, token.ACL)
}

// Bind subscribes the queue to an event name. Admin-equivalent tokens get
// one origin-scoped binding; regular users get one binding for events
// addressed to them and one for broadcast events. "*" subscribes to every
// name.
func (c *Consumer) Bind(eventName string) error {
	tables := c.bindingTables(eventName)
	for _, args := range tables {
		if err := c.ch.QueueBind(c.queue, "", c.exchange, false, args); err != nil {
			return fmt.Errorf("%w: binding queue: %v", ErrConnection, err)
		}
	}

	c.mu.Lock()
	c.bindings[eventName] = tables
	c.mu.Unlock()
	return nil
}

// Unbind removes the bindings Bind installed for this event name. The
// tables recorded at bind time are replayed so a token renewal in between
// cannot orphan a binding.
func (c *Consumer) Unbind(eventName string) error {
	c.mu.Lock()
	tables := c.bindings[eventName]
	delete(c.bindings, eventName)
	c.mu.Unlock()

	for _, args := range tables {
		if err := c.ch.QueueUnbind(c.queue, "", c.exchange, args); err != nil {
			return fmt.Errorf("%w: unbinding queue: %v", ErrConnection, err)
		}
	}
	return nil
}

func (c *Consumer) bindingTables(eventName string) []amqp.Table {
	if c.admin {
		args := amqp.Table{"origin_uuid": c.originUUID}
		if eventName != "*" {
			args["name"] = eventName
		}
		return []amqp.Table{args}
	}

	c.mu.Lock()
	userUUID := c.token.UserUUID
	c.mu.Unlock()

	// The tenant sub-exchange already enforced origin and tenant; user
	// scoping is all that is left.
	direct := amqp.Table{"user_uuid:" + userUUID: true}
	broadcast := amqp.Table{"user_uuid:*": true}
	if eventName != "*" {
		direct["name"] = eventName
		broadcast["name"] = eventName
	}
	return []amqp.Table{direct, broadcast}
}

// deliveryLoop decodes, filters and forwards deliveries until the channel
// closes. Every delivery is acknowledged, dropped or not: the broker must
// never redeliver, and unacked messages would pile up against the prefetch
// window.
func (c *Consumer) deliveryLoop(deliveries <-chan amqp.Delivery) {
	for delivery := range deliveries {
		event, err := decodeEvent(&delivery)
		switch {
		case err != nil:
			c.logger.Debug("ignoring bus message: not a bus event", "error", err)
		default:
			if permErr := c.permitted(event); permErr != nil {
				c.logger.Debug("not dispatching event", "event", event.Name, "error", permErr)
				break
			}
			select {
			case c.msgs <- Message{Event: event}:
			case <-c.closedCh:
				return
			}
		}

		if err := delivery.Ack(true); err != nil {
			c.logger.Debug("acking bus message failed", "error", err)
		}
	}
}

// permitted applies the per-session ACL filter.
func (c *Consumer) permitted(event *Event) error {
	if !event.HasACL {
		return fmt.Errorf("%w: event %q contains no ACL", ErrEventPermission, event.Name)
	}

	c.mu.Lock()
	check := c.check
	c.mu.Unlock()

	if !check.Allows(event.RequiredACL) {
		return fmt.Errorf("%w: token does not match ACL %q", ErrEventPermission, *event.RequiredACL)
	}
	return nil
}

// connectionLost queues the sentinel behind any buffered events so the
// session drains its stream before observing the loss. Called by the
// connection, which must not block on slow sessions.
func (c *Consumer) connectionLost() {
	go func() {
		select {
		case c.msgs <- Message{Err: ErrConnectionLost}:
		case <-c.closedCh:
		}
	}()
}

// Close cancels the consumer and closes its channel, leaving the shared
// connection up. Safe to call when the connection is already gone.
func (c *Consumer) Close() error {
	var mErr *multierror.Error
	c.closeOnce.Do(func() {
		close(c.closedCh)
		c.conn.removeConsumer(c.registration)

		if err := c.ch.Cancel(c.consumerTag, false); err != nil && err != amqp.ErrClosed {
			mErr = multierror.Append(mErr, err)
		}
		if err := c.ch.Close(); err != nil && err != amqp.ErrClosed {
			mErr = multierror.Append(mErr, err)
		}
	})
	return mErr.ErrorOrNil()
}
