// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/wazo-platform/wazo-websocketd/helper/testlog"
)

func TestConnection_channelFailsFastWhenDown(t *testing.T) {
	t.Parallel()

	conn := newConnection(0, testBusConfig().URL(), testlog.HCLogger(t))

	_, err := conn.Channel(context.Background(), false)
	must.ErrorIs(t, err, ErrConnection)
}

func TestConnection_channelAfterClose(t *testing.T) {
	t.Parallel()

	conn := newConnection(0, testBusConfig().URL(), testlog.HCLogger(t))
	must.NoError(t, conn.Close())

	// even a waiting caller must not hang on a closing connection
	_, err := conn.Channel(context.Background(), true)
	must.ErrorIs(t, err, ErrConnection)
}

func TestConnection_runExitsWhenClosing(t *testing.T) {
	t.Parallel()

	conn := newConnection(0, testBusConfig().URL(), testlog.HCLogger(t))
	must.NoError(t, conn.Close())

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Run(context.Background()) }()

	select {
	case err := <-errCh:
		must.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect driver did not observe the closing flag")
	}
}

func TestConnection_consumerRegistration(t *testing.T) {
	t.Parallel()

	conn := newConnection(0, testBusConfig().URL(), testlog.HCLogger(t))
	consumer := &Consumer{msgs: make(chan Message, 1), closedCh: make(chan struct{})}

	id := conn.registerConsumer(consumer)
	conn.notifyConsumersLost()

	select {
	case msg := <-consumer.msgs:
		must.ErrorIs(t, msg.Err, ErrConnectionLost)
	case <-time.After(5 * time.Second):
		t.Fatal("registered consumer was not notified")
	}

	// removal is idempotent with the notification wipe
	conn.removeConsumer(id)
	must.MapLen(t, 0, conn.consumers)
}

func TestReconnectDelay(t *testing.T) {
	t.Parallel()

	expect := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		32 * time.Second,
	}
	for attempt, want := range expect {
		must.Eq(t, want, reconnectDelay(attempt))
	}
}
