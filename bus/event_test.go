// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shoenig/test/must"
)

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	t.Run("name and acl from headers", func(t *testing.T) {
		d := &amqp.Delivery{
			Headers: amqp.Table{"name": "call_created", "required_acl": "event.calls"},
			Body:    []byte(`{"data": {"id": 42}}`),
		}
		event, err := decodeEvent(d)
		must.NoError(t, err)
		must.Eq(t, "call_created", event.Name)
		must.True(t, event.HasACL)
		must.NotNil(t, event.RequiredACL)
		must.Eq(t, "event.calls", *event.RequiredACL)
		must.Eq(t, d.Body, event.Body)
	})

	t.Run("name from body", func(t *testing.T) {
		d := &amqp.Delivery{
			Headers: amqp.Table{"required_acl": nil},
			Body:    []byte(`{"name": "call_created"}`),
		}
		event, err := decodeEvent(d)
		must.NoError(t, err)
		must.Eq(t, "call_created", event.Name)
	})

	t.Run("null acl means no acl required", func(t *testing.T) {
		d := &amqp.Delivery{
			Headers: amqp.Table{"name": "call_created", "required_acl": nil},
			Body:    []byte(`{}`),
		}
		event, err := decodeEvent(d)
		must.NoError(t, err)
		must.True(t, event.HasACL)
		must.Nil(t, event.RequiredACL)
	})

	t.Run("missing acl header", func(t *testing.T) {
		d := &amqp.Delivery{
			Headers: amqp.Table{"name": "call_created"},
			Body:    []byte(`{}`),
		}
		event, err := decodeEvent(d)
		must.NoError(t, err)
		must.False(t, event.HasACL)
	})

	cases := []struct {
		name    string
		headers amqp.Table
		body    string
	}{
		{
			name:    "invalid utf8",
			headers: amqp.Table{"name": "foo", "required_acl": nil},
			body:    "\xff\xfe{}",
		},
		{
			name:    "invalid json",
			headers: amqp.Table{"name": "foo", "required_acl": nil},
			body:    `{invalid`,
		},
		{
			name:    "root is not an object",
			headers: amqp.Table{"name": "foo", "required_acl": nil},
			body:    `1`,
		},
		{
			name:    "missing name",
			headers: amqp.Table{"required_acl": nil},
			body:    `{}`,
		},
		{
			name:    "name is not a string",
			headers: amqp.Table{"name": int32(2), "required_acl": nil},
			body:    `{}`,
		},
		{
			name:    "empty name",
			headers: amqp.Table{"name": "", "required_acl": nil},
			body:    `{}`,
		},
		{
			name:    "acl is not a string nor null",
			headers: amqp.Table{"name": "foo", "required_acl": int32(2)},
			body:    `{}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &amqp.Delivery{Headers: tc.headers, Body: []byte(tc.body)}
			_, err := decodeEvent(d)
			must.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}
