// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrInvalidEvent marks a bus message that is not a well-formed event.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrEventPermission marks an event the session's token may not see.
	ErrEventPermission = errors.New("event permission denied")
)

// Event is one decoded bus message. Body is kept verbatim: protocol version
// 1 clients receive it untouched.
type Event struct {
	Name    string
	Headers amqp.Table

	// HasACL records whether the required_acl header was present at all.
	// An event published without it has no declared ACL and is never
	// delivered.
	HasACL bool

	// RequiredACL is nil when the header was null, meaning no ACL is
	// required.
	RequiredACL *string

	Body []byte
}

// decodeEvent validates a delivery against the bus event contract: a UTF-8
// JSON object body, a non-empty name in the headers or the body, and a
// required_acl header that is null or a string when present.
func decodeEvent(d *amqp.Delivery) (*Event, error) {
	if !utf8.Valid(d.Body) {
		return nil, fmt.Errorf("%w: body is not valid utf-8", ErrInvalidEvent)
	}

	var root any
	if err := json.Unmarshal(d.Body, &root); err != nil {
		return nil, fmt.Errorf("%w: not a valid json document", ErrInvalidEvent)
	}
	payload, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: json document root is not an object", ErrInvalidEvent)
	}

	name, err := eventName(d.Headers, payload)
	if err != nil {
		return nil, err
	}

	event := &Event{
		Name:    name,
		Headers: d.Headers,
		Body:    d.Body,
	}

	if raw, present := d.Headers["required_acl"]; present {
		event.HasACL = true
		switch acl := raw.(type) {
		case nil:
		case string:
			event.RequiredACL = &acl
		default:
			return nil, fmt.Errorf(`%w: "required_acl" value is not a string nor null`, ErrInvalidEvent)
		}
	}

	return event, nil
}

// eventName resolves the event name from the headers, falling back to the
// body.
func eventName(headers amqp.Table, payload map[string]any) (string, error) {
	raw, ok := headers["name"]
	if !ok {
		raw, ok = payload["name"]
	}
	if !ok {
		return "", fmt.Errorf(`%w: object is missing required "name" key`, ErrInvalidEvent)
	}
	name, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf(`%w: object "name" value is not a string`, ErrInvalidEvent)
	}
	if name == "" {
		return "", fmt.Errorf(`%w: object "name" value is empty`, ErrInvalidEvent)
	}
	return name, nil
}
