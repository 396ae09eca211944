// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package websocketd

import (
	"encoding/json"
	"fmt"
)

// Client protocol operations. The server replies to each request with a
// frame carrying the same op; events are pushed with OpEvent.
const (
	OpInit        = "init"
	OpStart       = "start"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpToken       = "token"
	OpPing        = "ping"
	OpPong        = "pong"
	OpEvent       = "event"
)

// SessionProtocolError describes a client frame the server cannot accept.
// It terminates the session with close code 4004.
type SessionProtocolError struct {
	reason string
}

func (e *SessionProtocolError) Error() string {
	return "session protocol error: " + e.reason
}

func protocolErrorf(format string, args ...any) *SessionProtocolError {
	return &SessionProtocolError{reason: fmt.Sprintf(format, args...)}
}

// ClientMessage is one decoded client frame. Value carries the op's single
// argument: the event name for subscribe/unsubscribe, the token id for
// token, the payload for ping.
type ClientMessage struct {
	Op    string
	Value string
}

// serverFrame is the wire shape of every server-to-client frame.
type serverFrame struct {
	Op   string `json:"op"`
	Code int    `json:"code"`
	Data any    `json:"data"`
}

// Encoder serializes server frames. The zero code means OK; the protocol
// has no other code today.
type Encoder struct{}

// EncodeInit renders the first frame of every session, carrying the
// negotiated protocol version.
func (Encoder) EncodeInit(version int) ([]byte, error) {
	return json.Marshal(serverFrame{Op: OpInit, Data: map[string]int{"version": version}})
}

// EncodeAck renders an empty acknowledgement for the given op.
func (Encoder) EncodeAck(op string) ([]byte, error) {
	return json.Marshal(serverFrame{Op: op})
}

// EncodePong renders the answer to an application-level ping.
func (Encoder) EncodePong(payload string) ([]byte, error) {
	return json.Marshal(serverFrame{Op: OpPong, Data: map[string]string{"payload": payload}})
}

// EncodeEvent wraps a bus event body for protocol version 2. Version 1
// clients receive the body verbatim and never go through here.
func (Encoder) EncodeEvent(body []byte) ([]byte, error) {
	return json.Marshal(serverFrame{Op: OpEvent, Data: json.RawMessage(body)})
}

// Decoder parses client frames.
type Decoder struct{}

// Decode parses one text frame. Ops carrying data have it validated here;
// unknown ops are passed through and rejected at dispatch, where the session
// knows which ops its protocol version allows.
func (Decoder) Decode(data []byte) (ClientMessage, error) {
	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return ClientMessage{}, protocolErrorf("not a valid json document")
	}
	frame, ok := root.(map[string]any)
	if !ok {
		return ClientMessage{}, protocolErrorf("json document root is not an object")
	}

	rawOp, ok := frame["op"]
	if !ok {
		return ClientMessage{}, protocolErrorf(`object is missing required "op" key`)
	}
	op, ok := rawOp.(string)
	if !ok {
		return ClientMessage{}, protocolErrorf(`object "op" value is not a string`)
	}

	msg := ClientMessage{Op: op}
	switch op {
	case OpSubscribe, OpUnsubscribe:
		value, err := decodeDataString(frame, "event_name")
		if err != nil {
			return ClientMessage{}, err
		}
		msg.Value = value
	case OpToken:
		value, err := decodeDataString(frame, "token")
		if err != nil {
			return ClientMessage{}, err
		}
		msg.Value = value
	case OpPing:
		value, err := decodeDataString(frame, "payload")
		if err != nil {
			return ClientMessage{}, err
		}
		msg.Value = value
	}
	return msg, nil
}

// decodeDataString extracts frame.data.<key> as a string.
func decodeDataString(frame map[string]any, key string) (string, error) {
	rawData, ok := frame["data"]
	if !ok {
		return "", protocolErrorf(`object is missing required "data" key`)
	}
	data, ok := rawData.(map[string]any)
	if !ok {
		return "", protocolErrorf(`object "data" value is not an object`)
	}
	rawValue, ok := data[key]
	if !ok {
		return "", protocolErrorf(`object "data" is missing required %q key`, key)
	}
	value, ok := rawValue.(string)
	if !ok {
		return "", protocolErrorf(`object data %q value is not a string`, key)
	}
	return value, nil
}
