// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package websocketd

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-set/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wazo-platform/wazo-websocketd/auth"
	"github.com/wazo-platform/wazo-websocketd/bus"
)

// writeTimeout bounds every websocket control-frame write.
const writeTimeout = 10 * time.Second

// SessionConfig carries the shared collaborators every session runs
// against.
type SessionConfig struct {
	PingInterval  time.Duration
	Authenticator Authenticator
	Bus           BusService
	MasterTenant  MasterTenant
	Logger        hclog.Logger
}

// Session drives one websocket connection from accept to close: it
// authenticates the client, attaches a bus consumer, then relays protocol
// commands one way and permitted events the other.
type Session struct {
	logger        hclog.Logger
	conn          *websocket.Conn
	req           *http.Request
	authenticator Authenticator
	bus           BusService
	masterTenant  MasterTenant
	pingInterval  time.Duration

	encoder Encoder
	decoder Decoder

	version  int
	consumer BusConsumer
	events   *set.Set[string]
	started  atomic.Bool

	// writeMu serializes data frames; the transmitter and the command
	// dispatcher both write to the socket.
	writeMu sync.Mutex
}

// NewSession wraps an upgraded websocket connection. The request is kept
// for credential and version extraction.
func NewSession(cfg *SessionConfig, conn *websocket.Conn, req *http.Request) *Session {
	return &Session{
		logger:        cfg.Logger,
		conn:          conn,
		req:           req,
		authenticator: cfg.Authenticator,
		bus:           cfg.Bus,
		masterTenant:  cfg.MasterTenant,
		pingInterval:  cfg.PingInterval,
		events:        set.New[string](8),
	}
}

// Run owns the connection until it closes. Every failure mode is mapped to
// its close code here; the caller only ever logs.
func (s *Session) Run(ctx context.Context) {
	s.close(s.run(ctx))
}

func (s *Session) run(ctx context.Context) error {
	version, err := negotiateVersion(s.req)
	if err != nil {
		return err
	}
	s.version = version

	tokenID, err := extractTokenID(s.req)
	if err != nil {
		return err
	}

	token, err := s.authenticator.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}

	masterTenantUUID, ok := s.masterTenant()
	if !ok {
		return ErrMasterTenantUnknown
	}

	consumer, err := s.bus.NewConsumer(ctx, token, masterTenantUUID)
	if err != nil {
		return err
	}
	defer consumer.Close()
	s.consumer = consumer

	frame, err := s.encoder.EncodeInit(s.version)
	if err != nil {
		return err
	}
	if err := s.send(frame); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pinger(ctx) })
	g.Go(func() error { return s.receiver(ctx) })
	g.Go(func() error { return s.transmitter(ctx) })
	g.Go(func() error { return s.authenticator.RunCheck(ctx, consumer.Token) })

	// ReadMessage has no context; expiring the read deadline is the only
	// way to unblock the receiver once another task fails.
	g.Go(func() error {
		<-ctx.Done()
		s.conn.SetReadDeadline(time.Now())
		return nil
	})

	return g.Wait()
}

// pinger keeps intermediate proxies from reaping an idle connection.
func (s *Session) pinger(ctx context.Context) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.logger.Debug("sending websocket ping")
			deadline := time.Now().Add(writeTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		}
	}
}

// receiver reads and dispatches client frames until the connection or the
// session dies.
func (s *Session) receiver(ctx context.Context) error {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			// A failed read after cancellation is the unblocker's
			// deadline, not a client error.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if msgType != websocket.TextMessage {
			return protocolErrorf("expected text frame")
		}

		msg, err := s.decoder.Decode(data)
		if err != nil {
			return err
		}
		if err := s.dispatch(ctx, msg); err != nil {
			return err
		}
	}
}

// transmitter forwards permitted bus events to the socket once the client
// has started the stream. Events arriving before start are dropped, never
// buffered.
func (s *Session) transmitter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.consumer.Messages():
			if msg.Err != nil {
				return msg.Err
			}
			if !s.started.Load() {
				s.logger.Debug("not sending bus event to websocket: session not started", "event", msg.Event.Name)
				continue
			}

			frame := msg.Event.Body
			if s.version == 2 {
				var err error
				frame, err = s.encoder.EncodeEvent(msg.Event.Body)
				if err != nil {
					return err
				}
			}
			if err := s.send(frame); err != nil {
				return err
			}
		}
	}
}

func (s *Session) dispatch(ctx context.Context, msg ClientMessage) error {
	switch msg.Op {
	case OpStart:
		return s.doStart()
	case OpSubscribe:
		return s.doSubscribe(msg.Value)
	case OpToken:
		return s.doToken(ctx, msg.Value)
	case OpUnsubscribe:
		if s.version >= 2 {
			return s.doUnsubscribe(msg.Value)
		}
	case OpPing:
		if s.version >= 2 {
			return s.doPing(msg.Value)
		}
	}
	return protocolErrorf("unknown operation %q", msg.Op)
}

// doStart begins event delivery. A repeated start is re-acknowledged in
// version 2 and silent in version 1.
func (s *Session) doStart() error {
	if s.started.Swap(true) && s.version < 2 {
		return nil
	}
	return s.sendAck(OpStart)
}

// doSubscribe binds the consumer's queue to an event name. Version 1 stops
// acknowledging once started; version 2 always does.
func (s *Session) doSubscribe(eventName string) error {
	s.logger.Debug("subscribing to event", "event", eventName)
	if s.events.Insert(eventName) {
		if err := s.consumer.Bind(eventName); err != nil {
			return err
		}
	}
	if !s.started.Load() || s.version >= 2 {
		return s.sendAck(OpSubscribe)
	}
	return nil
}

func (s *Session) doUnsubscribe(eventName string) error {
	s.logger.Debug("unsubscribing from event", "event", eventName)
	if s.events.Remove(eventName) {
		if err := s.consumer.Unbind(eventName); err != nil {
			return err
		}
	}
	return s.sendAck(OpUnsubscribe)
}

// doToken swaps in a renewed token. The consumer keeps its queue and
// bindings; only the ACL filter and the expiry watcher see the new token.
func (s *Session) doToken(ctx context.Context, tokenID string) error {
	token, err := s.authenticator.GetToken(ctx, tokenID)
	if err != nil {
		return err
	}
	s.consumer.SetToken(token)
	return s.sendAck(OpToken)
}

func (s *Session) doPing(payload string) error {
	frame, err := s.encoder.EncodePong(payload)
	if err != nil {
		return err
	}
	return s.send(frame)
}

func (s *Session) sendAck(op string) error {
	frame, err := s.encoder.EncodeAck(op)
	if err != nil {
		return err
	}
	return s.send(frame)
}

func (s *Session) send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// close translates the session's terminal error into a websocket close
// frame. A close initiated by the client was already echoed by the
// connection's close handler.
func (s *Session) close(err error) {
	defer s.conn.Close()

	code := websocket.CloseInternalServerErr
	reason := ""

	var closeErr *websocket.CloseError
	var protoErr *SessionProtocolError

	switch {
	case err == nil:
		return
	case errors.As(err, &closeErr):
		s.logger.Info("websocket connection closed", "code", closeErr.Code)
		return
	case errors.Is(err, context.Canceled):
		code, reason = websocket.CloseGoingAway, "going away"
		s.logger.Info("closing websocket connection: server shutting down")
	case errors.Is(err, ErrNoToken):
		code, reason = CloseNoToken, "no token"
		s.logger.Info("closing websocket connection: no token")
	case errors.Is(err, ErrMasterTenantUnknown):
		code, reason = CloseAuthFailed, "unable to determine master tenant"
		s.logger.Info("closing websocket connection: master tenant unknown")
	case errors.Is(err, auth.ErrAuthenticationExpired):
		code, reason = CloseAuthExpired, "authentication expired"
		s.logger.Info("closing websocket connection: authentication expired")
	case errors.Is(err, auth.ErrAuthenticationFailed):
		code, reason = CloseAuthFailed, "authentication failed"
		s.logger.Info("closing websocket connection: authentication failed", "error", err)
	case errors.As(err, &protoErr), errors.Is(err, ErrUnsupportedVersion):
		code = CloseProtocolError
		s.logger.Info("closing websocket connection: session protocol error", "error", err)
	case errors.Is(err, bus.ErrConnectionLost):
		reason = "bus connection lost"
		s.logger.Info("closing websocket connection: bus connection lost")
	case errors.Is(err, bus.ErrConnection):
		reason = "bus connection error"
		s.logger.Info("closing websocket connection: bus connection error")
	default:
		s.logger.Error("unexpected error during websocket session", "error", err)
	}

	deadline := time.Now().Add(writeTimeout)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && err != websocket.ErrCloseSent {
		s.logger.Debug("sending websocket close frame failed", "error", err)
	}
}

// extractTokenID pulls the credential from the query string, then from the
// X-Auth-Token header.
func extractTokenID(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	if token := r.Header.Get("X-Auth-Token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

// negotiateVersion reads the requested protocol version, defaulting to 1.
func negotiateVersion(r *http.Request) (int, error) {
	switch r.URL.Query().Get("version") {
	case "", "1":
		return 1, nil
	case "2":
		return 2, nil
	default:
		return 0, ErrUnsupportedVersion
	}
}
