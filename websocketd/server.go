// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package websocketd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"
)

// shutdownGrace bounds how long Run waits for live sessions to unwind after
// the listener is closed.
const shutdownGrace = 5 * time.Second

// Config is the websocket listener configuration.
type Config struct {
	Listen      string
	Port        int
	Certificate string
	PrivateKey  string
}

// Server accepts websocket connections and runs one Session per connection.
// Any request path is accepted; clients carry their credentials in the query
// string or headers.
type Server struct {
	cfg      *Config
	sessions *SessionConfig
	logger   hclog.Logger
	upgrader websocket.Upgrader

	ln net.Listener
}

// NewServer builds a Server. Listen must be called before Run.
func NewServer(cfg *Config, sessions *SessionConfig, logger hclog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger.Named("server"),
		upgrader: websocket.Upgrader{
			// Browser clients connect from the web application's origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Listen binds the configured address with SO_REUSEPORT so every worker
// process can bind the same port and let the kernel spread accepted
// connections across them. TLS is enabled when both keypair paths are set.
func (s *Server) Listen(ctx context.Context) error {
	lc := &net.ListenConfig{Control: reusePort}
	addr := net.JoinHostPort(s.cfg.Listen, strconv.Itoa(s.cfg.Port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("binding websocket listener: %w", err)
	}

	if s.cfg.Certificate != "" && s.cfg.PrivateKey != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.Certificate, s.cfg.PrivateKey)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading websocket tls keypair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	s.ln = ln
	s.logger.Info("websocket server listening", "address", ln.Addr().String())
	return nil
}

// Addr is the bound listener address, useful when Port was 0.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Run serves the listener until ctx is cancelled, then closes it and waits
// up to a grace period for open sessions to finish their close handshake.
func (s *Server) Run(ctx context.Context) error {
	var sessions sync.WaitGroup

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessions.Add(1)
			defer sessions.Done()
			s.handle(ctx, w, r)
		}),
		ErrorLog: s.logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(s.ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("websocket server failed: %w", err)
	case <-ctx.Done():
	}

	srv.Close()
	<-errCh

	done := make(chan struct{})
	go func() {
		sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn("some websocket sessions did not terminate before shutdown")
	}
	return nil
}

func (s *Server) handle(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	remote := remoteAddr(r)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Debug("websocket upgrade failed", "remote", remote, "error", err)
		return
	}

	s.logger.Info("websocket connection accepted", "remote", remote)
	NewSession(s.sessions, conn, r).Run(ctx)
	s.logger.Info("websocket session terminated", "remote", remote)
}

// remoteAddr prefers the reverse proxy's X-Forwarded-For header.
func remoteAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}

// reusePort flags the socket with SO_REUSEPORT before bind.
func reusePort(network, address string, conn syscall.RawConn) error {
	var sockErr error
	err := conn.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
