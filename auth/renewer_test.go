// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/wazo-platform/wazo-websocketd/helper/testlog"
)

func TestRenewer_notifiesSubscribers(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenResponse))
	}))
	defer srv.Close()

	key := &ServiceKey{ServiceID: "wazo-websocketd", ServiceKey: "secret"}
	renewer := NewRenewer(testClient(t, srv), key, testlog.HCLogger(t))

	regular := make(chan *Token, 1)
	oneshot := make(chan *Token, 1)
	renewer.Subscribe(func(token *Token) { regular <- token })
	renewer.SubscribeOnce(func(token *Token) { oneshot <- token })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- renewer.Run(ctx) }()

	select {
	case token := <-regular:
		must.Eq(t, "my-token-id", token.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("regular subscriber was not notified")
	}
	select {
	case token := <-oneshot:
		must.Eq(t, "my-token-id", token.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("oneshot subscriber was not notified")
	}

	// the oneshot callback must be gone after the first notification
	renewer.mu.Lock()
	remaining := len(renewer.callbacks)
	renewer.mu.Unlock()
	must.Eq(t, 1, remaining)

	cancel()
	select {
	case err := <-errCh:
		must.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("renewer did not stop on context cancellation")
	}
}

func TestRetryDelay(t *testing.T) {
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
		must.Eq(t, want, retryDelay(attempt))
	}
}
