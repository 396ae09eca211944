// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazo-platform/wazo-websocketd/helper/testlog"
)

// testClient points a Client at an httptest server.
func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return NewClient(&ClientConfig{Host: host, Port: port}, testlog.HCLogger(t))
}

func TestClient_GetToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/0.1/token/my-token-id", r.URL.Path)
		require.Equal(t, "websocketd", r.URL.Query().Get("acl"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenResponse))
	}))
	defer srv.Close()

	token, err := testClient(t, srv).GetToken(context.Background(), "my-token-id", DefaultACL)
	require.NoError(t, err)
	require.Equal(t, "my-token-id", token.ID)
	require.Equal(t, "33333333-3333-4333-a333-333333333333", token.TenantUUID)
}

func TestClient_GetToken_refused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(t, srv).GetToken(context.Background(), "unknown", DefaultACL)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestClient_GetToken_unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := testClient(t, srv)
	srv.Close()

	_, err := client.GetToken(context.Background(), "my-token-id", DefaultACL)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestClient_IsValid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		valid     bool
		expectErr bool
	}{
		{name: "valid", status: http.StatusNoContent, valid: true},
		{name: "unauthorized", status: http.StatusForbidden, valid: false},
		{name: "unknown", status: http.StatusNotFound, valid: false},
		{name: "server error", status: http.StatusInternalServerError, expectErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodHead, r.Method)
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			valid, err := testClient(t, srv).IsValid(context.Background(), "some-token", DefaultACL)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.valid, valid)
		})
	}
}

func TestClient_NewServiceToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/0.1/token", r.URL.Path)

		serviceID, serviceKey, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "wazo-websocketd", serviceID)
		require.Equal(t, "secret", serviceKey)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.EqualValues(t, DefaultTokenExpiration, body["expiration"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(tokenResponse))
	}))
	defer srv.Close()

	key := &ServiceKey{ServiceID: "wazo-websocketd", ServiceKey: "secret"}
	token, err := testClient(t, srv).NewServiceToken(context.Background(), key, DefaultTokenExpiration)
	require.NoError(t, err)
	require.Equal(t, "my-token-id", token.ID)
}
