// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package websocketd

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shoenig/test/must"

	"github.com/wazo-platform/wazo-websocketd/helper/testlog"
)

func testSessionConfig(t *testing.T) *SessionConfig {
	return &SessionConfig{
		PingInterval:  time.Minute,
		Authenticator: newFakeAuthenticator(testToken("valid-token")),
		Bus:           &fakeBusService{consumer: newFakeBusConsumer()},
		MasterTenant:  func() (string, bool) { return testMasterTenantUUID, true },
		Logger:        testlog.HCLogger(t),
	}
}

func startServer(t *testing.T, srv *Server) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	must.NoError(t, srv.Listen(ctx))

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestServer_AcceptsAnyPath(t *testing.T) {
	t.Parallel()

	srv := NewServer(&Config{Listen: "127.0.0.1"}, testSessionConfig(t), testlog.HCLogger(t))
	startServer(t, srv)

	url := "ws://" + srv.Addr().String() + "/api/websocketd/?token=valid-token&version=2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	must.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	must.Eq(t, `{"op":"init","code":0,"data":{"version":2}}`, readFrame(t, conn))
}

func TestServer_SharedPort(t *testing.T) {
	t.Parallel()

	first := NewServer(&Config{Listen: "127.0.0.1"}, testSessionConfig(t), testlog.HCLogger(t))
	startServer(t, first)

	port := first.Addr().(*net.TCPAddr).Port

	// A sibling worker binds the same port thanks to SO_REUSEPORT.
	second := NewServer(&Config{Listen: "127.0.0.1", Port: port}, testSessionConfig(t), testlog.HCLogger(t))
	startServer(t, second)

	must.Eq(t, port, second.Addr().(*net.TCPAddr).Port)
}

func TestServer_Shutdown(t *testing.T) {
	t.Parallel()

	srv := NewServer(&Config{Listen: "127.0.0.1"}, testSessionConfig(t), testlog.HCLogger(t))
	cancel := startServer(t, srv)

	url := "ws://" + srv.Addr().String() + "/?token=valid-token"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	must.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	readFrame(t, conn) // init

	cancel()

	closeErr := readClose(t, conn)
	must.Eq(t, websocket.CloseGoingAway, closeErr.Code)
}

func TestServer_TLS(t *testing.T) {
	t.Parallel()

	certFile, keyFile := writeTLSKeypair(t)
	cfg := &Config{Listen: "127.0.0.1", Certificate: certFile, PrivateKey: keyFile}
	srv := NewServer(cfg, testSessionConfig(t), testlog.HCLogger(t))
	startServer(t, srv)

	dialer := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	url := "wss://" + srv.Addr().String() + "/?token=valid-token"
	conn, _, err := dialer.Dial(url, nil)
	must.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	must.Eq(t, `{"op":"init","code":0,"data":{"version":1}}`, readFrame(t, conn))
}

func TestServer_TLSBadKeypair(t *testing.T) {
	t.Parallel()

	cfg := &Config{Listen: "127.0.0.1", Certificate: "/nonexistent/cert.pem", PrivateKey: "/nonexistent/key.pem"}
	srv := NewServer(cfg, testSessionConfig(t), testlog.HCLogger(t))

	err := srv.Listen(context.Background())
	must.Error(t, err)
	must.StrContains(t, err.Error(), "tls keypair")
}

func TestRemoteAddr(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:1234"
	must.Eq(t, "192.0.2.10:1234", remoteAddr(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	must.Eq(t, "198.51.100.7", remoteAddr(r))
}

func writeTLSKeypair(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	must.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	must.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	must.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	must.NoError(t, os.WriteFile(certFile, certPEM, 0o600))

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	must.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))

	return certFile, keyFile
}
