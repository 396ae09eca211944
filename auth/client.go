// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

// requestTimeout is a fail-safe so a stuck wazo-auth does not pin session
// goroutines forever.
const requestTimeout = 10 * time.Second

// ClientConfig locates the wazo-auth service.
type ClientConfig struct {
	Host   string
	Port   int
	Prefix string
	HTTPS  bool
}

// Client is a minimal wazo-auth REST client covering the three calls the
// daemon makes: token lookup, validity check and service token creation.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     hclog.Logger
}

// NewClient builds a Client from configuration.
func NewClient(cfg *ClientConfig, logger hclog.Logger) *Client {
	scheme := "http"
	if cfg.HTTPS {
		scheme = "https"
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = requestTimeout

	return &Client{
		baseURL:    fmt.Sprintf("%s://%s:%d%s/0.1", scheme, cfg.Host, cfg.Port, cfg.Prefix),
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetToken fetches a token body, requiring the given ACL. Any transport or
// HTTP failure is reported as ErrAuthenticationFailed: wazo-auth gives no
// reliable way to distinguish an unknown token from an unauthorized one.
func (c *Client) GetToken(ctx context.Context, tokenID, acl string) (*Token, error) {
	c.logger.Debug("getting token from wazo-auth")

	endpoint := fmt.Sprintf("%s/token/%s?acl=%s", c.baseURL, url.PathEscape(tokenID), url.QueryEscape(acl))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: wazo-auth replied with status %d", ErrAuthenticationFailed, resp.StatusCode)
	}

	token, err := decodeToken(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return token, nil
}

// IsValid checks a token without fetching its body. A 204 means valid, 401,
// 403 and 404 mean invalid; anything else is a transport error and is
// returned as-is so callers do not confuse an unreachable wazo-auth with an
// expired token.
func (c *Client) IsValid(ctx context.Context, tokenID, acl string) (bool, error) {
	c.logger.Debug("checking token validity from wazo-auth")

	endpoint := fmt.Sprintf("%s/token/%s", c.baseURL, url.PathEscape(tokenID))
	if acl != "" {
		endpoint += "?acl=" + url.QueryEscape(acl)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected status %d from wazo-auth", resp.StatusCode)
	}
}

// NewServiceToken mints a token for the daemon itself, authenticating with
// the service credentials. expiration is in seconds.
func (c *Client) NewServiceToken(ctx context.Context, key *ServiceKey, expiration int) (*Token, error) {
	body, err := json.Marshal(map[string]any{"expiration": expiration})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(key.ServiceID, key.ServiceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: wazo-auth replied with status %d", ErrAuthenticationFailed, resp.StatusCode)
	}

	token, err := decodeToken(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return token, nil
}
