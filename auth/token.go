// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Token purposes, as issued by wazo-auth. Internal and external API tokens
// are granted admin-equivalent read scope within their tenant.
const (
	PurposeUser        = "user"
	PurposeInternal    = "internal"
	PurposeExternalAPI = "external_api"
)

// utcExpiresAtLayout is the naive ISO-8601 format wazo-auth uses for
// utc_expires_at. The value carries no zone and is always UTC.
const utcExpiresAtLayout = "2006-01-02T15:04:05.999999"

// Token is one wazo-auth token lookup. Values are immutable; a renewal is a
// new Token.
type Token struct {
	ID           string
	UserUUID     string
	TenantUUID   string
	SessionUUID  string
	ACL          []string
	Purpose      string
	Admin        bool
	UTCExpiresAt time.Time
}

// IsAdminEquivalent reports whether the token grants tenant-wide read scope:
// a master-tenant user, an explicit admin, or a service token.
func (t *Token) IsAdminEquivalent(masterTenantUUID string) bool {
	if masterTenantUUID != "" && t.TenantUUID == masterTenantUUID {
		return true
	}
	if t.Admin {
		return true
	}
	return t.Purpose == PurposeInternal || t.Purpose == PurposeExternalAPI
}

type tokenEnvelope struct {
	Data tokenWire `json:"data"`
}

type tokenWire struct {
	Token        string        `json:"token"`
	SessionUUID  string        `json:"session_uuid"`
	ACL          []string      `json:"acl"`
	UTCExpiresAt string        `json:"utc_expires_at"`
	Metadata     tokenMetadata `json:"metadata"`
}

type tokenMetadata struct {
	UUID       string `json:"uuid"`
	TenantUUID string `json:"tenant_uuid"`
	Purpose    string `json:"purpose"`
	Admin      bool   `json:"admin"`
}

// decodeToken parses a wazo-auth token response body ({"data": {...}}).
func decodeToken(r io.Reader) (*Token, error) {
	var envelope tokenEnvelope
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	return envelope.Data.toToken()
}

func (w *tokenWire) toToken() (*Token, error) {
	token := &Token{
		ID:          w.Token,
		UserUUID:    w.Metadata.UUID,
		TenantUUID:  w.Metadata.TenantUUID,
		SessionUUID: w.SessionUUID,
		ACL:         w.ACL,
		Purpose:     w.Metadata.Purpose,
		Admin:       w.Metadata.Admin,
	}
	if w.UTCExpiresAt != "" {
		expiresAt, err := time.Parse(utcExpiresAtLayout, w.UTCExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("parsing token utc_expires_at: %w", err)
		}
		token.UTCExpiresAt = expiresAt.UTC()
	}
	return token, nil
}
