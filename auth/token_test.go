// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/shoenig/test/must"
)

const tokenResponse = `{
  "data": {
    "token": "my-token-id",
    "session_uuid": "11111111-1111-4111-a111-111111111111",
    "acl": ["websocketd", "event.#"],
    "utc_expires_at": "2026-01-02T03:04:05.678901",
    "metadata": {
      "uuid": "22222222-2222-4222-a222-222222222222",
      "tenant_uuid": "33333333-3333-4333-a333-333333333333",
      "purpose": "user",
      "admin": false
    }
  }
}`

func TestDecodeToken(t *testing.T) {
	t.Parallel()

	token, err := decodeToken(strings.NewReader(tokenResponse))
	must.NoError(t, err)

	must.Eq(t, "my-token-id", token.ID)
	must.Eq(t, "22222222-2222-4222-a222-222222222222", token.UserUUID)
	must.Eq(t, "33333333-3333-4333-a333-333333333333", token.TenantUUID)
	must.Eq(t, "11111111-1111-4111-a111-111111111111", token.SessionUUID)
	must.Eq(t, []string{"websocketd", "event.#"}, token.ACL)
	must.Eq(t, PurposeUser, token.Purpose)
	must.False(t, token.Admin)

	want := time.Date(2026, 1, 2, 3, 4, 5, 678901000, time.UTC)
	must.True(t, token.UTCExpiresAt.Equal(want))
}

func TestDecodeToken_badExpiry(t *testing.T) {
	t.Parallel()

	body := `{"data": {"token": "t", "utc_expires_at": "not-a-date"}}`
	_, err := decodeToken(strings.NewReader(body))
	must.Error(t, err)
}

func TestToken_IsAdminEquivalent(t *testing.T) {
	t.Parallel()

	const masterTenant = "33333333-3333-4333-a333-333333333333"

	cases := []struct {
		name   string
		token  Token
		master string
		expect bool
	}{
		{
			name:   "master tenant user",
			token:  Token{TenantUUID: masterTenant, Purpose: PurposeUser},
			master: masterTenant,
			expect: true,
		},
		{
			name:   "admin flag",
			token:  Token{TenantUUID: "other", Purpose: PurposeUser, Admin: true},
			master: masterTenant,
			expect: true,
		},
		{
			name:   "internal purpose",
			token:  Token{TenantUUID: "other", Purpose: PurposeInternal},
			master: masterTenant,
			expect: true,
		},
		{
			name:   "external api purpose",
			token:  Token{TenantUUID: "other", Purpose: PurposeExternalAPI},
			master: masterTenant,
			expect: true,
		},
		{
			name:   "regular user",
			token:  Token{TenantUUID: "other", Purpose: PurposeUser},
			master: masterTenant,
			expect: false,
		},
		{
			name:   "unknown master tenant never matches",
			token:  Token{TenantUUID: "", Purpose: PurposeUser},
			master: "",
			expect: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			must.Eq(t, tc.expect, tc.token.IsAdminEquivalent(tc.master))
		})
	}
}
