// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package acl compiles the access patterns carried by an auth token into a
// matcher for the required-ACL strings attached to bus events.
//
// A pattern is a sequence of `.`-separated segments. `*` matches exactly one
// segment, `#` matches any number of segments (including none). The reserved
// segments `me` and `my_session` are substituted with the token's user and
// session UUIDs before compilation. A pattern prefixed with `!` denies; deny
// always wins over allow.
package acl

import (
	"regexp"
	"strings"
)

// Check holds the compiled patterns of one token. Build once per token and
// reuse; matching is cheap, compilation is not.
type Check struct {
	allow []*regexp.Regexp
	deny  []*regexp.Regexp
}

// NewCheck compiles the given access patterns for a user. Invalid glob
// characters cannot occur: everything except `*` and `#` is matched
// literally.
func NewCheck(userUUID, sessionUUID string, patterns []string) *Check {
	c := &Check{}
	for _, pattern := range patterns {
		if negated := strings.TrimPrefix(pattern, "!"); negated != pattern {
			c.deny = append(c.deny, compilePattern(userUUID, sessionUUID, negated))
		} else {
			c.allow = append(c.allow, compilePattern(userUUID, sessionUUID, pattern))
		}
	}
	return c
}

// Matches reports whether requiredACL is granted by the compiled patterns.
func (c *Check) Matches(requiredACL string) bool {
	for _, re := range c.deny {
		if re.MatchString(requiredACL) {
			return false
		}
	}
	for _, re := range c.allow {
		if re.MatchString(requiredACL) {
			return true
		}
	}
	return false
}

// Allows is Matches with "no ACL required" semantics: a nil requiredACL is
// always granted.
func (c *Check) Allows(requiredACL *string) bool {
	if requiredACL == nil {
		return true
	}
	return c.Matches(*requiredACL)
}

func compilePattern(userUUID, sessionUUID, pattern string) *regexp.Regexp {
	pattern = substituteReserved(pattern, "me", userUUID)
	pattern = substituteReserved(pattern, "my_session", sessionUUID)

	expr := regexp.QuoteMeta(pattern)
	expr = strings.ReplaceAll(expr, `\*`, `[^.]*?`)
	// QuoteMeta leaves # alone, it is not a metacharacter.
	expr = strings.ReplaceAll(expr, `#`, `.*?`)
	return regexp.MustCompile("^" + expr + "$")
}

// substituteReserved replaces the reserved word when it stands alone as the
// final segment or as an inner segment. A trailing match takes precedence and
// suppresses inner replacement, mirroring how tokens are issued.
func substituteReserved(pattern, word, value string) string {
	if strings.HasSuffix(pattern, "."+word) {
		return strings.TrimSuffix(pattern, word) + value
	}
	return strings.ReplaceAll(pattern, "."+word+".", "."+value+".")
}
