// Copyright (c) The Wazo Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package acl

import (
	"slices"
	"strings"
	"testing"

	"github.com/shoenig/test/must"
	"pgregory.net/rapid"
)

// genSegment draws a single pattern segment. Reserved words are excluded so
// the drawn pattern compiles without substitution.
var genSegment = rapid.StringMatching(`[a-z0-9_]{1,12}`).Filter(func(s string) bool {
	return s != "me" && s != "my_session"
})

func TestCheck_PropTest(t *testing.T) {
	t.Parallel()

	t.Run("literal pattern matches itself", rapid.MakeCheck(func(t *rapid.T) {
		segments := rapid.SliceOfN(genSegment, 1, 6).Draw(t, "segments")
		name := strings.Join(segments, ".")

		check := NewCheck(testUserUUID, testSessionUUID, []string{name})
		must.True(t, check.Matches(name), must.Sprintf("%q must grant itself", name))
	}))

	t.Run("deny wins regardless of allows", rapid.MakeCheck(func(t *rapid.T) {
		segments := rapid.SliceOfN(genSegment, 1, 6).Draw(t, "segments")
		name := strings.Join(segments, ".")

		check := NewCheck(testUserUUID, testSessionUUID, []string{name, "#", "!" + name})
		must.False(t, check.Matches(name), must.Sprintf("%q must be denied", name))
	}))

	t.Run("star stands for exactly one segment", rapid.MakeCheck(func(t *rapid.T) {
		segments := rapid.SliceOfN(genSegment, 1, 6).Draw(t, "segments")
		starred := slices.Clone(segments)
		starred[rapid.IntRange(0, len(starred)-1).Draw(t, "star_index")] = "*"

		name := strings.Join(segments, ".")
		check := NewCheck(testUserUUID, testSessionUUID, []string{strings.Join(starred, ".")})
		must.True(t, check.Matches(name))
		must.False(t, check.Matches(name+".extra"))
	}))

	t.Run("trailing hash matches any deeper name", rapid.MakeCheck(func(t *rapid.T) {
		base := rapid.SliceOfN(genSegment, 1, 4).Draw(t, "base")
		extra := rapid.SliceOfN(genSegment, 1, 4).Draw(t, "extra")

		pattern := strings.Join(base, ".") + ".#"
		name := strings.Join(append(append([]string{}, base...), extra...), ".")
		check := NewCheck(testUserUUID, testSessionUUID, []string{pattern})
		must.True(t, check.Matches(name), must.Sprintf("%q must grant %q", pattern, name))
	}))

	t.Run("final me becomes the user uuid", rapid.MakeCheck(func(t *rapid.T) {
		base := strings.Join(rapid.SliceOfN(genSegment, 1, 4).Draw(t, "base"), ".")

		check := NewCheck(testUserUUID, testSessionUUID, []string{base + ".me"})
		must.True(t, check.Matches(base+"."+testUserUUID))
		must.False(t, check.Matches(base+".me"))
	}))
}
