package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cases := []struct {
		scope Scope
		id    string
		seq   uint64
	}{
		{ScopeTarget, "target-1", 0},
		{ScopeTarget, "target-abc123", 42},
		{ScopeJob, "job-xyz", 999999},
	}

	for _, tc := range cases {
		s := MakeCursor(tc.scope, tc.id, tc.seq)
		got, err := ParseCursor(s)
		require.NoError(t, err)
		assert.Equal(t, tc.scope, got.Scope)
		assert.Equal(t, tc.id, got.ID)
		assert.Equal(t, tc.seq, got.Seq)
	}
}

func TestParseCursorMalformed(t *testing.T) {
	cases := []string{
		"",
		"garbage",
		"v2:t:target-1:5",
		"v1:x:target-1:5",
		"v1:t::5",
		"v1:t:target-1:notanumber",
		"v1:t:target-1",
	}
	for _, s := range cases {
		_, err := ParseCursor(s)
		assert.Error(t, err, "expected error for %q", s)
	}
}
