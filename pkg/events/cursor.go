package events

import (
	"fmt"
	"strconv"
	"strings"
)

// Scope discriminates which stream a cursor addresses.
type Scope string

const (
	ScopeTarget Scope = "t"
	ScopeJob    Scope = "j"
)

// Cursor identifies a position within one stream: "v1:<t|j>:<id>:<seq>".
type Cursor struct {
	Scope Scope
	ID    string
	Seq   uint64
}

// MakeCursor builds the opaque cursor string for (scope, id, seq).
func MakeCursor(scope Scope, id string, seq uint64) string {
	return fmt.Sprintf("v1:%s:%s:%d", scope, id, seq)
}

func (c Cursor) String() string {
	return MakeCursor(c.Scope, c.ID, c.Seq)
}

// ParseCursor parses a cursor string produced by MakeCursor.
func ParseCursor(s string) (Cursor, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 || parts[0] != "v1" {
		return Cursor{}, fmt.Errorf("events: malformed cursor %q", s)
	}
	scope := Scope(parts[1])
	if scope != ScopeTarget && scope != ScopeJob {
		return Cursor{}, fmt.Errorf("events: malformed cursor %q: unknown scope %q", s, parts[1])
	}
	if parts[2] == "" {
		return Cursor{}, fmt.Errorf("events: malformed cursor %q: empty id", s)
	}
	seq, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("events: malformed cursor %q: %w", s, err)
	}
	return Cursor{Scope: scope, ID: parts[2], Seq: seq}, nil
}
