package store

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"time"

	"github.com/phrazzld/improvements-api/internal/domain"
)

// cursorVersion is bumped whenever the token layout changes. Tokens carrying
// any other version are rejected with ErrInvalidCursor.
const cursorVersion = 1

// Cursor marks a gap between two adjacent entries of the newest-first order
// (last_updated DESC, id ASC). The gap sits immediately after the entry
// identified by (LastUpdated, ID) when After is set, and immediately before it
// otherwise. Because a gap has a neighbour on each side, the same cursor can
// resume a scan in either direction.
type Cursor struct {
	LastUpdated time.Time
	ID          string
	After       bool
	// Filter is the fingerprint of the filter the cursor was issued for.
	Filter string
}

type cursorToken struct {
	V  int    `json:"v"`
	T  int64  `json:"t"`
	ID string `json:"id"`
	A  bool   `json:"a,omitempty"`
	F  string `json:"f"`
}

// CursorPast returns the cursor for the gap just past last, for a scan that
// returned last as its final entry in the given direction.
func CursorPast(last *domain.TaskEntry, newestFirst bool, filter TaskEntryFilter) Cursor {
	return Cursor{
		LastUpdated: last.LastUpdated.UTC().Truncate(time.Microsecond),
		ID:          last.ID,
		After:       newestFirst,
		Filter:      filter.Fingerprint(),
	}
}

// Encode returns the URL-safe token for c.
func (c Cursor) Encode() string {
	raw, err := json.Marshal(cursorToken{
		V:  cursorVersion,
		T:  c.LastUpdated.UnixMicro(),
		ID: c.ID,
		A:  c.After,
		F:  c.Filter,
	})
	if err != nil {
		// cursorToken only holds strings, ints and bools.
		panic(fmt.Sprintf("encode cursor: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a token produced by Cursor.Encode.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed encoding", ErrInvalidCursor)
	}

	var tok cursorToken
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&tok); err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed payload", ErrInvalidCursor)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Cursor{}, fmt.Errorf("%w: trailing data", ErrInvalidCursor)
	}
	if tok.V != cursorVersion {
		return Cursor{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidCursor, tok.V)
	}
	if tok.ID == "" || tok.F == "" {
		return Cursor{}, fmt.Errorf("%w: incomplete position", ErrInvalidCursor)
	}

	return Cursor{
		LastUpdated: time.UnixMicro(tok.T).UTC(),
		ID:          tok.ID,
		After:       tok.A,
		Filter:      tok.F,
	}, nil
}

// Admits reports whether an entry lies beyond the cursor's gap when scanning
// in the given direction.
func (c Cursor) Admits(entry *domain.TaskEntry, newestFirst bool) bool {
	cmp := CompareNewestFirst(entry.LastUpdated, entry.ID, c.LastUpdated, c.ID)
	switch {
	case newestFirst && c.After:
		return cmp > 0
	case newestFirst:
		return cmp >= 0
	case c.After:
		return cmp <= 0
	default:
		return cmp < 0
	}
}

// CompareNewestFirst orders two sort keys by (last_updated DESC, id ASC).
// It returns -1 when a comes first, 1 when b comes first and 0 when equal.
// Timestamps are compared at microsecond precision, matching storage.
func CompareNewestFirst(aUpdated time.Time, aID string, bUpdated time.Time, bID string) int {
	at, bt := aUpdated.UnixMicro(), bUpdated.UnixMicro()
	switch {
	case at > bt:
		return -1
	case at < bt:
		return 1
	}
	return strings.Compare(aID, bID)
}

// Fingerprint identifies the filter so that cursors cannot be replayed
// against a different query.
func (f TaskEntryFilter) Fingerprint() string {
	h := fnv.New64a()
	for _, part := range []string{string(f.EntityType), f.EntityID, string(f.Status)} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
