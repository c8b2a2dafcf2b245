// Package pagination implements the keyset cursors used by list endpoints.
//
// A cursor packs the sort time of the last item (unix millis) and a
// tiebreaker (usually a CID or URI) as "millis__tiebreaker".
package pagination

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	separator = "__"

	// deprecatedSeparator was used by the keyword feed generator before
	// cursors moved to the keyset format.
	deprecatedSeparator = "::"
)

// DefaultLimit and MaxLimit bound page sizes.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Keyset is the unpacked form of a cursor.
type Keyset struct {
	SortAt     time.Time
	Tiebreaker string
}

// ClearlyBad reports whether cursor is recognisably from a deprecated format.
// Such cursors yield an empty page without reaching the data plane.
func ClearlyBad(cursor string) bool {
	return strings.Contains(cursor, deprecatedSeparator)
}

// Invalid reports whether cursor cannot page anything: it is clearly bad or
// does not unpack. The empty cursor is valid.
func Invalid(cursor string) bool {
	if ClearlyBad(cursor) {
		return true
	}
	_, _, err := Unpack(cursor)
	return err != nil
}

// Pack encodes a keyset cursor.
func Pack(sortAt time.Time, tiebreaker string) string {
	return fmt.Sprintf("%d%s%s", sortAt.UnixMilli(), separator, tiebreaker)
}

// Unpack decodes a cursor produced by Pack. An empty cursor returns
// ok == false with no error.
func Unpack(cursor string) (Keyset, bool, error) {
	if cursor == "" {
		return Keyset{}, false, nil
	}
	parts := strings.Split(cursor, separator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Keyset{}, false, fmt.Errorf("malformed cursor %q", cursor)
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Keyset{}, false, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}
	return Keyset{SortAt: time.UnixMilli(millis).UTC(), Tiebreaker: parts[1]}, true, nil
}

// Limit clamps a requested page size into [1, MaxLimit], using
// DefaultLimit for zero or negative requests.
func Limit(requested int) int {
	switch {
	case requested <= 0:
		return DefaultLimit
	case requested > MaxLimit:
		return MaxLimit
	default:
		return requested
	}
}
