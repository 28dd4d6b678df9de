// Package cursor encodes "resume reading after this ordering position" as an
// opaque continuation token. Both the follow-graph listings and the timeline
// reads page with it: the token carries an ordering value plus a tiebreak row
// ID, never row content, so tampering cannot widen what a caller may read.
package cursor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Key is an ordering position. Ord is the ordering value the previous page
// stopped at (Unix microseconds for both edges and timeline entries) and ID
// is the row identifier used to break ties deterministically.
type Key struct {
	Ord int64
	ID  int64
}

// ErrInvalid is returned when a token is malformed or tampered with.
// Callers either restart from the beginning or reject the request,
// depending on configuration; they never crash.
var ErrInvalid = errors.New("invalid cursor")

const version = "v1"

// Encode converts a key into an opaque token, stable across restarts.
func Encode(k Key) string {
	raw := fmt.Sprintf("%s:%d:%d", version, k.Ord, k.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a token produced by Encode. Round-trips exactly for any key.
func Decode(token string) (Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Key{}, fmt.Errorf("%w: not base64url", ErrInvalid)
	}

	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] != version {
		return Key{}, ErrInvalid
	}

	ord, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w: bad ordering value", ErrInvalid)
	}

	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w: bad tiebreak id", ErrInvalid)
	}

	return Key{Ord: ord, ID: id}, nil
}
