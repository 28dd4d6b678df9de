package service

import (
	"errors"
	"fmt"
	"log"

	"chirpfeed/internal/cursor"
)

// decodeCursor parses an opaque cursor token. In strict mode a malformed
// token is an error; otherwise the page restarts from the beginning, which
// keeps old bookmarked tokens from breaking clients after a format change.
func decodeCursor(token *string, strict bool) (*cursor.Key, error) {
	if token == nil || *token == "" {
		return nil, nil
	}

	key, err := cursor.Decode(*token)
	if err != nil {
		if strict {
			return nil, fmt.Errorf("decode cursor: %w", err)
		}
		if errors.Is(err, cursor.ErrInvalid) {
			log.Printf("[Service] invalid cursor %q, restarting from beginning", *token)
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}
