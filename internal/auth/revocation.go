package auth

import (
	"context"
	"time"
)

// RevocationStore is a TTL-bounded denylist of token ids. Entries expire with
// the token they shadow, so the store self-prunes.
type RevocationStore interface {
	Mark(ctx context.Context, tokenID string, ttl time.Duration) error
	IsMarked(ctx context.Context, tokenID string) (bool, error)
}
