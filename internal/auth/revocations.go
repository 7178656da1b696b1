package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations is a Redis-backed list of tokens revoked before they expire.
// A nil *Revocations revokes nothing.
type Revocations struct {
	client *redis.Client
}

func NewRevocations(client *redis.Client) *Revocations {
	if client == nil {
		return nil
	}
	return &Revocations{client: client}
}

// tokens are stored hashed so the raw bearer value never sits in Redis
func revocationKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "revdoc:revoked:" + hex.EncodeToString(sum[:])
}

// Revoke marks raw as revoked for ttl, which should cover its remaining lifetime.
func (r *Revocations) Revoke(ctx context.Context, raw string, ttl time.Duration) error {
	if r == nil {
		return nil
	}
	return r.client.Set(ctx, revocationKey(raw), "1", ttl).Err()
}

func (r *Revocations) IsRevoked(ctx context.Context, raw string) (bool, error) {
	if r == nil {
		return false, nil
	}
	n, err := r.client.Exists(ctx, revocationKey(raw)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
