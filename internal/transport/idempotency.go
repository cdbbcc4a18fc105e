package transport

import (
	"context"
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/integration-service/internal/domain"
)

// IdempotencyKey derives a stable key from the platform, the operation, the
// ticket or message identity and a digest of the payload.
func IdempotencyKey(platform domain.Platform, op domain.Operation, identity string, payload []byte) string {
	hasher, _ := blake2b.New256(nil)
	digest := blake2b.Sum256(payload)
	for _, part := range [][]byte{[]byte(platform), []byte(op), []byte(identity), digest[:]} {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(part)))
		hasher.Write(length[:])
		hasher.Write(part)
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey attaches key to ctx for the adapter that builds requests.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKeyFrom returns the key attached to ctx, if any.
func IdempotencyKeyFrom(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	return key
}

// SubKey derives the key of a dependent sub-call, e.g. an attachment upload
// issued after a ticket is created. An empty parent yields an empty key.
func SubKey(parent string, parts ...string) string {
	if parent == "" {
		return ""
	}
	payload := []byte(parent)
	for _, p := range parts {
		payload = append(payload, 0)
		payload = append(payload, p...)
	}
	digest := blake2b.Sum256(payload)
	return hex.EncodeToString(digest[:])
}
