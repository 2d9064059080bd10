package port

import "context"

type CacheRepository interface {
	// SetStock mirrors a component's committed stock level. The write is
	// skipped, returning false, when the mirror already holds a newer version.
	SetStock(ctx context.Context, componentID int64, stock int, version int64) (bool, error)

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency removes an idempotency key so the request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error
}
