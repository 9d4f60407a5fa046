package storage

import "context"

// KV is a string key-value store. Get reports a missing key as found=false
// with a nil error; errors are reserved for storage failures.
type KV interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
