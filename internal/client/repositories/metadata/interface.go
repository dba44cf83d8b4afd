// Package metadata stores small engine state on the client: per-table pull
// watermarks, the device identity and id allocation floors.
package metadata

import "context"

// Repository is a string key/value store. Get returns an empty string for
// absent keys; absence and emptiness are equivalent for every stored value.
type Repository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
