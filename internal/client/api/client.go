// Package api contains the transport contract the sync engine talks to the
// backend through, and its HTTP implementation.
//
// Common failure conditions are exposed as sentinel errors from
// internal/common that callers match with errors.Is: ErrUnauthorized aborts
// the cycle and stops the scheduler, ErrUnavailable is retried with backoff,
// ErrValidation and ErrInvalidTable are never retried.
package api

import (
	"context"

	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// Client is the transport-agnostic contract for the sync endpoints.
type Client interface {
	// Pull fetches rows of table changed since lastSync.
	Pull(ctx context.Context, table string, lastSync int64, deviceID string) (*wire.PullResponse, error)

	// Push submits one batch of pending rows for table.
	Push(ctx context.Context, table string, data []wire.Record, deviceID string) (*wire.PushResponse, error)

	// Ping probes server reachability without authentication.
	Ping(ctx context.Context) error
}

// CredentialProvider supplies the bearer credential attached to sync
// requests. Authentication itself happens elsewhere; the engine only
// consumes the token.
type CredentialProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticCredentials is a CredentialProvider around a fixed token.
type StaticCredentials string

func (s StaticCredentials) AccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}
