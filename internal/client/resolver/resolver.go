// Package resolver decides which of a local and a remote version of a
// record survives a sync conflict. Resolution is pure: inputs are never
// mutated and the decision depends only on the two records and the strategy.
package resolver

import (
	"fmt"

	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// Strategy selects the decision rule applied per record.
type Strategy int

const (
	// LastWriteWins elects the record with the greater timestamp; ties go
	// to the remote side. Default.
	LastWriteWins Strategy = iota

	// ClientWins keeps the local record unconditionally.
	ClientWins

	// ServerWins keeps the remote record unconditionally.
	ServerWins

	// Manual produces a synthetic combined record flagged as unresolved;
	// the caller emits an event and leaves local state untouched.
	Manual
)

func (s Strategy) String() string {
	switch s {
	case LastWriteWins:
		return "last-write-wins"
	case ClientWins:
		return "client-wins"
	case ServerWins:
		return "server-wins"
	case Manual:
		return "manual"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "last-write-wins", "lww":
		return LastWriteWins, nil
	case "client-wins":
		return ClientWins, nil
	case "server-wins":
		return ServerWins, nil
	case "manual":
		return Manual, nil
	default:
		return LastWriteWins, fmt.Errorf("unknown conflict strategy %q", s)
	}
}

// Outcome is the resolution verdict for one record.
type Outcome struct {
	// Winner is the surviving record. For Manual outcomes it is the
	// synthetic combined record, not a side.
	Winner *wire.Record

	// RemoteWon reports that the remote side must be applied locally.
	RemoteWon bool

	// Unresolved marks a Manual outcome awaiting external resolution.
	Unresolved bool
}

// DefaultTimestampField is the record field compared by LastWriteWins.
const DefaultTimestampField = "updatedAt"

// Resolve picks the surviving record. Either side may be nil (absent); the
// present side then wins unconditionally regardless of strategy. A remote
// tombstone dominates only when strictly newer than the local record,
// otherwise the local mutation wins and the tombstone is discarded.
func Resolve(local, remote *wire.Record, strategy Strategy, timestampField string) Outcome {
	if local == nil && remote == nil {
		return Outcome{}
	}
	if local == nil {
		return Outcome{Winner: remote, RemoteWon: true}
	}
	if remote == nil {
		return Outcome{Winner: local}
	}

	switch strategy {
	case ClientWins:
		return Outcome{Winner: local}
	case ServerWins:
		return Outcome{Winner: remote, RemoteWon: true}
	case Manual:
		return Outcome{Winner: combine(local, remote), Unresolved: true}
	}

	lts := timestampOf(local, timestampField)
	rts := timestampOf(remote, timestampField)

	if remote.Deleted {
		// delete dominance requires strictly newer
		if rts > lts {
			return Outcome{Winner: remote, RemoteWon: true}
		}
		return Outcome{Winner: local}
	}

	if rts >= lts {
		return Outcome{Winner: remote, RemoteWon: true}
	}
	return Outcome{Winner: local}
}

// timestampOf reads the comparison timestamp, falling back to the record
// envelope when the configured field is absent or not numeric.
func timestampOf(rec *wire.Record, field string) int64 {
	if field == "" || field == DefaultTimestampField {
		return rec.UpdatedAt
	}
	switch v := rec.Fields[field].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return rec.UpdatedAt
	}
}

// combine builds the synthetic unresolved record for the Manual strategy.
// Both sides are cloned so the combined record never aliases the inputs.
func combine(local, remote *wire.Record) *wire.Record {
	ts := local.UpdatedAt
	if remote.UpdatedAt > ts {
		ts = remote.UpdatedAt
	}
	return &wire.Record{
		ID:        local.ID,
		UpdatedAt: ts,
		Fields: map[string]any{
			"unresolved": true,
			"local":      local.Clone().Fields,
			"remote":     remote.Clone().Fields,
		},
	}
}
