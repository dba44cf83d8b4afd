// Package wire defines the JSON contract shared by the sync client and the
// sync server: record envelopes, pull/push payloads and their validation
// rules. Domain fields are opaque to the engine and travel flattened at the
// top level of each record object.
package wire

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// SyncStatus describes the pending state of a record. On the wire only
// StatusPendingPush and StatusPendingDelete appear (push payloads); pulled
// rows are implicitly synced.
type SyncStatus int

const (
	StatusSynced        SyncStatus = 0
	StatusPendingPush   SyncStatus = 1
	StatusPendingDelete SyncStatus = 2
)

// String implements fmt.Stringer for logs.
func (s SyncStatus) String() string {
	switch s {
	case StatusSynced:
		return "synced"
	case StatusPendingPush:
		return "pendingPush"
	case StatusPendingDelete:
		return "pendingDelete"
	default:
		return fmt.Sprintf("syncStatus(%d)", int(s))
	}
}

// Reserved top-level keys of a record object. Everything else is treated as
// an opaque domain field.
const (
	keyID         = "id"
	keyUpdatedAt  = "updatedAt"
	keySyncStatus = "syncStatus"
	keyDeleted    = "deleted"
)

// Record is one sync envelope: identity, modification time, pending state
// and the opaque domain payload.
type Record struct {
	ID         int64
	UpdatedAt  int64 // milliseconds since epoch
	SyncStatus SyncStatus
	Deleted    bool // remote tombstone marker (pull only)
	Fields     map[string]any
}

// Clone returns a deep-enough copy: the Fields map is copied, values are
// shared (they are never mutated by the engine).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Fields != nil {
		out.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return &out
}

// MarshalJSON flattens domain fields next to the reserved keys.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		m[k] = v
	}
	m[keyID] = r.ID
	m[keyUpdatedAt] = r.UpdatedAt
	if r.SyncStatus != StatusSynced {
		m[keySyncStatus] = int(r.SyncStatus)
	}
	if r.Deleted {
		m[keyDeleted] = true
	}
	return json.Marshal(m)
}

// UnmarshalJSON extracts the reserved keys and keeps the rest as domain fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	*r = Record{Fields: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case keyID:
			n, err := toInt64(v)
			if err != nil {
				return fmt.Errorf("record id: %w", err)
			}
			r.ID = n
		case keyUpdatedAt:
			n, err := toInt64(v)
			if err != nil {
				return fmt.Errorf("record updatedAt: %w", err)
			}
			r.UpdatedAt = n
		case keySyncStatus:
			n, err := toInt64(v)
			if err != nil {
				return fmt.Errorf("record syncStatus: %w", err)
			}
			r.SyncStatus = SyncStatus(n)
		case keyDeleted:
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("record deleted: expected bool, got %T", v)
			}
			r.Deleted = b
		default:
			r.Fields[k] = v
		}
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// PullResponse is the body of a successful GET /sync/pull.
type PullResponse struct {
	Success                 bool     `json:"success"`
	Data                    []Record `json:"data"`
	ServerLastSyncTimestamp int64    `json:"serverLastSyncTimestamp"`
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	Table    string   `json:"table"`
	Data     []Record `json:"data"`
	DeviceID string   `json:"deviceId"`
}

// PushResponse is the body of a successful POST /sync/push.
type PushResponse struct {
	Success         bool    `json:"success"`
	ProcessedIDs    []int64 `json:"processedIds"`
	ServerTimestamp int64   `json:"serverTimestamp"`
	Message         string  `json:"message,omitempty"`
}

// ErrorResponse is the body of any non-2xx sync response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Error codes carried in ErrorResponse.Error.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidTable    = "INVALID_TABLE"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeServerError     = "SERVER_ERROR"
)

var tableNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidTableName reports whether name is a syntactically acceptable table
// name. Membership in the syncable whitelist is checked separately by the
// server configuration.
func ValidTableName(name string) bool {
	return tableNameRe.MatchString(name)
}
