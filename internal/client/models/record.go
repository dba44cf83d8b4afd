// Package models defines the client-side view of a synchronized record.
package models

import "github.com/dmitrijs2005/bizkeeper/internal/wire"

// Record is one locally stored row. Domain fields are opaque to the engine;
// CRUD modules read and write them, the engine only moves them around.
//
// ServerLastModified is the server timestamp echoed by the last successful
// push or pull that touched this row. It never exceeds UpdatedAt rewinds:
// the server may advance time, never rewind it.
type Record struct {
	ID                 int64
	Fields             map[string]any
	UpdatedAt          int64 // milliseconds since epoch, stamped by the writer
	ServerLastModified int64
	SyncStatus         wire.SyncStatus
}

// Pending reports whether the row awaits server acknowledgement.
func (r *Record) Pending() bool {
	return r.SyncStatus != wire.StatusSynced
}

// ToWire converts the record to its wire envelope for a push payload.
func (r *Record) ToWire() *wire.Record {
	return &wire.Record{
		ID:         r.ID,
		UpdatedAt:  r.UpdatedAt,
		SyncStatus: r.SyncStatus,
		Fields:     r.Fields,
	}
}

// FromWire converts a pulled wire record into a local row marked synced.
func FromWire(w *wire.Record) *Record {
	return &Record{
		ID:                 w.ID,
		Fields:             w.Fields,
		UpdatedAt:          w.UpdatedAt,
		ServerLastModified: w.UpdatedAt,
		SyncStatus:         wire.StatusSynced,
	}
}
