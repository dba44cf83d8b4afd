// Package models defines the server-side persistence types.
package models

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/bizkeeper/internal/wire"
)

// Record is one synchronized row as stored in PostgreSQL. Domain fields are
// kept as a raw JSON document; the server never interprets them. Deleted rows
// stay behind as tombstones so other devices learn about the delete.
type Record struct {
	Table     string
	ID        int64
	UserID    string
	Fields    json.RawMessage
	UpdatedAt int64
	Deleted   bool
	DeletedAt int64
}

// ToWire converts the stored row into its wire envelope.
func (r *Record) ToWire() (*wire.Record, error) {
	w := &wire.Record{
		ID:        r.ID,
		UpdatedAt: r.UpdatedAt,
		Deleted:   r.Deleted,
	}
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &w.Fields); err != nil {
			return nil, fmt.Errorf("corrupt fields document for row %d: %w", r.ID, err)
		}
	}
	return w, nil
}

// FromWire builds a stored row for userID from an incoming wire record.
func FromWire(table, userID string, w *wire.Record) (*Record, error) {
	fields := json.RawMessage(`{}`)
	if len(w.Fields) > 0 {
		var err error
		fields, err = json.Marshal(w.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fields for row %d: %w", w.ID, err)
		}
	}
	return &Record{
		Table:     table,
		ID:        w.ID,
		UserID:    userID,
		Fields:    fields,
		UpdatedAt: w.UpdatedAt,
		Deleted:   w.Deleted,
	}, nil
}
