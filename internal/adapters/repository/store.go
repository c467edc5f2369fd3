// Package repository keeps the history of applied dashboard views.
package repository

import (
	"context"
	"time"

	"github.com/okian/torturbo/internal/domain/circuit"
)

// Snapshot is one applied view as it was displayed.
type Snapshot struct {
	RequestID string
	Seq       uint64
	State     string // "ready" or "failed"
	Error     string
	At        time.Time
	Circuits  []circuit.Circuit // empty for failed snapshots
}

// Point is the RTT of one circuit position in one snapshot.
type Point struct {
	RequestID string
	Seq       uint64
	At        time.Time
	RTT       circuit.RTT
}

// Store provides append and read access to the view history.
type Store interface {
	// Save appends s. Saving a request id that is already stored is a no-op.
	Save(ctx context.Context, s Snapshot) error

	// Recent returns up to limit snapshots, newest first.
	Recent(ctx context.Context, limit int) ([]Snapshot, error)

	// Series returns up to limit RTT points for the circuit at ordinal,
	// newest first. Returns ErrNotFound if no stored snapshot has it.
	Series(ctx context.Context, ordinal, limit int) ([]Point, error)

	// Count returns the number of stored snapshots.
	Count(ctx context.Context) int

	// Close releases resources. Further calls return ErrClosed.
	Close() error
}

func validate(limit int) error {
	if limit <= 0 {
		return ErrInvalidLimit
	}
	return nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	if s.Circuits != nil {
		cs := make([]circuit.Circuit, len(s.Circuits))
		copy(cs, s.Circuits)
		s.Circuits = cs
	}
	return s
}
