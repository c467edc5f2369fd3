package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/torturbo/internal/domain/circuit"
	"github.com/okian/torturbo/pkg/metrics"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots(
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL UNIQUE,
	seq        INTEGER NOT NULL,
	state      TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS circuit_rtts(
	snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	ordinal     INTEGER NOT NULL,
	rtt         TEXT NOT NULL,
	PRIMARY KEY(snapshot_id, ordinal)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_seq ON snapshots(seq, id);
CREATE INDEX IF NOT EXISTS idx_circuit_rtts_ordinal ON circuit_rtts(ordinal, snapshot_id);
`

// SQLiteStore persists snapshots in a SQLite file through the pure Go
// modernc.org/sqlite driver.
type SQLiteStore struct {
	db       *sql.DB
	capacity int
	closed   atomic.Bool
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	c := newConfig(opts)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", path, c.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &SQLiteStore{db: db, capacity: c.capacity}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	if s.closed.Load() {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO snapshots(request_id, seq, state, error, ts) VALUES(?,?,?,?,?)`,
		snap.RequestID, int64(snap.Seq), snap.State, snap.Error, snap.At.UnixNano())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("snapshot id: %w", err)
	}

	for _, c := range snap.Circuits {
		rtt, err := json.Marshal(c.RTT)
		if err != nil {
			return fmt.Errorf("encode rtt: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO circuit_rtts(snapshot_id, ordinal, rtt) VALUES(?,?,?)`,
			id, c.Ordinal, string(rtt)); err != nil {
			return fmt.Errorf("insert rtt: %w", err)
		}
	}

	// keep the highest sequences, whatever order they were written in
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY seq DESC, id DESC LIMIT ?)`, s.capacity); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return tx.Commit()
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	if err := validate(limit); err != nil {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, seq, state, error, ts FROM snapshots ORDER BY seq DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var (
		out   []Snapshot
		index = make(map[int64]int)
		minID int64
	)
	for rows.Next() {
		var (
			id   int64
			seq  int64
			ts   int64
			snap Snapshot
		)
		if err := rows.Scan(&id, &snap.RequestID, &seq, &snap.State, &snap.Error, &ts); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Seq = uint64(seq)
		snap.At = time.Unix(0, ts)
		index[id] = len(out)
		if minID == 0 || id < minID {
			minID = id
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	if len(out) == 0 {
		return []Snapshot{}, nil
	}

	if err := s.loadCircuits(ctx, out, index, minID); err != nil {
		return nil, err
	}
	return out, nil
}

// loadCircuits fills the circuits of out, whose smallest snapshot id is minID.
func (s *SQLiteStore) loadCircuits(ctx context.Context, out []Snapshot, index map[int64]int, minID int64) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_id, ordinal, rtt FROM circuit_rtts
		 WHERE snapshot_id >= ? ORDER BY snapshot_id, ordinal`, minID)
	if err != nil {
		return fmt.Errorf("query rtts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			ordinal int
			raw     string
		)
		if err := rows.Scan(&id, &ordinal, &raw); err != nil {
			return fmt.Errorf("scan rtt: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		var rtt circuit.RTT
		if err := json.Unmarshal([]byte(raw), &rtt); err != nil {
			return fmt.Errorf("decode rtt: %w", err)
		}
		out[i].Circuits = append(out[i].Circuits, circuit.Circuit{Ordinal: ordinal, RTT: rtt})
	}
	return rows.Err()
}

// Series implements Store.
func (s *SQLiteStore) Series(ctx context.Context, ordinal, limit int) ([]Point, error) {
	if ordinal < 1 {
		return nil, ErrInvalidOrdinal
	}
	if err := validate(limit); err != nil {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT s.request_id, s.seq, s.ts, r.rtt
		 FROM circuit_rtts r JOIN snapshots s ON s.id = r.snapshot_id
		 WHERE r.ordinal = ?
		 ORDER BY s.seq DESC, s.id DESC LIMIT ?`, ordinal, limit)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		var (
			p   Point
			seq int64
			ts  int64
			raw string
		)
		if err := rows.Scan(&p.RequestID, &seq, &ts, &raw); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &p.RTT); err != nil {
			return nil, fmt.Errorf("decode rtt: %w", err)
		}
		p.Seq = uint64(seq)
		p.At = time.Unix(0, ts)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate series: %w", err)
	}
	if len(out) == 0 {
		metrics.RecordErrorByComponent("repository", "not_found")
		return nil, ErrNotFound
	}
	return out, nil
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context) int {
	if s.closed.Load() {
		return 0
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			metrics.RecordErrorByComponent("repository", "count")
		}
		return 0
	}
	return n
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	return s.db.Close()
}
