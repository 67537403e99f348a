package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"itemescrow/core/events"
	"itemescrow/core/types"
)

// MaxRecent bounds the number of entries returned by Recent.
const MaxRecent = 500

// ErrInvalidLimit is returned by Recent for a limit outside [1, MaxRecent].
var ErrInvalidLimit = errors.New("eventlog: limit out of range")

// Entry is one persisted event record.
type Entry struct {
	ID         string            `json:"id"`
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Store is an append-only audit log of committed ledger events backed by
// SQLite. It implements events.Emitter so it can be attached to the engine.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time
}

var _ events.Emitter = (*Store)(nil)

// Open opens or creates the audit log at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers; SQLite allows one at a time.
	db.SetMaxOpenConns(1)
	if logger == nil {
		logger = slog.Default()
	}
	store := &Store{db: db, logger: logger.With(slog.String("component", "eventlog")), nowFn: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            type TEXT NOT NULL,
            attributes TEXT NOT NULL,
            recorded_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS events_type_idx ON events(type);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("eventlog: init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append persists evt and returns the stored entry.
func (s *Store) Append(ctx context.Context, evt *types.Event) (Entry, error) {
	if evt == nil || evt.Type == "" {
		return Entry{}, fmt.Errorf("eventlog: event type required")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return Entry{}, fmt.Errorf("eventlog: encode attributes: %w", err)
	}
	entry := Entry{
		ID:         uuid.NewString(),
		Type:       evt.Type,
		Attributes: cloneAttrs(attrs),
		RecordedAt: s.nowFn().UTC().Truncate(time.Millisecond),
	}
	const stmt = `INSERT INTO events(id, type, attributes, recorded_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, stmt, entry.ID, entry.Type, string(payload), entry.RecordedAt.UnixMilli())
	if err != nil {
		return Entry{}, fmt.Errorf("eventlog: insert: %w", err)
	}
	if entry.Sequence, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("eventlog: sequence: %w", err)
	}
	return entry, nil
}

// Emit implements events.Emitter. Events are committed before they reach the
// emitter, so a failed insert is logged rather than propagated.
func (s *Store) Emit(evt events.Event) {
	record, ok := evt.(events.Record)
	if !ok || record.Event() == nil {
		s.logger.Warn("dropping event without record", slog.String("event", evt.EventType()))
		return
	}
	if _, err := s.Append(context.Background(), record.Event()); err != nil {
		s.logger.Error("append audit event failed", slog.String("event", evt.EventType()), slog.Any("error", err))
	}
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > MaxRecent {
		return nil, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidLimit, MaxRecent)
	}
	const query = `SELECT sequence, id, type, attributes, recorded_at FROM events ORDER BY sequence DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry   Entry
			payload string
			millis  int64
		)
		if err := rows.Scan(&entry.Sequence, &entry.ID, &entry.Type, &payload, &millis); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("eventlog: decode attributes of %s: %w", entry.ID, err)
		}
		entry.RecordedAt = time.UnixMilli(millis).UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func cloneAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
