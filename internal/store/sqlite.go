// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Runs on modernc.org/sqlite by default or mattn/go-sqlite3 when built with cgo

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by NewSQLiteStoreWithDriver.
const (
	DriverModernc = "sqlite"  // pure Go
	DriverMattn   = "sqlite3" // cgo
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a store at path on the pure-Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(DriverModernc, path)
}

// NewSQLiteStoreWithDriver creates a store at path using driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStoreWithDriver(driver, path string) (*SQLiteStore, error) {
	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets the dispatch router write while the agent reads records.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			window_kind TEXT NOT NULL,
			subject_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			source_id INTEGER NOT NULL DEFAULT 0,
			text TEXT NOT NULL DEFAULT '',
			raw TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_subject ON messages(subject_id, created_at);

		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			raw TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_type ON events(type, created_at);

		CREATE TABLE IF NOT EXISTS plugin_records (
			pie_id TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			config TEXT NOT NULL DEFAULT '{}',
			source TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveMessage inserts msg, assigning an id and timestamp when unset.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO messages (id, type, window_kind, subject_id, sender_id, source_id, text, raw, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.Type,
		msg.WindowKind,
		msg.SubjectID,
		msg.SenderID,
		msg.SourceID,
		msg.Text,
		string(msg.Raw),
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message", "id", msg.ID, "type", msg.Type, "subject_id", msg.SubjectID)
	return nil
}

// SaveEvent inserts evt, assigning an id and timestamp when unset.
func (s *SQLiteStore) SaveEvent(ctx context.Context, evt *Event) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, raw, created_at) VALUES (?, ?, ?, ?)`,
		evt.ID, evt.Type, string(evt.Raw), formatTime(evt.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("saved event", "id", evt.ID, "type", evt.Type)
	return nil
}

// ListMessages returns the newest limit messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, subjectID int64, limit int) ([]*Message, error) {
	query := `
		SELECT id, type, window_kind, subject_id, sender_id, source_id, text, raw, created_at
		FROM messages
		WHERE (? = 0 OR subject_id = ?)
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{subjectID, subjectID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var raw, createdAt string
		if err := rows.Scan(&msg.ID, &msg.Type, &msg.WindowKind, &msg.SubjectID, &msg.SenderID,
			&msg.SourceID, &msg.Text, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msg.Raw = []byte(raw)
		if msg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

// ListEvents returns the newest limit events of typ, oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, typ string, limit int) ([]*Event, error) {
	query := `
		SELECT id, type, raw, created_at
		FROM events
		WHERE (? = '' OR type = ?)
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{typ, typ}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var evt Event
		var raw, createdAt string
		if err := rows.Scan(&evt.ID, &evt.Type, &raw, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		evt.Raw = []byte(raw)
		if evt.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing event created_at: %w", err)
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	slices.Reverse(events)
	return events, nil
}

// SaveOrUpdatePluginRecord upserts rec keyed by pie id.
func (s *SQLiteStore) SaveOrUpdatePluginRecord(ctx context.Context, rec *PluginRecord) error {
	cfg := rec.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding plugin config: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO plugin_records (pie_id, version, enabled, config, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pie_id) DO UPDATE SET
			version = excluded.version,
			enabled = excluded.enabled,
			config = excluded.config,
			source = excluded.source,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.PieID,
		rec.Version,
		boolToInt(rec.Enabled),
		string(cfgJSON),
		rec.Source,
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting plugin record: %w", err)
	}

	s.logger.Debug("saved plugin record", "pie", rec.PieID, "enabled", rec.Enabled)
	return nil
}

// GetPluginRecord returns the record for pieID or ErrNotFound.
func (s *SQLiteStore) GetPluginRecord(ctx context.Context, pieID string) (*PluginRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pie_id, version, enabled, config, source, updated_at
		FROM plugin_records
		WHERE pie_id = ?
	`, pieID)

	rec, err := scanPluginRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetPluginRecords returns every record ordered by pie id.
func (s *SQLiteStore) GetPluginRecords(ctx context.Context) ([]*PluginRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pie_id, version, enabled, config, source, updated_at
		FROM plugin_records
		ORDER BY pie_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying plugin records: %w", err)
	}
	defer rows.Close()

	var records []*PluginRecord
	for rows.Next() {
		rec, err := scanPluginRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plugin records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPluginRecord(row scanner) (*PluginRecord, error) {
	var rec PluginRecord
	var enabled int
	var cfg, updatedAt string
	if err := row.Scan(&rec.PieID, &rec.Version, &enabled, &cfg, &rec.Source, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning plugin record: %w", err)
	}
	rec.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(cfg), &rec.Config); err != nil {
		return nil, fmt.Errorf("decoding plugin config for %s: %w", rec.PieID, err)
	}
	var err error
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing plugin record updated_at: %w", err)
	}
	return &rec, nil
}

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
