package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage keeps transcripts in a SQLite table. The transcript itself
// is stored as JSON next to a few indexed columns.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (and if needed creates) the database at dbPath.
// ":memory:" opens a private in-memory database.
func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS transcripts (
		session_id TEXT PRIMARY KEY,
		client TEXT NOT NULL DEFAULT '',
		therapist TEXT NOT NULL DEFAULT '',
		num_turns INTEGER NOT NULL,
		end_reason TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_ended ON transcripts(ended_at);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Save inserts or replaces t.
func (s *SQLiteStorage) Save(ctx context.Context, t *Transcript) error {
	if t.ID == "" {
		return fmt.Errorf("transcript id is required")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	query := `
		INSERT INTO transcripts (session_id, client, therapist, num_turns, end_reason, data, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			client = excluded.client,
			therapist = excluded.therapist,
			num_turns = excluded.num_turns,
			end_reason = excluded.end_reason,
			data = excluded.data,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at`
	_, err = s.db.ExecContext(ctx, query,
		t.ID, t.Client, t.Therapist, t.NumTurns, t.EndReason, string(data),
		t.StartedAt.UnixNano(), t.EndedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// Load returns the transcript with id.
func (s *SQLiteStorage) Load(ctx context.Context, id string) (*Transcript, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM transcripts WHERE session_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	var t Transcript
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", id, err)
	}
	return &t, nil
}

// List returns stored transcripts, most recently ended first.
func (s *SQLiteStorage) List(ctx context.Context, limit int) ([]*Transcript, error) {
	query := `SELECT data FROM transcripts ORDER BY ended_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}
	defer rows.Close()

	var out []*Transcript
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		var t Transcript
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("parse transcript: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
