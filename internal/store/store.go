// Package store archives finished conversations in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"concierge-widget/internal/models"
)

// ErrNotFound is returned when an activation has no archived conversation.
var ErrNotFound = errors.New("conversation not found")

// Store is a SQLite-backed conversation archive.
type Store struct {
	DB *sql.DB
}

// Conversation is one archived activation.
type Conversation struct {
	ActivationID string
	StartedAt    time.Time
	EndedAt      time.Time
	Entries      []models.TranscriptSegment
}

// Summary is a row of ListConversations.
type Summary struct {
	ActivationID string
	StartedAt    time.Time
	EndedAt      time.Time
	Entries      int
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &Store{DB: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			activation_id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS entries (
			activation_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			segment_id TEXT NOT NULL,
			speaker TEXT NOT NULL,
			text TEXT NOT NULL,
			first_received_ms INTEGER NOT NULL,
			is_final INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY (activation_id, position)
		);`,
	}
	for _, q := range stmts {
		if _, err := s.DB.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// SaveConversation stores the final log of an activation, replacing any
// earlier copy.
func (s *Store) SaveConversation(ctx context.Context, activationID string, startedAt time.Time, entries []models.TranscriptSegment) error {
	if activationID == "" {
		return errors.New("activation id required")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE activation_id = ?`, activationID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversations(activation_id, started_at, ended_at) VALUES(?,?,?)`,
		activationID, startedAt.UnixMilli(), time.Now().UnixMilli()); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries(activation_id, position, segment_id, speaker, text, first_received_ms, is_final, seq) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range entries {
		final := 0
		if e.IsFinal {
			final = 1
		}
		if _, err := stmt.ExecContext(ctx, activationID, i, e.ID, string(e.Speaker), e.Text,
			e.FirstReceivedTime.UnixMilli(), final, int64(e.Seq)); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// LoadConversation returns the archived log of an activation in log order.
func (s *Store) LoadConversation(ctx context.Context, activationID string) (*Conversation, error) {
	var started, ended int64
	row := s.DB.QueryRowContext(ctx, `SELECT started_at, ended_at FROM conversations WHERE activation_id = ?`, activationID)
	if err := row.Scan(&started, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT segment_id, speaker, text, first_received_ms, is_final, seq FROM entries WHERE activation_id = ? ORDER BY position`,
		activationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	c := &Conversation{
		ActivationID: activationID,
		StartedAt:    time.UnixMilli(started),
		EndedAt:      time.UnixMilli(ended),
		Entries:      []models.TranscriptSegment{},
	}
	for rows.Next() {
		var (
			e       models.TranscriptSegment
			speaker string
			ms      int64
			final   int
			seq     int64
		)
		if err := rows.Scan(&e.ID, &speaker, &e.Text, &ms, &final, &seq); err != nil {
			return nil, err
		}
		e.Speaker = models.Speaker(speaker)
		e.FirstReceivedTime = time.UnixMilli(ms)
		e.IsFinal = final == 1
		e.Seq = uint64(seq)
		c.Entries = append(c.Entries, e)
	}
	return c, rows.Err()
}

// ListConversations returns the most recent activations first.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT c.activation_id, c.started_at, c.ended_at, COUNT(e.position)
		FROM conversations c LEFT JOIN entries e ON e.activation_id = c.activation_id
		GROUP BY c.activation_id
		ORDER BY c.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum            Summary
			started, ended int64
		)
		if err := rows.Scan(&sum.ActivationID, &started, &ended, &sum.Entries); err != nil {
			return nil, err
		}
		sum.StartedAt = time.UnixMilli(started)
		sum.EndedAt = time.UnixMilli(ended)
		out = append(out, sum)
	}
	return out, rows.Err()
}
