package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openrelay/openrelay/internal/extract"
	"github.com/openrelay/openrelay/internal/session"
)

// Record is one persisted session.
type Record struct {
	ID         string
	Requester  string
	Input      string
	Output     string
	State      session.State
	Turns      int
	Transcript []session.Entry
	Trace      []extract.Call
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SessionStore persists completed sessions.
type SessionStore struct {
	db *DB
}

func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Save upserts the session with its final output and call trace. Saving
// twice with the same ID overwrites, so a session that fails late replaces
// its earlier record.
func (s *SessionStore) Save(sess *session.Session, output string, trace []extract.Call) error {
	transcriptJSON, err := json.Marshal(sess.Transcript.Entries())
	if err != nil {
		return fmt.Errorf("session save: marshal transcript: %w", err)
	}
	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("session save: marshal trace: %w", err)
	}
	if trace == nil {
		traceJSON = []byte("[]")
	}

	createdAt := sess.CreatedAt.UTC().Format(time.RFC3339)
	updatedAt := sess.UpdatedAt.UTC().Format(time.RFC3339)

	if _, err := s.db.SQLDB().Exec(s.db.rebind(
		`DELETE FROM sessions WHERE id = ?`), sess.ID); err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	_, err = s.db.SQLDB().Exec(s.db.rebind(
		`INSERT INTO sessions (id, requester, input, output, state, turns, transcript, trace, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.ID, sess.Requester, sess.Input, output, string(sess.State), sess.Turns,
		string(transcriptJSON), string(traceJSON), createdAt, updatedAt)
	if err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	return nil
}

// Get loads a record by id.
func (s *SessionStore) Get(id string) (*Record, error) {
	row := s.db.SQLDB().QueryRow(s.db.rebind(
		`SELECT id, requester, input, output, state, turns, transcript, trace, created_at, updated_at
		 FROM sessions WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("session get: %w", err)
	}
	return rec, nil
}

// ListRecent returns the most recently updated records, newest first. A
// non-empty requester filters to that requester.
func (s *SessionStore) ListRecent(requester string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, requester, input, output, state, turns, transcript, trace, created_at, updated_at
		 FROM sessions`
	args := []any{}
	if requester != "" {
		query += ` WHERE requester = ?`
		args = append(args, requester)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.SQLDB().Query(s.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("session list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("session list: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PruneOlderThan deletes records not updated in the last maxAgeDays days.
// No-op if maxAgeDays <= 0.
func (s *SessionStore) PruneOlderThan(maxAgeDays int) error {
	if maxAgeDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UTC().Format(time.RFC3339)
	_, err := s.db.SQLDB().Exec(s.db.rebind(`DELETE FROM sessions WHERE updated_at < ?`), cutoff)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var state, transcriptJSON, traceJSON, createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.Requester, &rec.Input, &rec.Output, &state, &rec.Turns,
		&transcriptJSON, &traceJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.State = session.State(state)
	if transcriptJSON != "" {
		_ = json.Unmarshal([]byte(transcriptJSON), &rec.Transcript)
	}
	if traceJSON != "" {
		_ = json.Unmarshal([]byte(traceJSON), &rec.Trace)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}
