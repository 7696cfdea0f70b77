// Package ledger provides an append-only audit history of program uploads,
// executions and time syncs.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger.
type EventType string

const (
	EventProgramAccepted EventType = "program_accepted"
	EventProgramRejected EventType = "program_rejected"
	EventProgramExecuted EventType = "program_executed"
	EventProgramFailed   EventType = "program_failed"
	EventTimeSynced      EventType = "time_synced"
)

// Entry represents a single event in the ledger.
type Entry struct {
	ID        int64          `json:"id"`
	EventType EventType      `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Source    string         `json:"source,omitempty"`
	ProgramID string         `json:"program_id,omitempty"`
}

// Ledger provides append-only event logging.
// A nil *Ledger accepts and discards every append, so it can be disabled in config.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// AppendWithSource adds a new event tagged with the component that produced it.
func (l *Ledger) AppendWithSource(eventType EventType, programID, source string, payload map[string]any) error {
	if l == nil {
		return nil
	}

	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, program_id) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), l.now().UTC().Unix(), string(payloadJSON), source, programID,
	)
	return err
}

// GetByType returns entries filtered by event type, newest first.
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, program_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByProgram returns the history of one program, oldest first.
func (l *Ledger) GetByProgram(programID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, program_id
		FROM event_ledger
		WHERE program_id = ?
		ORDER BY timestamp ASC, id ASC
	`, programID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range, newest first.
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, program_id
		FROM event_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy).
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var source, programID sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &programID)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if source.Valid {
			entry.Source = source.String
		}
		if programID.Valid {
			entry.ProgramID = programID.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
