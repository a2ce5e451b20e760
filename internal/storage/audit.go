package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Event is one audit record: a swap entered a state.
type Event struct {
	ID        int64     `json:"id"`
	SwapID    string    `json:"swap_id"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventLog is an append-only SQLite log of swap state transitions. The
// JSON snapshot holds only the latest state of each swap; the log keeps
// the full history for audits and debugging.
type EventLog struct {
	db *sql.DB
	mu sync.Mutex
}

// NewEventLog opens (or creates) the event database under dataDir.
func NewEventLog(dataDir string) (*EventLog, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "events.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping event database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	l := &EventLog{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize event schema: %w", err)
	}
	return l, nil
}

func (l *EventLog) initSchema() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS swap_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			swap_id TEXT NOT NULL,
			state TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_swap_events_swap_id ON swap_events(swap_id);
	`)
	return err
}

// Close closes the database connection.
func (l *EventLog) Close() error {
	return l.db.Close()
}

// Append records a state transition.
func (l *EventLog) Append(swapID, state, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		INSERT INTO swap_events (swap_id, state, detail, created_at)
		VALUES (?, ?, ?, ?)
	`, swapID, state, detail, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// EventsFor returns the full history of one swap, oldest first.
func (l *EventLog) EventsFor(swapID string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`
		SELECT id, swap_id, state, detail, created_at
		FROM swap_events
		WHERE swap_id = ?
		ORDER BY id ASC
	`, swapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SwapID, &e.State, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountByState returns how many events exist per state, across all swaps.
func (l *EventLog) CountByState() (map[string]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`SELECT state, COUNT(*) FROM swap_events GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
