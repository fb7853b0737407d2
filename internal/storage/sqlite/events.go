package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/avask/liverelay/pkg/logger"
)

// SessionEvent is one recorded lifecycle transition of a room session
type SessionEvent struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventStorage is a SQLite-backed audit log of session lifecycle events.
// Chat content is never written here, only transitions like session_created,
// connected, reconnect_failed and left_inactive.
type EventStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewEventStorage creates the storage with a dated database file under
// basePath and initializes the schema.
func NewEventStorage(basePath string, log *logger.Logger) (*EventStorage, error) {
	dbPath := filepath.Join(basePath, fmt.Sprintf("liverelay-%s.db", time.Now().Format("2006-01-02")))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite wants a single writer
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -20000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &EventStorage{
		db:     db,
		logger: log.Named("storage"),
	}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("Session event storage ready", logger.String("path", dbPath))
	return s, nil
}

func (s *EventStorage) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		event TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_events_room ON session_events(room_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create session_events table: %w", err)
	}
	return nil
}

// RecordEvent stores one lifecycle event. Failures are logged, not returned;
// the relay never blocks on the audit trail.
func (s *EventStorage) RecordEvent(roomID, event, detail string) {
	_, err := s.db.Exec(
		`INSERT INTO session_events (room_id, event, detail, created_at) VALUES (?, ?, ?, ?)`,
		roomID, event, detail, time.Now().UTC(),
	)
	if err != nil {
		s.logger.Error("Failed to record session event",
			logger.String("room_id", roomID),
			logger.String("event", event),
			logger.Error(err))
	}
}

// GetEvents returns the most recent events for a room, newest first
func (s *EventStorage) GetEvents(roomID string, limit int) ([]*SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT id, room_id, event, detail, created_at
		 FROM session_events
		 WHERE room_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session events: %w", err)
	}
	defer rows.Close()

	var events []*SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.RoomID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close closes the underlying database
func (s *EventStorage) Close() error {
	return s.db.Close()
}
