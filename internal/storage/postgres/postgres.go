// Package postgres persists the session event record and the set of
// completed scenarios. Neither is required for a session to run; callers
// degrade gracefully when no database is reachable.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	SessionID string                 `json:"session_id"`
}

// Client manages the Postgres connection for one session.
type Client struct {
	db        *sql.DB
	sessionID string
}

// New opens a connection using the standard PG* environment variables.
func New(sessionID string) (*Client, error) {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "sedsim")
	dbname := getEnv("PGDATABASE", "sedsim")
	password := os.Getenv("PGPASSWORD")

	var connStr string
	if password != "" {
		connStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, user, password, dbname)
	} else {
		connStr = fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
			host, port, user, dbname)
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{db: db, sessionID: sessionID}
	if err := client.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return client, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTables() error {
	query := `
		CREATE TABLE IF NOT EXISTS session_events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			session_id TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_events_ts ON session_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_session_events_session ON session_events(session_id);

		CREATE TABLE IF NOT EXISTS completed_scenarios (
			scenario_id  TEXT PRIMARY KEY,
			completed_at TIMESTAMPTZ NOT NULL
		);
	`
	_, err := c.db.Exec(query)
	return err
}

// Append inserts an event into the session record.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	query := `
		INSERT INTO session_events (ts, level, event, msg, fields, session_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = c.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, c.sessionID)
	return err
}

// Query returns the last N events for this session, newest first.
func (c *Client) Query(limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, ts, level, event, msg, fields, session_id
		FROM session_events
		WHERE session_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.Query(query, c.sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.SessionID); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = &msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkCompleted records that a scenario was run to completion. Re-completing
// an already-completed scenario only refreshes the timestamp.
func (c *Client) MarkCompleted(scenarioID string) error {
	query := `
		INSERT INTO completed_scenarios (scenario_id, completed_at)
		VALUES ($1, $2)
		ON CONFLICT (scenario_id) DO UPDATE SET completed_at = EXCLUDED.completed_at
	`
	_, err := c.db.Exec(query, scenarioID, time.Now().UTC())
	return err
}

// CompletedScenarios returns the set of scenario ids ever completed.
func (c *Client) CompletedScenarios() (map[string]bool, error) {
	rows, err := c.db.Query(`SELECT scenario_id FROM completed_scenarios`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
