// Package events is the structured session record: everything the scenario
// engine and the safety monitor do is appended here, broadcast to live
// subscribers, and optionally persisted to Postgres. The debrief summarizer
// consumes the accumulated log when a scenario stops.
package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sedsim/sedsim/internal/storage/postgres"
)

// Event is one entry in the session record.
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Log accumulates events for one session. Each engine/monitor pair owns its
// own Log instance, so isolated runs never share state.
type Log struct {
	buffer *RingBuffer

	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
	pg          *postgres.Client
	pgErrLogged bool
}

// NewLog creates a session log retaining the last size events in memory.
func NewLog(size int) *Log {
	return &Log{
		buffer:      NewRingBuffer(size),
		subscribers: make(map[Subscriber]struct{}),
	}
}

// SetPostgres attaches a Postgres client; every subsequent event is also
// appended there. Pass nil to detach.
func (l *Log) SetPostgres(client *postgres.Client) {
	l.mu.Lock()
	l.pg = client
	l.pgErrLogged = false
	l.mu.Unlock()
}

// Emit validates, records, broadcasts and (best-effort) persists an event.
func (l *Log) Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	l.buffer.Add(e)
	l.broadcast(e)

	l.mu.RLock()
	client := l.pg
	errLogged := l.pgErrLogged
	l.mu.RUnlock()

	if client != nil {
		if err := client.Append(ts, level, name, msg, fields); err != nil && !errLogged {
			// Record the failure once, straight into the buffer. Going
			// through Emit again would recurse if Postgres stays down.
			l.mu.Lock()
			l.pgErrLogged = true
			l.mu.Unlock()
			l.buffer.Add(Event{
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
				Level:     "error",
				Name:      "system.error",
				Message:   "postgres append failed",
				Fields:    map[string]interface{}{"error": err.Error()},
			})
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

// Snapshot returns all retained events, oldest first.
func (l *Log) Snapshot() []Event {
	return l.buffer.Snapshot()
}

// Recent returns the last n retained events; n <= 0 returns all of them.
func (l *Log) Recent(n int) []Event {
	all := l.buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Clear drops all retained events. Used between test runs.
func (l *Log) Clear() {
	l.buffer.Clear()
}
