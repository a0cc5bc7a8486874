// Package history keeps a durable journal of supervisor lifecycle events in
// SQLite. A Journal is an EventSink: events are queued by the control loop
// and written by a background goroutine.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
	"github.com/jrepp/prism-supervisor/pkg/supervisor"
)

// ErrClosed is returned by operations on a closed journal
var ErrClosed = errors.New("history journal closed")

// Entry is one journaled event
type Entry struct {
	ID         int64
	Time       time.Time
	Supervisor string
	Type       string
	ChildID    string
	InstanceID string
	PID        int
	Status     *procmgr.ExitStatus
	State      string
	Error      string
}

// Journal records supervisor events to a SQLite database
type Journal struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool

	events   chan supervisor.Event
	dropped  atomic.Int64
	writerWG sync.WaitGroup
	stopChan chan struct{}

	bufferSize        int
	retention         time.Duration
	retentionInterval time.Duration
	log               *slog.Logger
}

// Option configures a Journal
type Option func(*Journal)

// WithLogger sets the journal logger
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		j.log = logger
	}
}

// WithBufferSize sets how many events may wait for the writer before new
// events are dropped
func WithBufferSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.bufferSize = n
		}
	}
}

// WithRetention deletes entries older than maxAge every interval
func WithRetention(maxAge, interval time.Duration) Option {
	return func(j *Journal) {
		j.retention = maxAge
		j.retentionInterval = interval
	}
}

// Open opens or creates the journal at path
func Open(ctx context.Context, path string, opts ...Option) (*Journal, error) {
	j := &Journal{
		path:       path,
		stopChan:   make(chan struct{}),
		bufferSize: 1024,
		log:        slog.Default().With("component", "history"),
	}
	for _, opt := range opts {
		opt(j)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	j.db = db

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			supervisor TEXT NOT NULL,
			type TEXT NOT NULL,
			child_id TEXT,
			instance_id TEXT,
			pid INTEGER,
			exit_code INTEGER,
			signal INTEGER,
			state TEXT,
			error TEXT
		)`,
		"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_events_child_id ON events(child_id)",
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	j.events = make(chan supervisor.Event, j.bufferSize)
	j.writerWG.Add(1)
	go j.writeLoop()

	if j.retention > 0 && j.retentionInterval > 0 {
		go j.retentionLoop()
	}

	j.log.Debug("history journal opened", "path", path)
	return j, nil
}

// Publish queues ev for writing. It never blocks; when the buffer is full
// the event is dropped and counted.
func (j *Journal) Publish(_ context.Context, ev supervisor.Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}

	select {
	case j.events <- ev:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.log.Warn("history buffer full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns the number of events dropped because the buffer was full
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *Journal) writeLoop() {
	defer j.writerWG.Done()
	for ev := range j.events {
		if err := j.write(context.Background(), ev); err != nil {
			j.log.Error("failed to write history event", "type", ev.Type.String(), "error", err)
		}
	}
}

func (j *Journal) write(ctx context.Context, ev supervisor.Event) error {
	var exitCode, signal sql.NullInt64
	if ev.Status != nil {
		exitCode = sql.NullInt64{Int64: int64(ev.Status.Code), Valid: true}
		signal = sql.NullInt64{Int64: int64(ev.Status.Signal), Valid: true}
	}
	var errText, state sql.NullString
	if ev.Err != nil {
		errText = sql.NullString{String: ev.Err.Error(), Valid: true}
	}
	if ev.Type == supervisor.EventStateChanged {
		state = sql.NullString{String: ev.State.String(), Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (
			timestamp, supervisor, type, child_id, instance_id,
			pid, exit_code, signal, state, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.Time.UnixMilli(),
		ev.Supervisor,
		ev.Type.String(),
		ev.ChildID,
		ev.InstanceID,
		int64(ev.PID),
		exitCode,
		signal,
		state,
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}

	query := `SELECT id, timestamp, supervisor, type, child_id, instance_id, pid, exit_code, signal, state, error
		FROM events ORDER BY timestamp DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			ts, pid           int64
			childID, instance sql.NullString
			exitCode, signal  sql.NullInt64
			state, errText    sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Supervisor, &e.Type, &childID, &instance, &pid,
			&exitCode, &signal, &state, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		e.ChildID = childID.String
		e.InstanceID = instance.String
		e.PID = int(pid)
		e.State = state.String
		e.Error = errText.String
		if exitCode.Valid {
			e.Status = &procmgr.ExitStatus{Code: int(exitCode.Int64), Signal: syscall.Signal(signal.Int64)}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before olderThan
func (j *Journal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, ErrClosed
	}

	result, err := j.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// retentionLoop periodically deletes entries older than the retention age
func (j *Journal) retentionLoop() {
	ticker := time.NewTicker(j.retentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			deleted, err := j.Prune(ctx, time.Now().Add(-j.retention))
			cancel()
			if err != nil {
				if !errors.Is(err, ErrClosed) {
					j.log.Error("history retention failed", "error", err)
				}
				continue
			}
			if deleted > 0 {
				j.log.Info("history retention removed old events", "deleted", deleted)
			}
		case <-j.stopChan:
			return
		}
	}
}

// Close flushes queued events and closes the database
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.events)
	close(j.stopChan)
	j.mu.Unlock()

	j.writerWG.Wait()
	return j.db.Close()
}

var _ supervisor.EventSink = (*Journal)(nil)
