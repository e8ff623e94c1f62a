package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "aiworker/pkg/database"
	"aiworker/pkg/interfaces"
	"aiworker/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager implements interfaces.ConnectionStore on SQLite.
// All writes go through one goroutine; reads use the pool directly.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	retryDelay time.Duration
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and pending migrations,
// and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db)
	applied, err := migrations.ApplyMigrations()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if applied > 0 {
		log.Printf("Applied %d database migrations", applied)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop runs every write. A failed write is retried once after retryDelay.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && retryable(err) {
				log.Printf("Database write failed, retrying in %s: %v", m.retryDelay, err)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

func retryable(err error) bool {
	return !errors.Is(err, interfaces.ErrRecordNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// RecordConnect inserts the audit row for a newly opened connection
func (m *Manager) RecordConnect(ctx context.Context, record *types.ConnectionRecord) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO connections (id, remote_addr, user_agent, opened_at)
			VALUES (?, ?, ?, ?)
		`, record.ID, record.RemoteAddr, record.UserAgent, record.OpenedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert connection: %w", err)
		}
		return nil
	})
}

// RecordDisconnect closes the audit row of connection id
func (m *Manager) RecordDisconnect(ctx context.Context, id string, closedAt time.Time, reason string, framesIn, framesOut int64) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE connections
			SET closed_at = ?, close_reason = ?, frames_in = ?, frames_out = ?
			WHERE id = ?
		`, closedAt.UTC(), reason, framesIn, framesOut, id)
		if err != nil {
			return fmt.Errorf("failed to update connection: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return interfaces.ErrRecordNotFound
		}
		return nil
	})
}

// CloseAbandoned marks rows left open by a previous process as closed
// and returns how many were updated.
func (m *Manager) CloseAbandoned(ctx context.Context, reason string) (int64, error) {
	var n int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE connections SET closed_at = ?, close_reason = ?
			WHERE closed_at IS NULL
		`, time.Now().UTC(), reason)
		if err != nil {
			return fmt.Errorf("failed to close abandoned connections: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// GetConnection returns the audit row of connection id
func (m *Manager) GetConnection(ctx context.Context, id string) (*types.ConnectionRecord, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, remote_addr, user_agent, opened_at, closed_at, close_reason, frames_in, frames_out
		FROM connections
		WHERE id = ?
	`, id)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to query connection: %w", err)
	}
	return record, nil
}

// ListRecentConnections returns up to limit rows, newest first
func (m *Manager) ListRecentConnections(ctx context.Context, limit int) ([]*types.ConnectionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, remote_addr, user_agent, opened_at, closed_at, close_reason, frames_in, frames_out
		FROM connections
		ORDER BY opened_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*types.ConnectionRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection rows: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*types.ConnectionRecord, error) {
	var record types.ConnectionRecord
	var closedAt sql.NullTime

	err := s.Scan(
		&record.ID,
		&record.RemoteAddr,
		&record.UserAgent,
		&record.OpenedAt,
		&closedAt,
		&record.CloseReason,
		&record.FramesIn,
		&record.FramesOut,
	)
	if err != nil {
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		record.ClosedAt = &t
	}
	return &record, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM connections").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer goroutine and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
