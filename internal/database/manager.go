package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	dbconfig "dronelab/pkg/database"
	"dronelab/pkg/interfaces"
	"dronelab/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager implements interfaces.LectureStore on SQLite. Reads go straight to
// the pool; writes are serialized through a single goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and migrations, and starts
// the writer.
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

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	log.Info().Str("module", "database").Str("path", config.DatabasePath).Msg("database ready")
	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			log.Debug().Str("module", "database").Msg("write loop shutting down")
			return
		}
	}
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

// CreateLecture inserts an active lecture. A code collision with another
// active lecture returns interfaces.ErrCodeInUse.
func (m *Manager) CreateLecture(ctx context.Context, lecture *types.Lecture) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		var exists int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM lectures WHERE code = ? AND active = 1", lecture.Code,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check lecture code: %w", err)
		}
		if exists > 0 {
			return interfaces.ErrCodeInUse
		}

		res, err := db.ExecContext(ctx, `
			INSERT INTO lectures (code, instructor_id, active, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)
		`, lecture.Code, lecture.InstructorID, lecture.CreatedAt, lecture.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert lecture: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read lecture id: %w", err)
		}
		lecture.ID = id
		lecture.Active = true
		return nil
	})
}

// GetLectureByCode prefers the active lecture, then the newest ended one.
func (m *Manager) GetLectureByCode(ctx context.Context, code string) (*types.Lecture, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, code, instructor_id, active, created_at, updated_at
		FROM lectures
		WHERE code = ?
		ORDER BY active DESC, created_at DESC, id DESC
		LIMIT 1
	`, code)

	lecture, err := scanLecture(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrLectureNotFound
		}
		return nil, fmt.Errorf("failed to query lecture: %w", err)
	}
	return lecture, nil
}

// DeactivateLecture ends the active lecture with that code. Ending a code
// with no active lecture is not an error.
func (m *Manager) DeactivateLecture(ctx context.Context, code string, at time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"UPDATE lectures SET active = 0, updated_at = ? WHERE code = ? AND active = 1",
			at, code,
		)
		if err != nil {
			return fmt.Errorf("failed to deactivate lecture: %w", err)
		}
		return nil
	})
}

// ListActiveLectures returns active lectures, newest first.
func (m *Manager) ListActiveLectures(ctx context.Context) ([]*types.Lecture, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, code, instructor_id, active, created_at, updated_at
		FROM lectures
		WHERE active = 1
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active lectures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lectures []*types.Lecture
	for rows.Next() {
		lecture, err := scanLecture(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lecture row: %w", err)
		}
		lectures = append(lectures, lecture)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lecture rows: %w", err)
	}
	return lectures, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLecture(row rowScanner) (*types.Lecture, error) {
	var lecture types.Lecture
	var active int
	err := row.Scan(
		&lecture.ID,
		&lecture.Code,
		&lecture.InstructorID,
		&active,
		&lecture.CreatedAt,
		&lecture.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	lecture.Active = active == 1
	return &lecture, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM lectures LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the database manager
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
		"PRAGMA cache_size = -16000",
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
