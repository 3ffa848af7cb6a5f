package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS booking_requests (
            id TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            court_id INTEGER NOT NULL,
            target_date TEXT NOT NULL,
            time_slot TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            attempt_count INTEGER NOT NULL DEFAULT 0,
            max_attempts INTEGER NOT NULL DEFAULT 3,
            next_attempt_at DATETIME,
            last_error TEXT NOT NULL DEFAULT '',
            confirmation_code TEXT NOT NULL DEFAULT '',
            external_booking_id TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            expires_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_requests_status ON booking_requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_owner ON booking_requests(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_target_date ON booking_requests(target_date)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_next_attempt ON booking_requests(status, next_attempt_at)`,

		// Один активный запрос на кортеж: страховка на случай гонки между
		// проверкой конфликтов и вставкой в параллельном процессе.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_active_tuple
            ON booking_requests(owner_id, court_id, target_date, time_slot)
            WHERE status IN ('pending', 'scheduled', 'processing')`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
