// Package storage provides the SQLite-backed durable store for the offline
// action queue. It uses modernc.org/sqlite (pure Go, no CGO) so the core can
// be compiled for mobile targets.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	apperrors "github.com/safebeacon/core/internal/errors"
	"github.com/safebeacon/core/internal/models"
	"github.com/safebeacon/core/internal/queue"
)

// SQLiteStore implements queue.Storage on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the queue database under dataDir.
// The database is opened with WAL mode and a single writer connection.
func Open(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "safebeacon.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate applies pending schema migrations, tracked in schema_migrations.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL,
		description TEXT NOT NULL
	);`); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to init migrations table", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to read schema version", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "failed to begin migration", err)
		}
		if _, err := tx.Exec(m.statement); err != nil {
			tx.Rollback()
			return apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("migration %d (%s) failed", m.version, m.description), err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, strftime('%s','now'), ?)",
			m.version, m.description,
		); err != nil {
			tx.Rollback()
			return apperrors.Wrap(apperrors.ErrMigration, "failed to record migration", err)
		}
		if err := tx.Commit(); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "failed to commit migration", err)
		}
	}
	return nil
}

type migration struct {
	version     int
	description string
	statement   string
}

var migrations = []migration{
	{
		version:     1,
		description: "create offline_actions",
		statement: `
		CREATE TABLE IF NOT EXISTS offline_actions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			last_attempt INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_offline_actions_status ON offline_actions(status);
		CREATE INDEX IF NOT EXISTS idx_offline_actions_entity ON offline_actions(entity_id, created_at);`,
	},
}

// Append persists a newly enqueued item.
func (s *SQLiteStore) Append(item *models.OfflineActionItem) error {
	payload, err := models.EncodePayload(item.Action.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO offline_actions
			(id, kind, entity_id, payload, created_at, retry_count, status, last_attempt, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Action.ID, string(item.Action.Kind()), item.Action.EntityID(),
		string(payload), item.Action.CreatedAt, item.Action.RetryCount,
		string(item.Status), item.LastAttempt, item.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to append action %s: %w", item.Action.ID, err)
	}
	return nil
}

// UpdateStatus persists a status transition for one item. The update is a
// single statement, so it is atomic with respect to crashes.
func (s *SQLiteStore) UpdateStatus(id models.UUID, status models.ActionStatus, meta queue.StatusMeta) error {
	res, err := s.db.Exec(`
		UPDATE offline_actions
		SET status = ?, retry_count = ?, last_attempt = ?, error_message = ?
		WHERE id = ?`,
		string(status), meta.RetryCount, meta.LastAttempt, meta.ErrorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update action %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("action %s not found in storage", id)
	}
	return nil
}

// Delete removes an item.
func (s *SQLiteStore) Delete(id models.UUID) error {
	if _, err := s.db.Exec("DELETE FROM offline_actions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete action %s: %w", id, err)
	}
	return nil
}

// LoadAll returns every surviving item in creation order.
func (s *SQLiteStore) LoadAll() ([]*models.OfflineActionItem, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, payload, created_at, retry_count, status, last_attempt, error_message
		FROM offline_actions
		ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to load actions: %w", err)
	}
	defer rows.Close()

	var items []*models.OfflineActionItem
	for rows.Next() {
		var (
			item    models.OfflineActionItem
			kind    string
			payload string
			status  string
		)
		if err := rows.Scan(
			&item.Action.ID, &kind, &payload, &item.Action.CreatedAt,
			&item.Action.RetryCount, &status, &item.LastAttempt, &item.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		decoded, err := models.DecodePayload(models.ActionKind(kind), []byte(payload))
		if err != nil {
			return nil, err
		}
		item.Action.Payload = decoded
		item.Status = models.ActionStatus(status)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate action rows: %w", err)
	}
	return items, nil
}
