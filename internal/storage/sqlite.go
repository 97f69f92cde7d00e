package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/way365/notiq/internal/models"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the backing database file. WAL mode keeps
// the scavenger's reads from blocking inline writers; a single connection
// sidesteps SQLITE_BUSY under concurrent mutation.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			message_type TEXT NOT NULL,
			destination TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retry INTEGER NOT NULL DEFAULT 3,
			next_retry_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_due ON messages(status, next_retry_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Insert(ctx context.Context, m *models.Message) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, message_type, destination, content, status, retry_count, max_retry, next_retry_at, created_at, updated_at, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MessageID, m.MessageType, m.Destination, m.Content, m.Status, m.RetryCount, m.MaxRetry, m.NextRetryAt, m.CreatedAt, m.UpdatedAt, m.LastError,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateMessageID
		}
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

const messageColumns = `id, message_id, message_type, destination, content, status, retry_count, max_retry, next_retry_at, created_at, updated_at, last_error`

func scanMessage(row interface{ Scan(...interface{}) error }) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.MessageID, &m.MessageType, &m.Destination, &m.Content, &m.Status,
		&m.RetryCount, &m.MaxRetry, &m.NextRetryAt, &m.CreatedAt, &m.UpdatedAt, &m.LastError)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteStore) FindDue(ctx context.Context, now time.Time, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE status = ? AND next_retry_at <= ?
		 ORDER BY created_at ASC LIMIT ?`,
		models.StatusPending, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) FindByMessageID(ctx context.Context, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, messageID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// UpdateStatus only touches pending rows, which makes sent and dead
// immutable at the store level no matter what the engine does.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, messageID string, status models.Status, retryCount int, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, retry_count = ?, last_error = ?, updated_at = ?
		 WHERE message_id = ? AND status = ?`,
		status, retryCount, lastError, time.Now().UTC(), messageID, models.StatusPending,
	)
	return err
}

func (s *SQLiteStore) UpdateRetry(ctx context.Context, messageID string, retryCount int, nextRetryAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET retry_count = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		 WHERE message_id = ? AND status = ?`,
		retryCount, nextRetryAt.UTC(), lastError, time.Now().UTC(), messageID, models.StatusPending,
	)
	return err
}

func (s *SQLiteStore) ListByStatus(ctx context.Context, status models.Status, limit, offset int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE status = ? ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Requeue(ctx context.Context, messageID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ?, retry_count = 0, next_retry_at = ?, updated_at = ?
		 WHERE message_id = ? AND status = ?`,
		models.StatusPending, now, now, messageID, models.StatusDead,
	)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE message_id = ?`, messageID)
	return err
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.Total); err != nil {
		return nil, err
	}
	counts := []struct {
		status models.Status
		dest   *int64
	}{
		{models.StatusPending, &stats.Pending},
		{models.StatusSent, &stats.Sent},
		{models.StatusDead, &stats.Dead},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE status = ?`, c.status).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
