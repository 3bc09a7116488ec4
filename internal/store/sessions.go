package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/flashd/internal/session"
)

var (
	_ session.Backend = (*DB)(nil)
	_ session.Counter = (*DB)(nil)
)

// Load returns the values stored for session id.
func (db *DB) Load(ctx context.Context, id string) (session.Data, bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT key, value FROM session_values WHERE session_id = ?`, id)
	if err != nil {
		return nil, false, fmt.Errorf("load session values: %w", err)
	}
	defer func() { _ = rows.Close() }()

	data := make(session.Data)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, false, err
		}
		data[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Save replaces all values of session id in one transaction.
func (db *DB) Save(ctx context.Context, id string, data session.Data) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := db.now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		id, now, now); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_values WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("clear session values: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO session_values (session_id, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for key, value := range data {
		if value == nil {
			value = []byte{}
		}
		if _, err := stmt.ExecContext(ctx, id, key, value); err != nil {
			return fmt.Errorf("insert session value %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// Delete removes session id and its values.
func (db *DB) Delete(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// Expire removes sessions last saved before the given time.
func (db *DB) Expire(ctx context.Context, before time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Count returns the number of stored sessions.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}
