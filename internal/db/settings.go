package db

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSetting returns the value stored under key, or "" when the
// key is absent.
func (db *DB) GetSetting(
	ctx context.Context, key string,
) (string, error) {
	var v string
	err := db.reader.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return v, nil
}

// SetSettings writes all pairs in one transaction.
func (db *DB) SetSettings(
	ctx context.Context, values map[string]string,
) error {
	return db.Update(func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO settings (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET
					value = excluded.value,
					updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
				k, v,
			); err != nil {
				return fmt.Errorf("writing setting %s: %w", k, err)
			}
		}
		return nil
	})
}
