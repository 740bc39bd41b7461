package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MetadataDB provides helper methods for secrets
type MetadataDB struct {
	db *sql.DB
}

// NewMetadataDB creates a new metadata database helper
func NewMetadataDB(db *sql.DB) *MetadataDB {
	return &MetadataDB{db: db}
}

// GetSecret retrieves a secret by name
func (m *MetadataDB) GetSecret(ctx context.Context, name string) (string, error) {
	var value string
	err := m.db.QueryRowContext(ctx, `
		SELECT secret_value FROM secrets WHERE secret_name = ?
	`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("secret %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	return value, nil
}

// SetSecret stores or rotates a secret, keeping its creation time.
func (m *MetadataDB) SetSecret(ctx context.Context, name, value string) error {
	now := time.Now().Unix()
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO secrets (secret_name, secret_value, created_at, last_rotated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(secret_name) DO UPDATE SET
			secret_value = excluded.secret_value,
			last_rotated = excluded.last_rotated
	`, name, value, now, now)
	if err != nil {
		return fmt.Errorf("failed to set secret %s: %w", name, err)
	}
	return nil
}
