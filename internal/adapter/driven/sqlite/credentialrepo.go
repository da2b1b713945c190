package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/credvault/internal/domain/model"
	"github.com/ericfisherdev/credvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.CredentialBackend     = (*CredentialRepo)(nil)
	_ driven.StaleCredentialLister = (*CredentialRepo)(nil)
)

// timestampLayout is fixed-width so that stored timestamps sort and compare
// correctly as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// CredentialRepo is the SQLite implementation of the CredentialBackend port.
// It stores the ciphertext, IV and auth tag it is handed and never sees
// plaintext.
type CredentialRepo struct {
	db *DB
}

// NewCredentialRepo creates a new CredentialRepo backed by the given DB.
func NewCredentialRepo(db *DB) *CredentialRepo {
	return &CredentialRepo{db: db}
}

// Upsert inserts the record or, on a (user_id, provider_id, scope) conflict,
// replaces payload, metadata and updated_at while keeping created_at.
func (r *CredentialRepo) Upsert(ctx context.Context, rec model.EncryptedCredential) error {
	meta, err := json.Marshal(nonNilMetadata(rec.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", rec.Key, err)
	}

	const query = `
		INSERT INTO credentials (user_id, provider_id, scope, ciphertext, iv, auth_tag, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider_id, scope) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			iv = excluded.iv,
			auth_tag = excluded.auth_tag,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

	_, err = r.db.Writer.ExecContext(ctx, query,
		rec.Key.UserID, rec.Key.ProviderID, rec.Key.Scope,
		rec.Ciphertext, rec.IV, rec.AuthTag, string(meta),
		formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert credential %s: %w", rec.Key, err)
	}
	return nil
}

// SelectByKey returns the record for key. Returns (nil, nil) if none exists.
func (r *CredentialRepo) SelectByKey(ctx context.Context, key model.CredentialKey) (*model.EncryptedCredential, error) {
	const query = `
		SELECT user_id, provider_id, scope, ciphertext, iv, auth_tag, metadata, created_at, updated_at
		FROM credentials
		WHERE user_id = ? AND provider_id = ? AND scope = ?
	`

	rec, err := scanEncrypted(r.db.Reader.QueryRowContext(ctx, query, key.UserID, key.ProviderID, key.Scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select credential %s: %w", key, err)
	}
	return rec, nil
}

// SelectAllByUser returns every record owned by userID ordered by provider
// and scope.
func (r *CredentialRepo) SelectAllByUser(ctx context.Context, userID string) ([]model.EncryptedCredential, error) {
	const query = `
		SELECT user_id, provider_id, scope, ciphertext, iv, auth_tag, metadata, created_at, updated_at
		FROM credentials
		WHERE user_id = ?
		ORDER BY provider_id, scope
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials for %s: %w", userID, err)
	}
	defer rows.Close()

	recs := []model.EncryptedCredential{}
	for rows.Next() {
		rec, err := scanEncrypted(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return recs, nil
}

// DeleteByKey removes the record for key and reports whether one existed.
func (r *CredentialRepo) DeleteByKey(ctx context.Context, key model.CredentialKey) (bool, error) {
	const query = `DELETE FROM credentials WHERE user_id = ? AND provider_id = ? AND scope = ?`

	res, err := r.db.Writer.ExecContext(ctx, query, key.UserID, key.ProviderID, key.Scope)
	if err != nil {
		return false, fmt.Errorf("delete credential %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete credential %s: rows affected: %w", key, err)
	}
	return n > 0, nil
}

// SelectUpdatedBefore returns the non-secret view of every credential last
// written before cutoff, oldest first. Payload columns are not read.
func (r *CredentialRepo) SelectUpdatedBefore(ctx context.Context, cutoff time.Time) ([]model.Credential, error) {
	const query = `
		SELECT user_id, provider_id, scope, metadata, created_at, updated_at
		FROM credentials
		WHERE updated_at < ?
		ORDER BY updated_at
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale credentials: %w", err)
	}
	defer rows.Close()

	creds := []model.Credential{}
	for rows.Next() {
		var (
			c                    model.Credential
			meta                 string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&c.Key.UserID, &c.Key.ProviderID, &c.Key.Scope, &meta, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan stale credential: %w", err)
		}
		if c.Metadata, err = parseMetadata(meta); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale credentials: %w", err)
	}
	return creds, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEncrypted(row rowScanner) (*model.EncryptedCredential, error) {
	var (
		rec                  model.EncryptedCredential
		meta                 string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&rec.Key.UserID, &rec.Key.ProviderID, &rec.Key.Scope,
		&rec.Ciphertext, &rec.IV, &rec.AuthTag,
		&meta, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if rec.Metadata, err = parseMetadata(meta); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", rec.Key, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", rec.Key, err)
	}
	return &rec, nil
}

func parseMetadata(raw string) (map[string]string, error) {
	meta := map[string]string{}
	if raw == "" {
		return meta, nil
	}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta, nil
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTime attempts to parse a time string using common SQLite formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		timestampLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
