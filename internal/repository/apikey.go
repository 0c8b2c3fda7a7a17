package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/risecrm/apigate/internal/models"
	"github.com/risecrm/apigate/internal/secret"
)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// APIKeyCreateOptions contains options for creating an API key
type APIKeyCreateOptions struct {
	Name              string
	CreatedBy         int64
	PermissionGroupID *int64
	ExpiresAt         *time.Time
	IPWhitelist       string
	RateLimitMinute   int
	RateLimitHour     int
	RateLimitDay      int
}

const apiKeyColumns = `id, name, key, secret, status, expires_at, permission_group_id,
       COALESCE(ip_whitelist, ''), cors_allowed_origins, require_https, cors_enabled,
       rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day,
       total_calls, last_used_at, created_by, created_at`

// Create generates a key/secret pair, stores the hashed secret and returns
// the plaintext secret (only shown once).
func (r *APIKeyRepository) Create(opts APIKeyCreateOptions) (*models.APIKeyCreateResult, error) {
	key, err := secret.GenerateKey()
	if err != nil {
		return nil, err
	}
	plain, err := secret.GenerateSecret()
	if err != nil {
		return nil, err
	}
	hash, err := secret.Hash(plain)
	if err != nil {
		return nil, err
	}

	if opts.RateLimitMinute == 0 {
		opts.RateLimitMinute = 60
	}
	if opts.RateLimitHour == 0 {
		opts.RateLimitHour = 1000
	}
	if opts.RateLimitDay == 0 {
		opts.RateLimitDay = 10000
	}

	now := time.Now().UTC()
	res, err := r.db.Exec(`
		INSERT INTO api_keys (name, key, secret, status, expires_at, permission_group_id, ip_whitelist,
		                      rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		opts.Name, key, hash, models.StatusActive, opts.ExpiresAt, opts.PermissionGroupID, opts.IPWhitelist,
		opts.RateLimitMinute, opts.RateLimitHour, opts.RateLimitDay, opts.CreatedBy, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	created, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}

	return &models.APIKeyCreateResult{
		APIKey:      *created,
		PlainSecret: plain,
	}, nil
}

// GetByKey returns a non-deleted API key by its key token (for authentication)
func (r *APIKeyRepository) GetByKey(key string) (*models.APIKey, error) {
	row := r.db.QueryRow(`SELECT `+apiKeyColumns+` FROM api_keys WHERE key = ? AND deleted = 0`, key)
	return scanAPIKey(row)
}

// GetByID returns an API key by ID
func (r *APIKeyRepository) GetByID(id int64) (*models.APIKey, error) {
	row := r.db.QueryRow(`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ? AND deleted = 0`, id)
	return scanAPIKey(row)
}

// List returns all non-deleted API keys ordered by creation time
func (r *APIKeyRepository) List() ([]models.APIKey, error) {
	rows, err := r.db.Query(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE deleted = 0 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// RecordUsage increments total_calls and stamps last_used_at in a single
// UPDATE so concurrent requests for the same key cannot lose increments.
func (r *APIKeyRepository) RecordUsage(id int64, now time.Time) error {
	_, err := r.db.Exec(
		"UPDATE api_keys SET total_calls = total_calls + 1, last_used_at = ? WHERE id = ?",
		now.UTC(), id,
	)
	return err
}

// SetStatus updates the key status (active, inactive, revoked)
func (r *APIKeyRepository) SetStatus(id int64, status string) error {
	result, err := r.db.Exec("UPDATE api_keys SET status = ? WHERE id = ? AND deleted = 0", status, id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("API key not found")
	}
	return nil
}

// Delete soft-deletes an API key
func (r *APIKeyRepository) Delete(id int64) error {
	result, err := r.db.Exec("UPDATE api_keys SET deleted = 1 WHERE id = ? AND deleted = 0", id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("API key not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	k := &models.APIKey{}
	var expiresAt, lastUsedAt sql.NullTime
	var groupID sql.NullInt64
	var corsOrigins, requireHTTPS, corsEnabled sql.NullString

	err := row.Scan(&k.ID, &k.Name, &k.Key, &k.Secret, &k.Status, &expiresAt, &groupID,
		&k.IPWhitelist, &corsOrigins, &requireHTTPS, &corsEnabled,
		&k.RateLimitPerMinute, &k.RateLimitPerHour, &k.RateLimitPerDay,
		&k.TotalCalls, &lastUsedAt, &k.CreatedBy, &k.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		k.LastUsedAt = &t
	}
	if groupID.Valid {
		v := groupID.Int64
		k.PermissionGroupID = &v
	}
	if corsOrigins.Valid {
		v := corsOrigins.String
		k.CORSAllowedOrigins = &v
	}
	k.RequireHTTPS = overrideFromNull(requireHTTPS)
	k.CORSEnabled = overrideFromNull(corsEnabled)

	return k, nil
}

func overrideFromNull(v sql.NullString) models.Override {
	if !v.Valid {
		return models.Inherit
	}
	s := v.String
	return models.OverrideFromColumn(&s)
}
