package repository

import (
	"database/sql"
	"time"

	"github.com/risecrm/apigate/internal/models"
)

type APILogRepository struct {
	db *sql.DB
}

func NewAPILogRepository(db *sql.DB) *APILogRepository {
	return &APILogRepository{db: db}
}

// Insert appends one audit row. Rows are never updated afterwards.
func (r *APILogRepository) Insert(entry *models.APILogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.Exec(`
		INSERT INTO api_logs (api_key_id, endpoint, method, ip_address, user_agent,
		                      request_body, response_code, response_body, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.APIKeyID, entry.Endpoint, entry.Method, entry.IPAddress, entry.UserAgent,
		entry.RequestBody, entry.ResponseCode, entry.ResponseBody, entry.ResponseTimeMs, entry.CreatedAt,
	)
	if err != nil {
		return err
	}
	entry.ID, _ = res.LastInsertId()
	return nil
}

// List returns log entries matching the filter, newest first, with the total
// row count for pagination.
func (r *APILogRepository) List(filter models.APILogFilter) ([]models.APILogEntry, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.APIKeyID != 0 {
		where += " AND api_key_id = ?"
		args = append(args, filter.APIKeyID)
	}
	if filter.Endpoint != "" {
		where += " AND endpoint = ?"
		args = append(args, filter.Endpoint)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM api_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, api_key_id, endpoint, method, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
		       COALESCE(request_body, ''), response_code, COALESCE(response_body, ''), response_time_ms, created_at
		FROM api_logs` + where + " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []models.APILogEntry
	for rows.Next() {
		var e models.APILogEntry
		if err := rows.Scan(&e.ID, &e.APIKeyID, &e.Endpoint, &e.Method, &e.IPAddress, &e.UserAgent,
			&e.RequestBody, &e.ResponseCode, &e.ResponseBody, &e.ResponseTimeMs, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// DeleteOlderThan removes entries strictly older than the cutoff and returns
// how many rows were deleted. Safe to run concurrently with inserts.
func (r *APILogRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec("DELETE FROM api_logs WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
