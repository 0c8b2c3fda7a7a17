package models

import "time"

// APILogEntry is an immutable audit record, one per request/response cycle.
// APIKeyID is 0 when the caller never authenticated.
type APILogEntry struct {
	ID             int64     `json:"id"`
	APIKeyID       int64     `json:"api_key_id"`
	Endpoint       string    `json:"endpoint"`
	Method         string    `json:"method"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	RequestBody    string    `json:"request_body"`
	ResponseCode   int       `json:"response_code"`
	ResponseBody   string    `json:"response_body"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// APILogFilter for listing log entries.
type APILogFilter struct {
	APIKeyID int64
	Endpoint string
	Limit    int
	Offset   int
}
