package models

import "time"

// API key status values. Transitions are managed by the admin tooling; the
// gateway only reads them.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusRevoked  = "revoked"
)

// Override is a tri-state per-key setting that either inherits the global
// value or forces it on/off.
type Override int

const (
	Inherit Override = iota
	ForceOn
	ForceOff
)

// OverrideFromColumn maps a nullable settings column to an Override.
// NULL inherits; anything truthy ('1', 'true', 1) forces on.
func OverrideFromColumn(value *string) Override {
	if value == nil {
		return Inherit
	}
	switch *value {
	case "1", "true", "TRUE":
		return ForceOn
	default:
		return ForceOff
	}
}

// APIKey represents a caller identity.
type APIKey struct {
	ID                 int64      `json:"id"`
	Name               string     `json:"name"`
	Key                string     `json:"key"`
	Secret             string     `json:"-"` // password hash, never expose
	Status             string     `json:"status"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	PermissionGroupID  *int64     `json:"permission_group_id,omitempty"`
	IPWhitelist        string     `json:"ip_whitelist,omitempty"` // newline-delimited
	CORSAllowedOrigins *string    `json:"cors_allowed_origins,omitempty"`
	RequireHTTPS       Override   `json:"-"`
	CORSEnabled        Override   `json:"-"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	RateLimitPerHour   int        `json:"rate_limit_per_hour"`
	RateLimitPerDay    int        `json:"rate_limit_per_day"`
	TotalCalls         int64      `json:"total_calls"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	CreatedBy          int64      `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
}

// IsExpired reports whether the key's expiry, if set, has passed.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.UTC().After(k.ExpiresAt.UTC())
}

// Limits bundles the three window limits for the rate limiter.
type Limits struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

// Limits returns the key's configured rate limits.
func (k *APIKey) Limits() Limits {
	return Limits{
		PerMinute: k.RateLimitPerMinute,
		PerHour:   k.RateLimitPerHour,
		PerDay:    k.RateLimitPerDay,
	}
}

// APIKeyCreateResult is returned when creating a new key. It carries the
// plaintext secret, shown exactly once.
type APIKeyCreateResult struct {
	APIKey
	PlainSecret string `json:"secret"`
}
