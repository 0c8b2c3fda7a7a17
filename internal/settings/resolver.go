// Package settings resolves effective gateway settings: a per-key override
// wins over the global default. The same resolution rule backs both the
// HTTPS enforcement and CORS.
package settings

import (
	"github.com/risecrm/apigate/internal/models"
)

// Setting names used by the gateway.
const (
	APIEnabled         = "api_enabled"
	DefaultIPWhitelist = "default_ip_whitelist"
	CORSEnabled        = "cors_enabled"
	CORSAllowedOrigins = "cors_allowed_origins"
	RequireHTTPS       = "require_https"
	LogBodiesEnabled   = "log_bodies_enabled"
	LogMaxBodySize     = "log_max_body_size"
	LogRetentionDays   = "log_retention_days"
	LastLogCleanup     = "last_log_cleanup"
)

// Store reads global settings. Satisfied by repository.SettingsRepository.
type Store interface {
	Get(key string) (string, error)
}

// Resolver computes effective settings for one request. The key is nil until
// authentication has run; without a key only globals apply.
type Resolver struct {
	store Store
	key   *models.APIKey
}

func NewResolver(store Store, key *models.APIKey) *Resolver {
	return &Resolver{store: store, key: key}
}

// WithKey returns a resolver bound to the authenticated key.
func (r *Resolver) WithKey(key *models.APIKey) *Resolver {
	return &Resolver{store: r.store, key: key}
}

// Bool resolves a boolean setting. A non-inherit per-key override wins;
// otherwise the global value's '1' comparison decides.
func (r *Resolver) Bool(name string) (bool, error) {
	if r.key != nil {
		var override models.Override
		switch name {
		case RequireHTTPS:
			override = r.key.RequireHTTPS
		case CORSEnabled:
			override = r.key.CORSEnabled
		}
		switch override {
		case models.ForceOn:
			return true, nil
		case models.ForceOff:
			return false, nil
		}
	}

	value, err := r.store.Get(name)
	if err != nil {
		return false, err
	}
	return value == "1", nil
}

// String resolves a string setting, per-key value if present, else global.
func (r *Resolver) String(name string) (string, error) {
	if r.key != nil && name == CORSAllowedOrigins && r.key.CORSAllowedOrigins != nil {
		return *r.key.CORSAllowedOrigins, nil
	}
	return r.store.Get(name)
}
