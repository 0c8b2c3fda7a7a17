package models

import "time"

// Grants holds the CRUD flags for one endpoint.
type Grants struct {
	Create bool `json:"create"`
	Read   bool `json:"read"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// PermissionGroup is a named bundle of per-endpoint CRUD grants. Permissions
// is the raw JSON mapping endpoint name -> grants; it is parsed lazily by
// the permission engine so malformed JSON can be reported as a config error
// rather than a load failure.
type PermissionGroup struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Permissions string    `json:"permissions"`
	IsSystem    bool      `json:"is_system"`
	Deleted     bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
