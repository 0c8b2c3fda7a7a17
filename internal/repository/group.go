package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/risecrm/apigate/internal/models"
)

type GroupRepository struct {
	db *sql.DB
}

func NewGroupRepository(db *sql.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create creates a permission group. Permissions is the raw JSON mapping.
func (r *GroupRepository) Create(name, permissions string, isSystem bool) (*models.PermissionGroup, error) {
	now := time.Now().UTC()
	res, err := r.db.Exec(`
		INSERT INTO permission_groups (name, permissions, is_system, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		name, permissions, isSystem, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(id)
}

// GetByID returns a group by ID, including soft-deleted rows.
func (r *GroupRepository) GetByID(id int64) (*models.PermissionGroup, error) {
	g := &models.PermissionGroup{}
	err := r.db.QueryRow(`
		SELECT id, name, permissions, is_system, deleted, created_at, updated_at
		FROM permission_groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.Permissions, &g.IsSystem, &g.Deleted, &g.CreatedAt, &g.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// LoadForKey resolves the group attached to a key for authorization. A key
// with no group at all gets nil (unrestricted access, backward compat). A key
// whose group was soft-deleted or removed gets a group with an empty
// permissions map, which the engine denies across the board. The two cases
// must not be unified.
func (r *GroupRepository) LoadForKey(groupID *int64) (*models.PermissionGroup, error) {
	if groupID == nil {
		return nil, nil
	}

	g, err := r.GetByID(*groupID)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Deleted {
		return &models.PermissionGroup{ID: *groupID, Permissions: "{}", Deleted: true}, nil
	}
	return g, nil
}

// List returns all non-deleted groups
func (r *GroupRepository) List() ([]models.PermissionGroup, error) {
	rows, err := r.db.Query(`
		SELECT id, name, permissions, is_system, deleted, created_at, updated_at
		FROM permission_groups WHERE deleted = 0 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.PermissionGroup
	for rows.Next() {
		var g models.PermissionGroup
		if err := rows.Scan(&g.ID, &g.Name, &g.Permissions, &g.IsSystem, &g.Deleted, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Rename renames a group. System groups are protected from rename.
func (r *GroupRepository) Rename(id int64, name string) error {
	result, err := r.db.Exec(`
		UPDATE permission_groups SET name = ?, updated_at = ?
		WHERE id = ? AND deleted = 0 AND is_system = 0`,
		name, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("permission group not found or is a system group")
	}
	return nil
}

// SetPermissions replaces a group's permissions JSON.
func (r *GroupRepository) SetPermissions(id int64, permissions string) error {
	result, err := r.db.Exec(`
		UPDATE permission_groups SET permissions = ?, updated_at = ?
		WHERE id = ? AND deleted = 0`,
		permissions, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("permission group not found")
	}
	return nil
}

// Delete soft-deletes a group. Keys referencing it lose all access.
func (r *GroupRepository) Delete(id int64) error {
	result, err := r.db.Exec(`
		UPDATE permission_groups SET deleted = 1, updated_at = ?
		WHERE id = ? AND deleted = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("permission group not found")
	}
	return nil
}
