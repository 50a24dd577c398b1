package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

func (s *Store) getNamespaceRoleID(ctx context.Context, namespaceID int64, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`SELECT id FROM namespace_roles WHERE namespace_id = $1 AND LOWER(name) = LOWER($2)`,
		namespaceID, name,
	).Scan(&id)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get role id: %w", err)
	}
	return id, true, nil
}

// GetNamespaceRoles loads the roles with their permission sets in two
// queries regardless of role count.
func (s *Store) GetNamespaceRoles(ctx context.Context, namespace string) ([]schema.NamespaceRole, error) {
	rows, err := s.db.Query(ctx, `
		SELECT nr.id, nr.name, nr.created_date, cu.username, nr.updated_date, uu.username
		FROM namespace_roles nr
		JOIN namespaces n ON n.id = nr.namespace_id
		JOIN users cu ON cu.id = nr.created_by
		JOIN users uu ON uu.id = nr.updated_by
		WHERE LOWER(n.name) = LOWER($1)
		ORDER BY nr.created_date, nr.name`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("get namespace roles: %w", err)
	}
	defer rows.Close()

	roles := []schema.NamespaceRole{}
	ids := []int64{}
	index := map[int64]int{}
	for rows.Next() {
		var id int64
		var r schema.NamespaceRole
		if err := rows.Scan(&id, &r.Name, &r.CreatedDate, &r.CreatedBy, &r.UpdatedDate, &r.UpdatedBy); err != nil {
			return nil, err
		}
		r.Permissions = []model.PermissionCode{}
		index[id] = len(roles)
		roles = append(roles, r)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return roles, nil
	}

	prows, err := s.db.Query(ctx, `
		SELECT nrp.role_id, p.code
		FROM namespace_role_permissions nrp
		JOIN permissions p ON p.id = nrp.permission_id
		WHERE nrp.role_id = ANY ($1)
		ORDER BY p.id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("get role permissions: %w", err)
	}
	defer prows.Close()

	for prows.Next() {
		var roleID int64
		var code model.PermissionCode
		if err := prows.Scan(&roleID, &code); err != nil {
			return nil, err
		}
		i := index[roleID]
		roles[i].Permissions = append(roles[i].Permissions, code)
	}
	return roles, prows.Err()
}

func (s *Store) GetNamespaceRole(ctx context.Context, namespace, role string) (*schema.NamespaceRole, error) {
	var id int64
	var r schema.NamespaceRole
	err := s.db.QueryRow(ctx, `
		SELECT nr.id, nr.name, nr.created_date, cu.username, nr.updated_date, uu.username
		FROM namespace_roles nr
		JOIN namespaces n ON n.id = nr.namespace_id
		JOIN users cu ON cu.id = nr.created_by
		JOIN users uu ON uu.id = nr.updated_by
		WHERE LOWER(n.name) = LOWER($1) AND LOWER(nr.name) = LOWER($2)`,
		namespace, role,
	).Scan(&id, &r.Name, &r.CreatedDate, &r.CreatedBy, &r.UpdatedDate, &r.UpdatedBy)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get namespace role: %w", err)
	}

	r.Permissions, err = s.getRolePermissions(ctx, id)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) getRolePermissions(ctx context.Context, roleID int64) ([]model.PermissionCode, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.code
		FROM namespace_role_permissions nrp
		JOIN permissions p ON p.id = nrp.permission_id
		WHERE nrp.role_id = $1
		ORDER BY p.id`,
		roleID,
	)
	if err != nil {
		return nil, fmt.Errorf("get role permissions: %w", err)
	}
	defer rows.Close()

	codes := []model.PermissionCode{}
	for rows.Next() {
		var code model.PermissionCode
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// GetNamespaceRolePermissions resolves a role's permission set for the
// grant-safety check without building the full projection.
func (s *Store) GetNamespaceRolePermissions(ctx context.Context, namespaceID int64, role string) ([]model.PermissionCode, bool, error) {
	id, ok, err := s.getNamespaceRoleID(ctx, namespaceID, role)
	if err != nil || !ok {
		return nil, false, err
	}
	codes, err := s.getRolePermissions(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return codes, true, nil
}

func (s *Store) CreateNamespaceRole(ctx context.Context, namespaceID int64, data schema.NamespaceRoleCreate, createdBy *model.User, now time.Time) error {
	var roleID int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO namespace_roles (namespace_id, name, created_date, created_by, updated_date, updated_by)
		VALUES ($1, $2, $3, $4, $3, $4)
		RETURNING id`,
		namespaceID, data.Name, now, createdBy.ID,
	).Scan(&roleID)
	if err != nil {
		return translate(err, "Role")
	}
	return s.setRolePermissions(ctx, roleID, data.Permissions)
}

func (s *Store) EditNamespaceRole(ctx context.Context, namespaceID int64, role string, data schema.NamespaceRoleEdit, updatedBy *model.User, now time.Time) error {
	var roleID int64
	err := s.db.QueryRow(ctx, `
		UPDATE namespace_roles SET name = $3, updated_date = $4, updated_by = $5
		WHERE namespace_id = $1 AND LOWER(name) = LOWER($2)
		RETURNING id`,
		namespaceID, role, data.Name, now, updatedBy.ID,
	).Scan(&roleID)
	if isNoRows(err) {
		return apierror.NotFound("Role")
	}
	if err != nil {
		return translate(err, "Role")
	}

	if _, err := s.db.Exec(ctx,
		`DELETE FROM namespace_role_permissions WHERE role_id = $1`, roleID,
	); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	return s.setRolePermissions(ctx, roleID, data.Permissions)
}

func (s *Store) setRolePermissions(ctx context.Context, roleID int64, codes []model.PermissionCode) error {
	for _, code := range codes {
		_, err := s.db.Exec(ctx, `
			INSERT INTO namespace_role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions WHERE code = $2`,
			roleID, code,
		)
		if err != nil {
			return fmt.Errorf("set role permission %s: %w", code, err)
		}
	}
	return nil
}

func (s *Store) DeleteNamespaceRole(ctx context.Context, namespaceID int64, role string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM namespace_roles WHERE namespace_id = $1 AND LOWER(name) = LOWER($2)`,
		namespaceID, role,
	)
	if err != nil {
		return translate(err, "Role")
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("Role")
	}
	return nil
}

// NamespaceRoleEmpty reports whether no member holds the role. Roles
// with members cannot be deleted.
func (s *Store) NamespaceRoleEmpty(ctx context.Context, namespaceID int64, role string) (bool, error) {
	var members int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM namespace_users nu
		JOIN namespace_roles nr ON nr.id = nu.role_id
		WHERE nr.namespace_id = $1 AND LOWER(nr.name) = LOWER($2)`,
		namespaceID, role,
	).Scan(&members)
	if err != nil {
		return false, fmt.Errorf("count role members: %w", err)
	}
	return members == 0, nil
}

// GetPermissions serves the permission catalog in seed order.
func (s *Store) GetPermissions(ctx context.Context) ([]schema.Permission, error) {
	rows, err := s.db.Query(ctx,
		`SELECT code, description FROM permissions ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("get permissions: %w", err)
	}
	defer rows.Close()

	perms := []schema.Permission{}
	for rows.Next() {
		var p schema.Permission
		if err := rows.Scan(&p.Code, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
