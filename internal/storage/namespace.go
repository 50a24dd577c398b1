package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

// GetNamespaceID resolves a namespace name, reporting existence
// separately from errors.
func (s *Store) GetNamespaceID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`SELECT id FROM namespaces WHERE LOWER(name) = LOWER($1)`, name,
	).Scan(&id)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get namespace id: %w", err)
	}
	return id, true, nil
}

// GetNamespace builds the full aggregate: metadata plus members and
// roles, each loaded with a single query.
func (s *Store) GetNamespace(ctx context.Context, name string) (*schema.Namespace, error) {
	var ns schema.Namespace
	err := s.db.QueryRow(ctx, `
		SELECT name, description, homepage, created_date
		FROM namespaces WHERE LOWER(name) = LOWER($1)`,
		name,
	).Scan(&ns.Name, &ns.Description, &ns.Homepage, &ns.CreatedDate)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get namespace: %w", err)
	}

	if ns.Users, err = s.GetNamespaceUsers(ctx, name); err != nil {
		return nil, err
	}
	if ns.Roles, err = s.GetNamespaceRoles(ctx, name); err != nil {
		return nil, err
	}
	return &ns, nil
}

// CreateNamespace creates the namespace, its owner role carrying the
// namespace-owner permission, and the creator's membership in one
// step. ownerRole is the configured default role name.
func (s *Store) CreateNamespace(ctx context.Context, data schema.NamespaceCreate, ownerRole string, owner *model.User, now time.Time) error {
	var nsID int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO namespaces (name, description, homepage, created_date)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		data.Name, data.Description, data.Homepage, now,
	).Scan(&nsID)
	if err != nil {
		return translate(err, "Namespace")
	}

	var roleID int64
	err = s.db.QueryRow(ctx, `
		INSERT INTO namespace_roles (namespace_id, name, created_date, created_by, updated_date, updated_by)
		VALUES ($1, $2, $3, $4, $3, $4)
		RETURNING id`,
		nsID, ownerRole, now, owner.ID,
	).Scan(&roleID)
	if err != nil {
		return translate(err, "Role")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO namespace_role_permissions (role_id, permission_id)
		SELECT $1, id FROM permissions WHERE code = $2`,
		roleID, model.PermNamespaceOwner,
	)
	if err != nil {
		return fmt.Errorf("grant owner permission: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO namespace_users (namespace_id, user_id, role_id, added_date, added_by, updated_date, updated_by)
		VALUES ($1, $2, $3, $4, $2, $4, $2)`,
		nsID, owner.ID, roleID, now,
	)
	if err != nil {
		return fmt.Errorf("add namespace owner: %w", err)
	}
	return nil
}

func (s *Store) EditNamespace(ctx context.Context, name string, data schema.NamespaceEdit) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE namespaces SET name = $2, description = $3, homepage = $4
		WHERE LOWER(name) = LOWER($1)`,
		name, data.Name, data.Description, data.Homepage,
	)
	if err != nil {
		return translate(err, "Namespace")
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("Namespace")
	}
	return nil
}

// DeleteNamespace removes the namespace; members and roles cascade,
// packages are detached by the FK's SET NULL.
func (s *Store) DeleteNamespace(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM namespaces WHERE LOWER(name) = LOWER($1)`, name,
	)
	if err != nil {
		return fmt.Errorf("delete namespace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("Namespace")
	}
	return nil
}

// GetNamespaceOwners lists the usernames of members whose role carries
// the namespace-owner permission. The no-owner-remains guards compare
// against this set.
func (s *Store) GetNamespaceOwners(ctx context.Context, namespaceID int64) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.username
		FROM namespace_users nu
		JOIN users u ON u.id = nu.user_id
		WHERE nu.namespace_id = $1
		  AND nu.role_id IN (
			SELECT nr.id
			FROM namespace_roles nr
			JOIN namespace_role_permissions nrp ON nrp.role_id = nr.id
			JOIN permissions p ON p.id = nrp.permission_id
			WHERE nr.namespace_id = $1 AND p.code = $2
		  )`,
		namespaceID, model.PermNamespaceOwner,
	)
	if err != nil {
		return nil, fmt.Errorf("get namespace owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		owners = append(owners, name)
	}
	return owners, rows.Err()
}

func (s *Store) GetNamespaceUsers(ctx context.Context, name string) ([]schema.NamespaceUser, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.username, nr.name, nu.added_date, au.username, nu.updated_date, uu.username
		FROM namespace_users nu
		JOIN namespaces n ON n.id = nu.namespace_id
		JOIN users u ON u.id = nu.user_id
		JOIN users au ON au.id = nu.added_by
		JOIN users uu ON uu.id = nu.updated_by
		JOIN namespace_roles nr ON nr.id = nu.role_id
		WHERE LOWER(n.name) = LOWER($1)
		ORDER BY nu.added_date, u.username`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("get namespace users: %w", err)
	}
	defer rows.Close()

	users := []schema.NamespaceUser{}
	for rows.Next() {
		var u schema.NamespaceUser
		if err := rows.Scan(&u.Username, &u.Role, &u.AddedDate, &u.AddedBy, &u.UpdatedDate, &u.UpdatedBy); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) GetNamespaceUser(ctx context.Context, namespace, username string) (*schema.NamespaceUser, error) {
	var u schema.NamespaceUser
	err := s.db.QueryRow(ctx, `
		SELECT u.username, nr.name, nu.added_date, au.username, nu.updated_date, uu.username
		FROM namespace_users nu
		JOIN namespaces n ON n.id = nu.namespace_id
		JOIN users u ON u.id = nu.user_id
		JOIN users au ON au.id = nu.added_by
		JOIN users uu ON uu.id = nu.updated_by
		JOIN namespace_roles nr ON nr.id = nu.role_id
		WHERE LOWER(n.name) = LOWER($1) AND LOWER(u.username) = LOWER($2)`,
		namespace, username,
	).Scan(&u.Username, &u.Role, &u.AddedDate, &u.AddedBy, &u.UpdatedDate, &u.UpdatedBy)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get namespace user: %w", err)
	}
	return &u, nil
}

// GetNamespaceUserPermissions returns the union of permissions over
// the member's role. A non-member gets the empty set.
func (s *Store) GetNamespaceUserPermissions(ctx context.Context, namespace, username string) (model.PermissionSet, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.code
		FROM namespace_users nu
		JOIN namespaces n ON n.id = nu.namespace_id
		JOIN users u ON u.id = nu.user_id
		JOIN namespace_role_permissions nrp ON nrp.role_id = nu.role_id
		JOIN permissions p ON p.id = nrp.permission_id
		WHERE LOWER(n.name) = LOWER($1) AND LOWER(u.username) = LOWER($2)`,
		namespace, username,
	)
	if err != nil {
		return nil, fmt.Errorf("get member permissions: %w", err)
	}
	defer rows.Close()

	perms := model.PermissionSet{}
	for rows.Next() {
		var code model.PermissionCode
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		perms[code] = struct{}{}
	}
	return perms, rows.Err()
}

func (s *Store) CreateNamespaceUser(ctx context.Context, namespaceID int64, data schema.NamespaceUserCreate, addedBy *model.User, now time.Time) error {
	user, err := s.GetUser(ctx, data.Username)
	if err != nil {
		return err
	}
	if user == nil {
		return apierror.NotFound("User")
	}

	roleID, ok, err := s.getNamespaceRoleID(ctx, namespaceID, data.Role)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.NotFound("Role")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO namespace_users (namespace_id, user_id, role_id, added_date, added_by, updated_date, updated_by)
		VALUES ($1, $2, $3, $4, $5, $4, $5)`,
		namespaceID, user.ID, roleID, now, addedBy.ID,
	)
	if err != nil {
		return translate(err, "User")
	}
	return nil
}

func (s *Store) EditNamespaceUser(ctx context.Context, namespaceID int64, username string, data schema.NamespaceUserEdit, updatedBy *model.User, now time.Time) error {
	roleID, ok, err := s.getNamespaceRoleID(ctx, namespaceID, data.Role)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.NotFound("Role")
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE namespace_users nu SET role_id = $3, updated_date = $4, updated_by = $5
		FROM users u
		WHERE nu.namespace_id = $1 AND nu.user_id = u.id AND LOWER(u.username) = LOWER($2)`,
		namespaceID, username, roleID, now, updatedBy.ID,
	)
	if err != nil {
		return fmt.Errorf("edit namespace user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("User")
	}
	return nil
}

func (s *Store) DeleteNamespaceUser(ctx context.Context, namespaceID int64, username string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM namespace_users nu
		USING users u
		WHERE nu.namespace_id = $1 AND nu.user_id = u.id AND LOWER(u.username) = LOWER($2)`,
		namespaceID, username,
	)
	if err != nil {
		return fmt.Errorf("delete namespace user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("User")
	}
	return nil
}
