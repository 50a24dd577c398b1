package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/knotty-dev/knotty/internal/acl"
	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

func permSet(codes []model.PermissionCode) model.PermissionSet {
	set := model.PermissionSet{}
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

func grantsOwner(codes []model.PermissionCode) bool {
	for _, code := range codes {
		if code == model.PermNamespaceOwner {
			return true
		}
	}
	return false
}

func soleOwner(owners []string, username string) bool {
	return len(owners) == 1 && strings.EqualFold(owners[0], username)
}

// heldPermissions loads the caller's permission set in the namespace.
func (h *handlers) heldPermissions(r *http.Request, store registryStore, namespace string) (model.PermissionSet, error) {
	return store.GetNamespaceUserPermissions(r.Context(), namespace, userFrom(r).Username)
}

func (h *handlers) handleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	var data schema.NamespaceCreate
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)
	if err := acl.Require(acl.CanCreateNamespace(user)); err != nil {
		writeError(w, err)
		return
	}

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		return tx.CreateNamespace(r.Context(), data, h.deps.config.DefaultOwnerRole, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Namespace created")
}

func (h *handlers) handleGetNamespace(w http.ResponseWriter, r *http.Request) {
	ns, err := h.deps.store.GetNamespace(r.Context(), r.PathValue("namespace"))
	if err != nil {
		writeError(w, err)
		return
	}
	if ns == nil {
		writeError(w, apierror.NotFound("Namespace"))
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *handlers) handleEditNamespace(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	var data schema.NamespaceEdit
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		if _, ok, err := tx.GetNamespaceID(r.Context(), name); err != nil {
			return err
		} else if !ok {
			return apierror.NotFound("Namespace")
		}
		held, err := h.heldPermissions(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CheckNamespaceEdit(userFrom(r), held)); err != nil {
			return err
		}
		return tx.EditNamespace(r.Context(), name, data)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Namespace edited")
}

func (h *handlers) handleDeleteNamespace(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		if _, ok, err := tx.GetNamespaceID(r.Context(), name); err != nil {
			return err
		} else if !ok {
			return apierror.NotFound("Namespace")
		}
		held, err := h.heldPermissions(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CheckNamespaceOwner(userFrom(r), held)); err != nil {
			return err
		}
		return tx.DeleteNamespace(r.Context(), name)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Namespace deleted")
}

func (h *handlers) handleListNamespaceUsers(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	if _, ok, err := h.deps.store.GetNamespaceID(r.Context(), name); err != nil {
		writeError(w, err)
		return
	} else if !ok {
		writeError(w, apierror.NotFound("Namespace"))
		return
	}

	users, err := h.deps.store.GetNamespaceUsers(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *handlers) handleGetNamespaceUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.deps.store.GetNamespaceUser(r.Context(), r.PathValue("namespace"), r.PathValue("username"))
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, apierror.NotFound("User"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleAddNamespaceUser grants a member a role. The caller needs
// namespace-admin and may only hand out a role whose permissions they
// themselves imply.
func (h *handlers) handleAddNamespaceUser(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	var data schema.NamespaceUserCreate
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		nsID, ok, err := tx.GetNamespaceID(r.Context(), name)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Namespace")
		}
		held, err := h.heldPermissions(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CheckNamespaceAdmin(user, held)); err != nil {
			return err
		}

		rolePerms, ok, err := tx.GetNamespaceRolePermissions(r.Context(), nsID, data.Role)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Role")
		}
		if err := acl.Require(acl.CanGrantPermissions(user, held, rolePerms)); err != nil {
			return err
		}

		return tx.CreateNamespaceUser(r.Context(), nsID, data, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Namespace user added")
}

// handleEditNamespaceUser moves a member to another role. The caller
// must imply both the member's current role and the new one; demoting
// the only owner is rejected.
func (h *handlers) handleEditNamespaceUser(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	target := r.PathValue("username")
	var data schema.NamespaceUserEdit
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		nsID, ok, err := tx.GetNamespaceID(r.Context(), name)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Namespace")
		}
		held, err := h.heldPermissions(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CheckNamespaceAdmin(user, held)); err != nil {
			return err
		}

		member, err := tx.GetNamespaceUser(r.Context(), name, target)
		if err != nil {
			return err
		}
		if member == nil {
			return apierror.NotFound("User")
		}
		oldPerms, ok, err := tx.GetNamespaceRolePermissions(r.Context(), nsID, member.Role)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Role")
		}
		newPerms, ok, err := tx.GetNamespaceRolePermissions(r.Context(), nsID, data.Role)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Role")
		}
		if err := acl.Require(acl.CanGrantPermissions(user, held, oldPerms)); err != nil {
			return err
		}
		if err := acl.Require(acl.CanGrantPermissions(user, held, newPerms)); err != nil {
			return err
		}

		if grantsOwner(oldPerms) && !grantsOwner(newPerms) {
			owners, err := tx.GetNamespaceOwners(r.Context(), nsID)
			if err != nil {
				return err
			}
			if soleOwner(owners, target) {
				return apierror.NoNamespaceOwnerRemains()
			}
		}

		return tx.EditNamespaceUser(r.Context(), nsID, target, data, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Namespace user edited")
}

func (h *handlers) handleDeleteNamespaceUser(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	target := r.PathValue("username")
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		nsID, ok, err := tx.GetNamespaceID(r.Context(), name)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Namespace")
		}
		held, err := h.heldPermissions(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CheckNamespaceAdmin(user, held)); err != nil {
			return err
		}

		member, err := tx.GetNamespaceUser(r.Context(), name, target)
		if err != nil {
			return err
		}
		if member == nil {
			return apierror.NotFound("User")
		}
		targetPerms, ok, err := tx.GetNamespaceRolePermissions(r.Context(), nsID, member.Role)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Role")
		}
		if err := acl.Require(acl.CanGrantPermissions(user, held, targetPerms)); err != nil {
			return err
		}

		if grantsOwner(targetPerms) {
			owners, err := tx.GetNamespaceOwners(r.Context(), nsID)
			if err != nil {
				return err
			}
			if soleOwner(owners, target) {
				return apierror.NoNamespaceOwnerRemains()
			}
		}

		return tx.DeleteNamespaceUser(r.Context(), nsID, target)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Namespace user removed")
}

func (h *handlers) handleListNamespaceRoles(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	if _, ok, err := h.deps.store.GetNamespaceID(r.Context(), name); err != nil {
		writeError(w, err)
		return
	} else if !ok {
		writeError(w, apierror.NotFound("Namespace"))
		return
	}

	roles, err := h.deps.store.GetNamespaceRoles(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (h *handlers) handleGetNamespaceRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.deps.store.GetNamespaceRole(r.Context(), r.PathValue("namespace"), r.PathValue("role"))
	if err != nil {
		writeError(w, err)
		return
	}
	if role == nil {
		writeError(w, apierror.NotFound("Role"))
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (h *handlers) handleCreateNamespaceRole(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	var data schema.NamespaceRoleCreate
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		nsID, ok, err := tx.GetNamespaceID(r.Context(), name)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Namespace")
		}
		held, err := h.heldPermissions(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CheckNamespaceAdmin(user, held)); err != nil {
			return err
		}
		if err := acl.Require(acl.CanGrantPermissions(user, held, data.Permissions)); err != nil {
			return err
		}

		return tx.CreateNamespaceRole(r.Context(), nsID, data, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Namespace role created")
}

// handleEditNamespaceRole renames a role and replaces its permission
// set. Stripping namespace-owner from the role every owner depends on
// is rejected.
func (h *handlers) handleEditNamespaceRole(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	roleName := r.PathValue("role")
	var data schema.NamespaceRoleEdit
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		nsID, ok, err := tx.GetNamespaceID(r.Context(), name)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Namespace")
		}
		held, err := h.heldPermissions(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CheckNamespaceAdmin(user, held)); err != nil {
			return err
		}

		oldPerms, ok, err := tx.GetNamespaceRolePermissions(r.Context(), nsID, roleName)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Role")
		}
		if err := acl.Require(acl.CanGrantPermissions(user, held, oldPerms)); err != nil {
			return err
		}
		if err := acl.Require(acl.CanGrantPermissions(user, held, data.Permissions)); err != nil {
			return err
		}

		if grantsOwner(oldPerms) && !grantsOwner(data.Permissions) {
			if err := h.guardRoleCarriesLastOwners(r, tx, nsID, name, roleName); err != nil {
				return err
			}
		}

		return tx.EditNamespaceRole(r.Context(), nsID, roleName, data, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Namespace role edited")
}

func (h *handlers) handleDeleteNamespaceRole(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	roleName := r.PathValue("role")
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		nsID, ok, err := tx.GetNamespaceID(r.Context(), name)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Namespace")
		}
		held, err := h.heldPermissions(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CheckNamespaceAdmin(user, held)); err != nil {
			return err
		}

		rolePerms, ok, err := tx.GetNamespaceRolePermissions(r.Context(), nsID, roleName)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Role")
		}
		if err := acl.Require(acl.CanGrantPermissions(user, held, rolePerms)); err != nil {
			return err
		}

		empty, err := tx.NamespaceRoleEmpty(r.Context(), nsID, roleName)
		if err != nil {
			return err
		}
		if !empty {
			return apierror.RoleNotEmpty()
		}

		return tx.DeleteNamespaceRole(r.Context(), nsID, roleName)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Namespace role removed")
}

// guardRoleCarriesLastOwners rejects the edit when every current
// owner's ownership flows through the role being stripped.
func (h *handlers) guardRoleCarriesLastOwners(r *http.Request, tx registryStore, nsID int64, namespace, roleName string) error {
	owners, err := tx.GetNamespaceOwners(r.Context(), nsID)
	if err != nil {
		return err
	}
	if len(owners) == 0 {
		return nil
	}

	members, err := tx.GetNamespaceUsers(r.Context(), namespace)
	if err != nil {
		return err
	}
	inRole := map[string]struct{}{}
	for _, m := range members {
		if strings.EqualFold(m.Role, roleName) {
			inRole[strings.ToLower(m.Username)] = struct{}{}
		}
	}
	for _, owner := range owners {
		if _, ok := inRole[strings.ToLower(owner)]; !ok {
			// An owner outside this role keeps the namespace owned.
			return nil
		}
	}
	return apierror.NoNamespaceOwnerRemains()
}

func (h *handlers) handleNamespacePackages(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	if _, ok, err := h.deps.store.GetNamespaceID(r.Context(), name); err != nil {
		writeError(w, err)
		return
	} else if !ok {
		writeError(w, apierror.NotFound("Namespace"))
		return
	}

	packages, err := h.deps.store.GetNamespacePackages(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, packages)
}
