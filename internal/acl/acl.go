// Package acl composes identity, namespace permissions and package
// ownership into the boolean checks the endpoints require. Every
// predicate is pure: the caller loads whatever rows the check needs
// (membership permissions, ownership) and the engine never touches
// storage itself.
//
// Two global rules cut across everything: an admin passes every
// per-resource check, and a banned user fails every mutating check.
package acl

import (
	"strings"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/model"
)

func IsAdmin(u *model.User) bool {
	return u.Role == model.RoleAdmin
}

func IsActive(u *model.User) bool {
	return u.Role != model.RoleBanned
}

// CanViewUser allows self-views always, everything for admins, and
// views of others for any active user.
func CanViewUser(viewer *model.User, target string) bool {
	if strings.EqualFold(viewer.Username, target) {
		return true
	}
	if IsAdmin(viewer) {
		return true
	}
	return IsActive(viewer)
}

// CanCreateNamespace and CanCreatePackage only gate on the global
// role; anything further (namespace package-create) is a separate
// namespace-scope check.
func CanCreateNamespace(u *model.User) bool {
	return IsAdmin(u) || IsActive(u)
}

func CanCreatePackage(u *model.User) bool {
	return IsAdmin(u) || IsActive(u)
}

// CheckNamespace resolves a namespace-scope requirement against the
// caller's permissions in that namespace.
func CheckNamespace(u *model.User, held model.PermissionSet, required model.PermissionCode) bool {
	if IsAdmin(u) {
		return true
	}
	if !IsActive(u) {
		return false
	}
	return held.Implies(required)
}

func CheckNamespaceOwner(u *model.User, held model.PermissionSet) bool {
	return CheckNamespace(u, held, model.PermNamespaceOwner)
}

func CheckNamespaceAdmin(u *model.User, held model.PermissionSet) bool {
	return CheckNamespace(u, held, model.PermNamespaceAdmin)
}

func CheckNamespaceEdit(u *model.User, held model.PermissionSet) bool {
	return CheckNamespace(u, held, model.PermNamespaceEdit)
}

// CanEditPackage: owners may always edit their package; otherwise the
// caller needs package-edit in the package's namespace. A package
// outside any namespace is editable by its owners only.
func CanEditPackage(u *model.User, isOwner, inNamespace bool, held model.PermissionSet) bool {
	if IsAdmin(u) {
		return true
	}
	if !IsActive(u) {
		return false
	}
	if isOwner {
		return true
	}
	if !inNamespace {
		return false
	}
	return held.Implies(model.PermPackageEdit)
}

// CanDeletePackage is CanEditPackage with the bar raised to
// namespace-admin for non-owners.
func CanDeletePackage(u *model.User, isOwner, inNamespace bool, held model.PermissionSet) bool {
	if IsAdmin(u) {
		return true
	}
	if !IsActive(u) {
		return false
	}
	if isOwner {
		return true
	}
	if !inNamespace {
		return false
	}
	return held.Implies(model.PermNamespaceAdmin)
}

// CanGrantPermissions enforces role-assignment safety: a caller may
// hand out (or take away) only permissions they themselves imply.
// Admins are exempt.
func CanGrantPermissions(u *model.User, held model.PermissionSet, granted []model.PermissionCode) bool {
	if IsAdmin(u) {
		return true
	}
	if !IsActive(u) {
		return false
	}
	return held.ImpliesAll(granted)
}

// Require converts a failed check into the no-permission error.
func Require(check bool) error {
	if !check {
		return apierror.NoPermission()
	}
	return nil
}
