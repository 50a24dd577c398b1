package acl

import (
	"testing"

	"github.com/knotty-dev/knotty/internal/model"
)

var (
	regular = &model.User{Username: "alice", Role: model.RoleRegular}
	admin   = &model.User{Username: "root", Role: model.RoleAdmin}
	banned  = &model.User{Username: "mallory", Role: model.RoleBanned}
)

func perms(codes ...model.PermissionCode) model.PermissionSet {
	return model.NewPermissionSet(codes...)
}

func TestCanViewUser(t *testing.T) {
	if !CanViewUser(banned, "Mallory") {
		t.Error("self-view is allowed even when banned")
	}
	if CanViewUser(banned, "alice") {
		t.Error("banned user cannot view others")
	}
	if !CanViewUser(regular, "bob") {
		t.Error("active user can view others")
	}
	if !CanViewUser(admin, "bob") {
		t.Error("admin can view anyone")
	}
}

func TestCreateChecks(t *testing.T) {
	if !CanCreateNamespace(regular) || !CanCreateNamespace(admin) {
		t.Error("active users can create namespaces")
	}
	if CanCreateNamespace(banned) {
		t.Error("banned user cannot create namespaces")
	}
	if CanCreatePackage(banned) {
		t.Error("banned user cannot create packages")
	}
}

func TestCheckNamespace(t *testing.T) {
	tests := []struct {
		name     string
		user     *model.User
		held     model.PermissionSet
		required model.PermissionCode
		want     bool
	}{
		{"admin bypasses with no permissions", admin, perms(), model.PermNamespaceOwner, true},
		{"banned fails with owner", banned, perms(model.PermNamespaceOwner), model.PermNamespaceEdit, false},
		{"owner passes owner check", regular, perms(model.PermNamespaceOwner), model.PermNamespaceOwner, true},
		{"admin permission passes edit via implication", regular, perms(model.PermNamespaceAdmin), model.PermNamespaceEdit, true},
		{"edit fails admin check", regular, perms(model.PermNamespaceEdit), model.PermNamespaceAdmin, false},
		{"non-member fails everything", regular, perms(), model.PermNamespaceEdit, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckNamespace(tt.user, tt.held, tt.required); got != tt.want {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCanEditPackage(t *testing.T) {
	tests := []struct {
		name        string
		user        *model.User
		isOwner     bool
		inNamespace bool
		held        model.PermissionSet
		want        bool
	}{
		{"admin always", admin, false, false, perms(), true},
		{"banned never", banned, true, true, perms(model.PermNamespaceOwner), false},
		{"owner of detached package", regular, true, false, perms(), true},
		{"non-owner of detached package", regular, false, false, perms(), false},
		{"member with package-edit", regular, false, true, perms(model.PermPackageEdit), true},
		{"member with namespace-admin", regular, false, true, perms(model.PermNamespaceAdmin), true},
		{"member with package-create only", regular, false, true, perms(model.PermPackageCreate), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanEditPackage(tt.user, tt.isOwner, tt.inNamespace, tt.held); got != tt.want {
				t.Fatalf("want %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCanDeletePackage(t *testing.T) {
	// Deletion raises the non-owner bar from package-edit to
	// namespace-admin.
	if CanDeletePackage(regular, false, true, perms(model.PermPackageEdit)) {
		t.Error("package-edit is not enough to delete")
	}
	if !CanDeletePackage(regular, false, true, perms(model.PermNamespaceAdmin)) {
		t.Error("namespace-admin may delete")
	}
	if !CanDeletePackage(regular, true, false, perms()) {
		t.Error("owner may delete a detached package")
	}
}

func TestCanGrantPermissions(t *testing.T) {
	ownerGrant := []model.PermissionCode{model.PermNamespaceOwner}
	editGrant := []model.PermissionCode{model.PermNamespaceEdit, model.PermPackageEdit}

	if !CanGrantPermissions(admin, perms(), ownerGrant) {
		t.Error("admin may grant anything")
	}
	if CanGrantPermissions(banned, perms(model.PermNamespaceOwner), editGrant) {
		t.Error("banned user may grant nothing")
	}
	if !CanGrantPermissions(regular, perms(model.PermNamespaceOwner), ownerGrant) {
		t.Error("owner may grant owner")
	}
	if CanGrantPermissions(regular, perms(model.PermNamespaceAdmin), ownerGrant) {
		t.Error("admin permission must not grant owner")
	}
	if !CanGrantPermissions(regular, perms(model.PermNamespaceAdmin), editGrant) {
		t.Error("admin permission grants implied codes")
	}
	if !CanGrantPermissions(regular, perms(), nil) {
		t.Error("empty grant is always allowed for active users")
	}
}

func TestRequire(t *testing.T) {
	if err := Require(true); err != nil {
		t.Fatalf("passing check: %v", err)
	}
	if err := Require(false); err == nil {
		t.Fatal("failed check should yield an error")
	}
}
