package model

// PermissionCode is the closed catalog of namespace permissions. The
// catalog is frozen: resolution is a pure function over these five
// codes and never consults storage.
type PermissionCode string

const (
	PermNamespaceOwner PermissionCode = "namespace-owner"
	PermNamespaceAdmin PermissionCode = "namespace-admin"
	PermNamespaceEdit  PermissionCode = "namespace-edit"
	PermPackageCreate  PermissionCode = "package-create"
	PermPackageEdit    PermissionCode = "package-edit"
)

// PermissionCodes lists the catalog in seed order.
var PermissionCodes = []PermissionCode{
	PermNamespaceOwner,
	PermNamespaceAdmin,
	PermNamespaceEdit,
	PermPackageCreate,
	PermPackageEdit,
}

// PermissionDescriptions carries the human description served by the
// /permission catalog endpoint.
var PermissionDescriptions = map[PermissionCode]string{
	PermNamespaceOwner: "Namespace owner (can do anything to the namespace, including deleting it)",
	PermNamespaceAdmin: "Namespace administrator (can manage namespace users and roles)",
	PermNamespaceEdit:  "Can edit namespace metadata",
	PermPackageCreate:  "Can create packages in the namespace",
	PermPackageEdit:    "Can edit packages in the namespace",
}

func (c PermissionCode) Valid() bool {
	_, ok := PermissionDescriptions[c]
	return ok
}

// PermissionSet is the set of codes held by a user in one namespace.
type PermissionSet map[PermissionCode]struct{}

func NewPermissionSet(codes ...PermissionCode) PermissionSet {
	s := make(PermissionSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(code PermissionCode) bool {
	_, ok := s[code]
	return ok
}

// Implies reports whether the held set satisfies the required code
// under the implication hierarchy:
//
//	owner => admin => (edit, package-create, package-edit)
func (s PermissionSet) Implies(required PermissionCode) bool {
	switch required {
	case PermNamespaceOwner:
		return s.Has(PermNamespaceOwner)
	case PermNamespaceAdmin:
		return s.Implies(PermNamespaceOwner) || s.Has(PermNamespaceAdmin)
	default:
		return s.Implies(PermNamespaceAdmin) || s.Has(required)
	}
}

// ImpliesAll is the conjunction of Implies over required.
func (s PermissionSet) ImpliesAll(required []PermissionCode) bool {
	for _, code := range required {
		if !s.Implies(code) {
			return false
		}
	}
	return true
}
