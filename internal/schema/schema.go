// Package schema defines the wire shapes of the registry API and the
// validation rules applied to request bodies. Read responses are
// projections built by the storage layer; mutating payloads carry a
// Validate method invoked by the router before any storage call.
package schema

import (
	"time"

	"github.com/knotty-dev/knotty/internal/model"
)

// Message is the body of every successful mutation response.
type Message struct {
	Message string `json:"message"`
}

// Info is served on GET /.
type Info struct {
	Version string `json:"version"`
}

// AuthToken is the /login response.
type AuthToken struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
}

type UserRegister struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserInfo struct {
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Registered time.Time `json:"registered"`
	Namespaces []string  `json:"namespaces"`
}

// FullUserInfo is the admin-visible projection of a user.
type FullUserInfo struct {
	UserInfo
	ID   int64          `json:"id"`
	Role model.UserRole `json:"role"`
}

type NamespaceCreate struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Homepage    *string `json:"homepage"`
}

type NamespaceEdit = NamespaceCreate

type Namespace struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Homepage    *string         `json:"homepage"`
	CreatedDate time.Time       `json:"created_date"`
	Users       []NamespaceUser `json:"users"`
	Roles       []NamespaceRole `json:"roles"`
}

type NamespaceUser struct {
	Username    string    `json:"username"`
	Role        string    `json:"role"`
	AddedDate   time.Time `json:"added_date"`
	AddedBy     string    `json:"added_by"`
	UpdatedDate time.Time `json:"updated_date"`
	UpdatedBy   string    `json:"updated_by"`
}

type NamespaceUserCreate struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type NamespaceUserEdit struct {
	Role string `json:"role"`
}

type NamespaceRole struct {
	Name        string                 `json:"name"`
	Permissions []model.PermissionCode `json:"permissions"`
	CreatedDate time.Time              `json:"created_date"`
	CreatedBy   string                 `json:"created_by"`
	UpdatedDate time.Time              `json:"updated_date"`
	UpdatedBy   string                 `json:"updated_by"`
}

type NamespaceRoleCreate struct {
	Name        string                 `json:"name"`
	Permissions []model.PermissionCode `json:"permissions"`
}

type NamespaceRoleEdit = NamespaceRoleCreate

// PackageBasic is the namespace-scoped package listing row.
type PackageBasic struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// PackageBrief is the global package listing row: no versions or tags.
type PackageBrief struct {
	PackageBasic
	Labels      []string  `json:"labels"`
	Namespace   *string   `json:"namespace"`
	Owners      []string  `json:"owners"`
	UpdatedDate time.Time `json:"updated_date"`
	Downloads   int64     `json:"downloads"`
}

// Package is the full aggregate served by GET /package/{name}.
type Package struct {
	PackageBrief
	CreatedDate time.Time        `json:"created_date"`
	CreatedBy   string           `json:"created_by"`
	UpdatedBy   string           `json:"updated_by"`
	Versions    []PackageVersion `json:"versions"`
	Tags        []PackageTag     `json:"tags"`
}

type PackageCreate struct {
	Name      string                 `json:"name"`
	Summary   string                 `json:"summary"`
	Namespace *string                `json:"namespace"`
	Labels    []string               `json:"labels"`
	Owners    []string               `json:"owners"`
	Versions  []PackageVersionCreate `json:"versions"`
	Tags      []PackageTag           `json:"tags"`
}

type PackageEdit struct {
	Name      string   `json:"name"`
	Summary   string   `json:"summary"`
	Namespace *string  `json:"namespace"`
	Labels    []string `json:"labels"`
	Owners    []string `json:"owners"`
}

type PackageChecksum struct {
	Algorithm model.ChecksumAlgorithm `json:"algorithm"`
	Value     string                  `json:"value"`
}

type PackageDependency struct {
	Package string `json:"package"`
	Spec    string `json:"spec"`
}

// PackageVersionBase is shared between create, edit and read shapes.
type PackageVersionBase struct {
	Version      string              `json:"version"`
	Description  string              `json:"description"`
	Repository   *string             `json:"repository"`
	Tarball      *string             `json:"tarball"`
	Checksums    []PackageChecksum   `json:"checksums"`
	Dependencies []PackageDependency `json:"dependencies"`
}

type PackageVersionCreate = PackageVersionBase

type PackageVersionEdit = PackageVersionBase

type PackageVersion struct {
	PackageVersionBase
	Downloads   int64     `json:"downloads"`
	CreatedDate time.Time `json:"created_date"`
	CreatedBy   string    `json:"created_by"`
}

type PackageTag struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Permission struct {
	Code        model.PermissionCode `json:"code"`
	Description string               `json:"description"`
}
