// Package model defines the registry's domain entities and the closed
// enums they reference. Records mirror the relational schema; the
// string natural keys (username, namespace name, package name) compare
// case-insensitively at the database layer.
package model

import "time"

// UserRole is the global role attached to every account.
type UserRole string

const (
	RoleRegular UserRole = "regular"
	RoleAdmin   UserRole = "admin"
	RoleBanned  UserRole = "banned"
)

func (r UserRole) Valid() bool {
	switch r {
	case RoleRegular, RoleAdmin, RoleBanned:
		return true
	}
	return false
}

// User persists forever once registered; other records keep user ids
// for audit, so there is no delete path.
type User struct {
	ID         int64
	Username   string
	Email      string
	PwHash     string
	Registered time.Time
	Role       UserRole
}

type Namespace struct {
	ID          int64
	Name        string
	Description string
	Homepage    *string
	CreatedDate time.Time
}

type NamespaceRole struct {
	ID          int64
	NamespaceID int64
	Name        string
	CreatedDate time.Time
	CreatedBy   int64
	UpdatedDate time.Time
	UpdatedBy   int64
	Permissions []PermissionCode
}

type NamespaceMember struct {
	NamespaceID int64
	UserID      int64
	RoleID      int64
	AddedDate   time.Time
	AddedBy     int64
	UpdatedDate time.Time
	UpdatedBy   int64
}

type Package struct {
	ID          int64
	Name        string
	NamespaceID *int64
	Summary     string
	CreatedDate time.Time
	CreatedBy   int64
	UpdatedDate time.Time
	UpdatedBy   int64
}

type PackageVersion struct {
	ID          int64
	PackageID   int64
	Version     string
	Downloads   int64
	CreatedDate time.Time
	CreatedBy   int64
	Description string
	Repository  *string
	Tarball     *string
}

type PackageVersionChecksum struct {
	VersionID int64
	Algorithm ChecksumAlgorithm
	Value     []byte
}

type PackageVersionDependency struct {
	VersionID    int64
	DepPackageID int64
	Spec         string
}

type PackageTag struct {
	PackageID int64
	Name      string
	VersionID int64
}

type Label struct {
	ID   int64
	Name string
}

// ChecksumAlgorithm is the closed set of accepted digest algorithms.
type ChecksumAlgorithm string

const (
	ChecksumMD5    ChecksumAlgorithm = "md5"
	ChecksumSHA1   ChecksumAlgorithm = "sha1"
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	ChecksumSHA512 ChecksumAlgorithm = "sha512"
)

// Length returns the raw digest length in bytes, or 0 for an unknown
// algorithm.
func (a ChecksumAlgorithm) Length() int {
	switch a {
	case ChecksumMD5:
		return 16
	case ChecksumSHA1:
		return 20
	case ChecksumSHA256:
		return 32
	case ChecksumSHA512:
		return 64
	}
	return 0
}

func (a ChecksumAlgorithm) Valid() bool { return a.Length() != 0 }

// ChecksumAlgorithms lists the catalog in canonical order.
var ChecksumAlgorithms = []ChecksumAlgorithm{
	ChecksumMD5, ChecksumSHA1, ChecksumSHA256, ChecksumSHA512,
}
