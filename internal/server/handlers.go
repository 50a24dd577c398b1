package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/auth"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
	"github.com/knotty-dev/knotty/internal/storage"
)

// registryStore is the slice of the storage layer the handlers use.
// An interface here keeps the handlers testable without a database.
type registryStore interface {
	InTx(ctx context.Context, fn func(tx registryStore) error) error

	GetUser(ctx context.Context, username string) (*model.User, error)
	GetUserInfo(ctx context.Context, username string) (*schema.FullUserInfo, error)
	UserRegistered(ctx context.Context, username, email string) (usernameTaken, emailTaken bool, err error)
	CreateUser(ctx context.Context, username, email, pwhash string, registered time.Time) error
	GetUnknownUsers(ctx context.Context, usernames []string) ([]string, error)

	GetNamespace(ctx context.Context, name string) (*schema.Namespace, error)
	GetNamespaceID(ctx context.Context, name string) (int64, bool, error)
	CreateNamespace(ctx context.Context, data schema.NamespaceCreate, ownerRole string, owner *model.User, now time.Time) error
	EditNamespace(ctx context.Context, name string, data schema.NamespaceEdit) error
	DeleteNamespace(ctx context.Context, name string) error
	GetNamespaceOwners(ctx context.Context, namespaceID int64) ([]string, error)
	GetNamespaceUsers(ctx context.Context, name string) ([]schema.NamespaceUser, error)
	GetNamespaceUser(ctx context.Context, namespace, username string) (*schema.NamespaceUser, error)
	GetNamespaceUserPermissions(ctx context.Context, namespace, username string) (model.PermissionSet, error)
	CreateNamespaceUser(ctx context.Context, namespaceID int64, data schema.NamespaceUserCreate, addedBy *model.User, now time.Time) error
	EditNamespaceUser(ctx context.Context, namespaceID int64, username string, data schema.NamespaceUserEdit, updatedBy *model.User, now time.Time) error
	DeleteNamespaceUser(ctx context.Context, namespaceID int64, username string) error

	GetNamespaceRoles(ctx context.Context, namespace string) ([]schema.NamespaceRole, error)
	GetNamespaceRole(ctx context.Context, namespace, role string) (*schema.NamespaceRole, error)
	GetNamespaceRolePermissions(ctx context.Context, namespaceID int64, role string) ([]model.PermissionCode, bool, error)
	CreateNamespaceRole(ctx context.Context, namespaceID int64, data schema.NamespaceRoleCreate, createdBy *model.User, now time.Time) error
	EditNamespaceRole(ctx context.Context, namespaceID int64, role string, data schema.NamespaceRoleEdit, updatedBy *model.User, now time.Time) error
	DeleteNamespaceRole(ctx context.Context, namespaceID int64, role string) error
	NamespaceRoleEmpty(ctx context.Context, namespaceID int64, role string) (bool, error)
	GetPermissions(ctx context.Context) ([]schema.Permission, error)

	GetPackages(ctx context.Context, query string) ([]schema.PackageBrief, error)
	GetNamespacePackages(ctx context.Context, namespace string) ([]schema.PackageBasic, error)
	GetPackage(ctx context.Context, name string) (*schema.Package, error)
	GetPackageAccess(ctx context.Context, name string, userID int64) (*storage.PackageAccess, error)
	GetUnknownPackages(ctx context.Context, names []string) ([]string, error)
	CreatePackage(ctx context.Context, data schema.PackageCreate, creator *model.User, now time.Time) error
	EditPackage(ctx context.Context, pkgID int64, data schema.PackageEdit, editor *model.User, now time.Time) error
	DeletePackage(ctx context.Context, pkgID int64) error
	PackageHasDependents(ctx context.Context, pkgID int64) (bool, error)

	VersionExists(ctx context.Context, pkgID int64, version string) (bool, error)
	CreatePackageVersion(ctx context.Context, pkgID int64, data schema.PackageVersionCreate, createdBy *model.User, now time.Time) error
	EditPackageVersion(ctx context.Context, pkgID int64, version string, data schema.PackageVersionEdit, editor *model.User, now time.Time) error
	DeletePackageVersion(ctx context.Context, pkgID int64, version string, editor *model.User, now time.Time) error
	VersionHasTags(ctx context.Context, pkgID int64, version string) (bool, error)

	CreatePackageTag(ctx context.Context, pkgID int64, data schema.PackageTag, editor *model.User, now time.Time) error
	EditPackageTag(ctx context.Context, pkgID int64, name, version string, editor *model.User, now time.Time) error
	DeletePackageTag(ctx context.Context, pkgID int64, name string, editor *model.User, now time.Time) error
}

// storeAdapter lifts *storage.Store to registryStore; InTx rebinds the
// adapter to the transaction-scoped store.
type storeAdapter struct {
	*storage.Store
}

func (a storeAdapter) InTx(ctx context.Context, fn func(tx registryStore) error) error {
	return a.Store.InTx(ctx, func(tx *storage.Store) error {
		return fn(storeAdapter{tx})
	})
}

type serverDeps struct {
	store  registryStore
	tokens *auth.TokenIssuer
	config *ServerConfig
}

// handlers contains all HTTP handlers with their dependencies
type handlers struct {
	deps *serverDeps
}

func newHandlers(deps *serverDeps) *handlers {
	return &handlers{deps: deps}
}

type contextKey int

const userKey contextKey = 0

func userFrom(r *http.Request) *model.User {
	u, _ := r.Context().Value(userKey).(*model.User)
	return u
}

// wrapWithAuth resolves the bearer token to an account and stores it
// in the request context. Tokens for accounts that no longer exist
// fail the same way as malformed ones.
func (h *handlers) wrapWithAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, apierror.Unauthorized())
			return
		}

		username, err := h.deps.tokens.Identify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, err)
			return
		}

		user, err := h.deps.store.GetUser(r.Context(), username)
		if err != nil {
			writeError(w, err)
			return
		}
		if user == nil {
			writeError(w, apierror.Unauthorized())
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), userKey, user))
		handler(w, r)
	}
}
