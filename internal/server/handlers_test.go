package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/knotty-dev/knotty/internal/auth"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
	"github.com/knotty-dev/knotty/internal/storage"
)

// fakeStore satisfies registryStore for handler tests. Each test sets
// only the methods its scenario reaches; an unexpected call panics.
type fakeStore struct {
	registryStore

	getUser                     func(username string) (*model.User, error)
	getUserInfo                 func(username string) (*schema.FullUserInfo, error)
	userRegistered              func(username, email string) (bool, bool, error)
	createUser                  func(username, email, pwhash string) error
	getUnknownUsers             func(usernames []string) ([]string, error)
	getNamespaceID              func(name string) (int64, bool, error)
	createNamespace             func(data schema.NamespaceCreate, ownerRole string, owner *model.User) error
	getNamespaceOwners          func(namespaceID int64) ([]string, error)
	getNamespaceUsers           func(name string) ([]schema.NamespaceUser, error)
	getNamespaceUser            func(namespace, username string) (*schema.NamespaceUser, error)
	getNamespaceUserPermissions func(namespace, username string) (model.PermissionSet, error)
	editNamespaceUser           func(namespaceID int64, username string, data schema.NamespaceUserEdit) error
	deleteNamespaceUser         func(namespaceID int64, username string) error
	getNamespaceRolePermissions func(namespaceID int64, role string) ([]model.PermissionCode, bool, error)
	deleteNamespaceRole         func(namespaceID int64, role string) error
	namespaceRoleEmpty          func(namespaceID int64, role string) (bool, error)
	getPackageAccess            func(name string, userID int64) (*storage.PackageAccess, error)
	getUnknownPackages          func(names []string) ([]string, error)
	createPackage               func(data schema.PackageCreate, creator *model.User) error
	editPackage                 func(pkgID int64, data schema.PackageEdit) error
	deletePackage               func(pkgID int64) error
	packageHasDependents        func(pkgID int64) (bool, error)
	versionExists               func(pkgID int64, version string) (bool, error)
	createPackageVersion        func(pkgID int64, data schema.PackageVersionCreate) error
	getPackages                 func(query string) ([]schema.PackageBrief, error)
	getPermissions              func() ([]schema.Permission, error)
}

func (f *fakeStore) InTx(ctx context.Context, fn func(tx registryStore) error) error {
	return fn(f)
}

func (f *fakeStore) GetUser(_ context.Context, username string) (*model.User, error) {
	return f.getUser(username)
}

func (f *fakeStore) GetUserInfo(_ context.Context, username string) (*schema.FullUserInfo, error) {
	return f.getUserInfo(username)
}

func (f *fakeStore) UserRegistered(_ context.Context, username, email string) (bool, bool, error) {
	return f.userRegistered(username, email)
}

func (f *fakeStore) CreateUser(_ context.Context, username, email, pwhash string, _ time.Time) error {
	return f.createUser(username, email, pwhash)
}

func (f *fakeStore) GetUnknownUsers(_ context.Context, usernames []string) ([]string, error) {
	return f.getUnknownUsers(usernames)
}

func (f *fakeStore) GetNamespaceID(_ context.Context, name string) (int64, bool, error) {
	return f.getNamespaceID(name)
}

func (f *fakeStore) CreateNamespace(_ context.Context, data schema.NamespaceCreate, ownerRole string, owner *model.User, _ time.Time) error {
	return f.createNamespace(data, ownerRole, owner)
}

func (f *fakeStore) GetNamespaceOwners(_ context.Context, namespaceID int64) ([]string, error) {
	return f.getNamespaceOwners(namespaceID)
}

func (f *fakeStore) GetNamespaceUsers(_ context.Context, name string) ([]schema.NamespaceUser, error) {
	return f.getNamespaceUsers(name)
}

func (f *fakeStore) GetNamespaceUser(_ context.Context, namespace, username string) (*schema.NamespaceUser, error) {
	return f.getNamespaceUser(namespace, username)
}

func (f *fakeStore) GetNamespaceUserPermissions(_ context.Context, namespace, username string) (model.PermissionSet, error) {
	return f.getNamespaceUserPermissions(namespace, username)
}

func (f *fakeStore) EditNamespaceUser(_ context.Context, namespaceID int64, username string, data schema.NamespaceUserEdit, _ *model.User, _ time.Time) error {
	return f.editNamespaceUser(namespaceID, username, data)
}

func (f *fakeStore) DeleteNamespaceUser(_ context.Context, namespaceID int64, username string) error {
	return f.deleteNamespaceUser(namespaceID, username)
}

func (f *fakeStore) GetNamespaceRolePermissions(_ context.Context, namespaceID int64, role string) ([]model.PermissionCode, bool, error) {
	return f.getNamespaceRolePermissions(namespaceID, role)
}

func (f *fakeStore) DeleteNamespaceRole(_ context.Context, namespaceID int64, role string) error {
	return f.deleteNamespaceRole(namespaceID, role)
}

func (f *fakeStore) NamespaceRoleEmpty(_ context.Context, namespaceID int64, role string) (bool, error) {
	return f.namespaceRoleEmpty(namespaceID, role)
}

func (f *fakeStore) GetPackageAccess(_ context.Context, name string, userID int64) (*storage.PackageAccess, error) {
	return f.getPackageAccess(name, userID)
}

func (f *fakeStore) GetUnknownPackages(_ context.Context, names []string) ([]string, error) {
	return f.getUnknownPackages(names)
}

func (f *fakeStore) CreatePackage(_ context.Context, data schema.PackageCreate, creator *model.User, _ time.Time) error {
	return f.createPackage(data, creator)
}

func (f *fakeStore) EditPackage(_ context.Context, pkgID int64, data schema.PackageEdit, _ *model.User, _ time.Time) error {
	return f.editPackage(pkgID, data)
}

func (f *fakeStore) DeletePackage(_ context.Context, pkgID int64) error {
	return f.deletePackage(pkgID)
}

func (f *fakeStore) PackageHasDependents(_ context.Context, pkgID int64) (bool, error) {
	return f.packageHasDependents(pkgID)
}

func (f *fakeStore) VersionExists(_ context.Context, pkgID int64, version string) (bool, error) {
	return f.versionExists(pkgID, version)
}

func (f *fakeStore) CreatePackageVersion(_ context.Context, pkgID int64, data schema.PackageVersionCreate, _ *model.User, _ time.Time) error {
	return f.createPackageVersion(pkgID, data)
}

func (f *fakeStore) GetPackages(_ context.Context, query string) ([]schema.PackageBrief, error) {
	return f.getPackages(query)
}

func (f *fakeStore) GetPermissions(_ context.Context) ([]schema.Permission, error) {
	return f.getPermissions()
}

var (
	testAlice = &model.User{ID: 1, Username: "alice", Role: model.RoleRegular}
	testRoot  = &model.User{ID: 2, Username: "root", Role: model.RoleAdmin}
)

// newTestMux wires the routes against the fake store. The fake's
// getUser is extended so the auth middleware can resolve the listed
// accounts.
func newTestMux(t *testing.T, store *fakeStore, accounts ...*model.User) (*http.ServeMux, *auth.TokenIssuer) {
	t.Helper()

	users := map[string]*model.User{}
	for _, u := range accounts {
		users[strings.ToLower(u.Username)] = u
	}
	inner := store.getUser
	store.getUser = func(username string) (*model.User, error) {
		if u, ok := users[strings.ToLower(username)]; ok {
			return u, nil
		}
		if inner != nil {
			return inner(username)
		}
		return nil, nil
	}

	tokens := auth.NewTokenIssuer("test-secret", time.Minute)
	deps := &serverDeps{
		store:  store,
		tokens: tokens,
		config: &ServerConfig{DefaultOwnerRole: "owner"},
	}
	return setupHandlers(deps), tokens
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func mintFor(t *testing.T, tokens *auth.TokenIssuer, user *model.User) string {
	t.Helper()
	token, err := tokens.Mint(user.Username)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return token
}

type errorBody struct {
	Detail    string   `json:"detail"`
	What      string   `json:"what"`
	Usernames []string `json:"usernames"`
	Packages  []string `json:"packages"`
}

func decodeErr(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestInfoEndpoint(t *testing.T) {
	mux, _ := newTestMux(t, &fakeStore{})

	rec := doJSON(t, mux, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d", rec.Code)
	}
	var info schema.Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != Version {
		t.Fatalf("version: want %q, got %q", Version, info.Version)
	}
}

func TestAuthFailures(t *testing.T) {
	mux, tokens := newTestMux(t, &fakeStore{}, testAlice)

	t.Run("missing header", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/user/alice", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: want 401, got %d", rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("WWW-Authenticate: want Bearer, got %q", got)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/user/alice", "garbage", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: want 401, got %d", rec.Code)
		}
		if got := decodeErr(t, rec).Detail; got != "Could not authenticate the user" {
			t.Fatalf("detail: %q", got)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		expired, err := auth.NewTokenIssuer("test-secret", -time.Minute).Mint("alice")
		if err != nil {
			t.Fatalf("mint: %v", err)
		}
		rec := doJSON(t, mux, http.MethodGet, "/user/alice", expired, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: want 401, got %d", rec.Code)
		}
		if got := decodeErr(t, rec).Detail; got != "Session expired" {
			t.Fatalf("detail: %q", got)
		}
	})

	t.Run("token for unknown account", func(t *testing.T) {
		ghost := mintFor(t, tokens, &model.User{Username: "ghost"})
		rec := doJSON(t, mux, http.MethodGet, "/user/alice", ghost, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: want 401, got %d", rec.Code)
		}
	})

	t.Run("missing token on a mutation", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/package", "", schema.PackageCreate{Name: "libfoo"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: want 401, got %d", rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("WWW-Authenticate: want Bearer, got %q", got)
		}
	})
}

// Listings and lookups are served without a token; only the user
// projection and the mutations sit behind auth.
func TestReadsServedWithoutToken(t *testing.T) {
	store := &fakeStore{
		getPackages: func(query string) ([]schema.PackageBrief, error) {
			return []schema.PackageBrief{}, nil
		},
		getPermissions: func() ([]schema.Permission, error) {
			return []schema.Permission{{Code: model.PermNamespaceOwner, Description: "Namespace owner"}}, nil
		},
		getPackageAccess: func(name string, userID int64) (*storage.PackageAccess, error) {
			t.Fatal("package reads must not consult access projections")
			return nil, nil
		},
	}
	mux, _ := newTestMux(t, store)

	t.Run("package listing", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/package", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: want 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var briefs []schema.PackageBrief
		if err := json.Unmarshal(rec.Body.Bytes(), &briefs); err != nil {
			t.Fatalf("decode: %v", err)
		}
	})

	t.Run("permission catalog", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/permission", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: want 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var perms []schema.Permission
		if err := json.Unmarshal(rec.Body.Bytes(), &perms); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(perms) != 1 {
			t.Fatalf("permissions: %v", perms)
		}
	})

	t.Run("namespace lookup", func(t *testing.T) {
		store.getNamespaceID = func(name string) (int64, bool, error) { return 0, false, nil }
		rec := doJSON(t, mux, http.MethodGet, "/namespace/tools/package", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status: want 404, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestLogin(t *testing.T) {
	pwhash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	alice := &model.User{ID: 1, Username: "alice", Role: model.RoleRegular, PwHash: pwhash}
	mux, _ := newTestMux(t, &fakeStore{}, alice)

	login := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	t.Run("success", func(t *testing.T) {
		rec := login(url.Values{
			"grant_type": {"password"},
			"username":   {"alice"},
			"password":   {"hunter2"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status: want 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var token schema.AuthToken
		if err := json.Unmarshal(rec.Body.Bytes(), &token); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if token.TokenType != "bearer" || token.AccessToken == "" {
			t.Fatalf("token: %+v", token)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := login(url.Values{
			"grant_type": {"password"},
			"username":   {"alice"},
			"password":   {"wrong"},
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: want 401, got %d", rec.Code)
		}
		if got := decodeErr(t, rec).Detail; got != "Invalid username and/or password" {
			t.Fatalf("detail: %q", got)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := login(url.Values{
			"grant_type": {"password"},
			"username":   {"nobody"},
			"password":   {"hunter2"},
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status: want 401, got %d", rec.Code)
		}
	})

	t.Run("bad grant type", func(t *testing.T) {
		rec := login(url.Values{
			"grant_type": {"client_credentials"},
			"username":   {"alice"},
			"password":   {"hunter2"},
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: want 422, got %d", rec.Code)
		}
	})
}

func TestRegister(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var createdHash string
		store := &fakeStore{
			userRegistered: func(username, email string) (bool, bool, error) {
				return false, false, nil
			},
			createUser: func(username, email, pwhash string) error {
				if username != "bob" || email != "bob@example.com" {
					t.Fatalf("create args: %s %s", username, email)
				}
				createdHash = pwhash
				return nil
			},
		}
		mux, _ := newTestMux(t, store)

		rec := doJSON(t, mux, http.MethodPost, "/user", "", schema.UserRegister{
			Username: "bob",
			Email:    "bob@example.com",
			Password: "pw",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status: want 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if !auth.VerifyPassword("pw", createdHash) {
			t.Fatal("stored hash should verify the password")
		}
	})

	t.Run("username taken", func(t *testing.T) {
		store := &fakeStore{
			userRegistered: func(username, email string) (bool, bool, error) {
				return true, false, nil
			},
		}
		mux, _ := newTestMux(t, store)

		rec := doJSON(t, mux, http.MethodPost, "/user", "", schema.UserRegister{
			Username: "bob", Email: "bob@example.com", Password: "pw",
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status: want 400, got %d", rec.Code)
		}
		if got := decodeErr(t, rec).Detail; got != "Username is already taken" {
			t.Fatalf("detail: %q", got)
		}
	})

	t.Run("invalid username", func(t *testing.T) {
		mux, _ := newTestMux(t, &fakeStore{})
		rec := doJSON(t, mux, http.MethodPost, "/user", "", schema.UserRegister{
			Username: "_bob", Email: "bob@example.com", Password: "pw",
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status: want 422, got %d", rec.Code)
		}
	})
}

func TestGetUserProjection(t *testing.T) {
	full := &schema.FullUserInfo{
		UserInfo: schema.UserInfo{
			Username: "alice",
			Email:    "alice@example.com",
		},
		ID:   1,
		Role: model.RoleRegular,
	}
	store := &fakeStore{
		getUserInfo: func(username string) (*schema.FullUserInfo, error) {
			return full, nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice, testRoot)

	t.Run("regular viewer sees public shape", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/user/alice", mintFor(t, tokens, testAlice), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status: want 200, got %d", rec.Code)
		}
		var raw map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, ok := raw["role"]; ok {
			t.Fatal("public projection must not expose the global role")
		}
	})

	t.Run("admin sees full shape", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/user/alice", mintFor(t, tokens, testRoot), nil)
		var raw map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if raw["role"] != "regular" {
			t.Fatalf("admin projection should expose the role: %v", raw)
		}
	})

	t.Run("unknown user is hidden from non-admins", func(t *testing.T) {
		store.getUserInfo = func(username string) (*schema.FullUserInfo, error) { return nil, nil }
		rec := doJSON(t, mux, http.MethodGet, "/user/ghost", mintFor(t, tokens, testAlice), nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status: want 403, got %d", rec.Code)
		}
		if got := decodeErr(t, rec).Detail; got != "Access denied due to insufficient permissions" {
			t.Fatalf("detail: %q", got)
		}
	})

	t.Run("unknown user is reported to admins", func(t *testing.T) {
		store.getUserInfo = func(username string) (*schema.FullUserInfo, error) { return nil, nil }
		rec := doJSON(t, mux, http.MethodGet, "/user/ghost", mintFor(t, tokens, testRoot), nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status: want 404, got %d", rec.Code)
		}
	})
}

func TestCreateNamespace(t *testing.T) {
	t.Run("creator becomes owner", func(t *testing.T) {
		var gotRole string
		var gotOwner *model.User
		store := &fakeStore{
			createNamespace: func(data schema.NamespaceCreate, ownerRole string, owner *model.User) error {
				gotRole, gotOwner = ownerRole, owner
				return nil
			},
		}
		mux, tokens := newTestMux(t, store, testAlice)

		rec := doJSON(t, mux, http.MethodPost, "/namespace", mintFor(t, tokens, testAlice),
			schema.NamespaceCreate{Name: "tools"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status: want 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if gotRole != "owner" {
			t.Fatalf("owner role: want owner, got %q", gotRole)
		}
		if gotOwner == nil || gotOwner.Username != "alice" {
			t.Fatalf("owner: %+v", gotOwner)
		}
	})

	t.Run("banned user is rejected", func(t *testing.T) {
		mallory := &model.User{ID: 3, Username: "mallory", Role: model.RoleBanned}
		mux, tokens := newTestMux(t, &fakeStore{}, mallory)

		rec := doJSON(t, mux, http.MethodPost, "/namespace", mintFor(t, tokens, mallory),
			schema.NamespaceCreate{Name: "tools"})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status: want 403, got %d", rec.Code)
		}
	})
}

func TestCreatePackageUnknownOwners(t *testing.T) {
	store := &fakeStore{
		getUnknownUsers: func(usernames []string) ([]string, error) {
			return []string{"ghost"}, nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodPost, "/package", mintFor(t, tokens, testAlice),
		schema.PackageCreate{Name: "libfoo", Owners: []string{"ghost"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeErr(t, rec)
	if len(body.Usernames) != 1 || body.Usernames[0] != "ghost" {
		t.Fatalf("usernames: %v", body.Usernames)
	}
}

func TestCreatePackageInNamespaceNeedsPermission(t *testing.T) {
	ns := "tools"
	store := &fakeStore{
		getNamespaceID: func(name string) (int64, bool, error) { return 7, true, nil },
		getNamespaceUserPermissions: func(namespace, username string) (model.PermissionSet, error) {
			return model.NewPermissionSet(), nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodPost, "/package", mintFor(t, tokens, testAlice),
		schema.PackageCreate{Name: "libfoo", Namespace: &ns})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: want 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestEditPackageWithoutOwners(t *testing.T) {
	store := &fakeStore{
		getPackageAccess: func(name string, userID int64) (*storage.PackageAccess, error) {
			return &storage.PackageAccess{ID: 5, Name: "libfoo", IsOwner: true}, nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodPost, "/package/libfoo", mintFor(t, tokens, testAlice),
		schema.PackageEdit{Name: "libfoo", Owners: nil})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeErr(t, rec).Detail; got != "Operation would leave package without owner" {
		t.Fatalf("detail: %q", got)
	}
}

func TestEditPackageByNonOwner(t *testing.T) {
	ns := "tools"
	store := &fakeStore{
		getPackageAccess: func(name string, userID int64) (*storage.PackageAccess, error) {
			nsID := int64(7)
			return &storage.PackageAccess{ID: 5, Name: "libfoo", NamespaceID: &nsID, Namespace: &ns}, nil
		},
		getNamespaceUserPermissions: func(namespace, username string) (model.PermissionSet, error) {
			return model.NewPermissionSet(), nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodPost, "/package/libfoo", mintFor(t, tokens, testAlice),
		schema.PackageEdit{Name: "libfoo", Owners: []string{"alice"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: want 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDeletePackageWithDependents(t *testing.T) {
	store := &fakeStore{
		getPackageAccess: func(name string, userID int64) (*storage.PackageAccess, error) {
			return &storage.PackageAccess{ID: 5, Name: "libfoo", IsOwner: true}, nil
		},
		packageHasDependents: func(pkgID int64) (bool, error) { return true, nil },
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodDelete, "/package/libfoo", mintFor(t, tokens, testAlice), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeErr(t, rec).Detail; got != "Package has dependent packages" {
		t.Fatalf("detail: %q", got)
	}
}

func TestCreateVersionConflict(t *testing.T) {
	store := &fakeStore{
		getPackageAccess: func(name string, userID int64) (*storage.PackageAccess, error) {
			return &storage.PackageAccess{ID: 5, Name: "libfoo", IsOwner: true}, nil
		},
		versionExists: func(pkgID int64, version string) (bool, error) { return true, nil },
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodPost, "/package/libfoo/version", mintFor(t, tokens, testAlice),
		schema.PackageVersionCreate{Version: "1.0.0"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: want 409, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeErr(t, rec)
	if body.What != "Version" {
		t.Fatalf("what: want Version, got %q", body.What)
	}
}

func TestCreateVersionUnknownDependency(t *testing.T) {
	store := &fakeStore{
		getPackageAccess: func(name string, userID int64) (*storage.PackageAccess, error) {
			return &storage.PackageAccess{ID: 5, Name: "libfoo", IsOwner: true}, nil
		},
		versionExists: func(pkgID int64, version string) (bool, error) { return false, nil },
		getUnknownPackages: func(names []string) ([]string, error) {
			return []string{"libbar"}, nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodPost, "/package/libfoo/version", mintFor(t, tokens, testAlice),
		schema.PackageVersionCreate{
			Version:      "1.0.0",
			Dependencies: []schema.PackageDependency{{Package: "libbar", Spec: ">=1.0"}},
		})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeErr(t, rec)
	if len(body.Packages) != 1 || body.Packages[0] != "libbar" {
		t.Fatalf("packages: %v", body.Packages)
	}
}

func TestDeleteRoleWithMembers(t *testing.T) {
	store := &fakeStore{
		getNamespaceID: func(name string) (int64, bool, error) { return 7, true, nil },
		getNamespaceUserPermissions: func(namespace, username string) (model.PermissionSet, error) {
			return model.NewPermissionSet(model.PermNamespaceOwner), nil
		},
		getNamespaceRolePermissions: func(namespaceID int64, role string) ([]model.PermissionCode, bool, error) {
			return []model.PermissionCode{model.PermNamespaceEdit}, true, nil
		},
		namespaceRoleEmpty: func(namespaceID int64, role string) (bool, error) { return false, nil },
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodDelete, "/namespace/tools/role/editors", mintFor(t, tokens, testAlice), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeErr(t, rec).Detail; got != "Cannot remove namespace role with members" {
		t.Fatalf("detail: %q", got)
	}
}

func TestDemoteSoleOwner(t *testing.T) {
	rolePerms := map[string][]model.PermissionCode{
		"owner":  {model.PermNamespaceOwner},
		"editor": {model.PermNamespaceEdit},
	}
	store := &fakeStore{
		getNamespaceID: func(name string) (int64, bool, error) { return 7, true, nil },
		getNamespaceUserPermissions: func(namespace, username string) (model.PermissionSet, error) {
			return model.NewPermissionSet(model.PermNamespaceOwner), nil
		},
		getNamespaceUser: func(namespace, username string) (*schema.NamespaceUser, error) {
			return &schema.NamespaceUser{Username: "alice", Role: "owner"}, nil
		},
		getNamespaceRolePermissions: func(namespaceID int64, role string) ([]model.PermissionCode, bool, error) {
			perms, ok := rolePerms[role]
			return perms, ok, nil
		},
		getNamespaceOwners: func(namespaceID int64) ([]string, error) {
			return []string{"alice"}, nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodPost, "/namespace/tools/user/alice", mintFor(t, tokens, testAlice),
		schema.NamespaceUserEdit{Role: "editor"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeErr(t, rec).Detail; got != "Operation would leave namespace without owner" {
		t.Fatalf("detail: %q", got)
	}
}

func TestDemoteOwnerWithAnotherRemaining(t *testing.T) {
	rolePerms := map[string][]model.PermissionCode{
		"owner":  {model.PermNamespaceOwner},
		"editor": {model.PermNamespaceEdit},
	}
	var edited bool
	store := &fakeStore{
		getNamespaceID: func(name string) (int64, bool, error) { return 7, true, nil },
		getNamespaceUserPermissions: func(namespace, username string) (model.PermissionSet, error) {
			return model.NewPermissionSet(model.PermNamespaceOwner), nil
		},
		getNamespaceUser: func(namespace, username string) (*schema.NamespaceUser, error) {
			return &schema.NamespaceUser{Username: "bob", Role: "owner"}, nil
		},
		getNamespaceRolePermissions: func(namespaceID int64, role string) ([]model.PermissionCode, bool, error) {
			perms, ok := rolePerms[role]
			return perms, ok, nil
		},
		getNamespaceOwners: func(namespaceID int64) ([]string, error) {
			return []string{"alice", "bob"}, nil
		},
		editNamespaceUser: func(namespaceID int64, username string, data schema.NamespaceUserEdit) error {
			edited = true
			return nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodPost, "/namespace/tools/user/bob", mintFor(t, tokens, testAlice),
		schema.NamespaceUserEdit{Role: "editor"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !edited {
		t.Fatal("edit should reach storage")
	}
}

func TestRemoveSoleOwner(t *testing.T) {
	store := &fakeStore{
		getNamespaceID: func(name string) (int64, bool, error) { return 7, true, nil },
		getNamespaceUserPermissions: func(namespace, username string) (model.PermissionSet, error) {
			return model.NewPermissionSet(model.PermNamespaceOwner), nil
		},
		getNamespaceUser: func(namespace, username string) (*schema.NamespaceUser, error) {
			return &schema.NamespaceUser{Username: "alice", Role: "owner"}, nil
		},
		getNamespaceRolePermissions: func(namespaceID int64, role string) ([]model.PermissionCode, bool, error) {
			return []model.PermissionCode{model.PermNamespaceOwner}, true, nil
		},
		getNamespaceOwners: func(namespaceID int64) ([]string, error) {
			return []string{"alice"}, nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodDelete, "/namespace/tools/user/alice", mintFor(t, tokens, testAlice), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeErr(t, rec).Detail; got != "Operation would leave namespace without owner" {
		t.Fatalf("detail: %q", got)
	}
}

func TestAddNamespaceUserGrantCeiling(t *testing.T) {
	// An admin-but-not-owner member cannot hand out the owner role.
	store := &fakeStore{
		getNamespaceID: func(name string) (int64, bool, error) { return 7, true, nil },
		getNamespaceUserPermissions: func(namespace, username string) (model.PermissionSet, error) {
			return model.NewPermissionSet(model.PermNamespaceAdmin), nil
		},
		getNamespaceRolePermissions: func(namespaceID int64, role string) ([]model.PermissionCode, bool, error) {
			return []model.PermissionCode{model.PermNamespaceOwner}, true, nil
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodPost, "/namespace/tools/user", mintFor(t, tokens, testAlice),
		schema.NamespaceUserCreate{Username: "bob", Role: "owner"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: want 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBodyNotJSON(t *testing.T) {
	mux, tokens := newTestMux(t, &fakeStore{}, testAlice)

	req := httptest.NewRequest(http.MethodPost, "/namespace", strings.NewReader("{oops"))
	req.Header.Set("Authorization", "Bearer "+mintFor(t, tokens, testAlice))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status: want 422, got %d", rec.Code)
	}
	if got := decodeErr(t, rec).Detail; got != "Request body is not valid JSON" {
		t.Fatalf("detail: %q", got)
	}
}

func TestInternalErrorsStayGeneric(t *testing.T) {
	store := &fakeStore{
		getUserInfo: func(username string) (*schema.FullUserInfo, error) {
			return nil, fmt.Errorf("connection reset")
		},
	}
	mux, tokens := newTestMux(t, store, testAlice)

	rec := doJSON(t, mux, http.MethodGet, "/user/alice", mintFor(t, tokens, testAlice), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: want 500, got %d", rec.Code)
	}
	if got := decodeErr(t, rec).Detail; got != "Internal server error" {
		t.Fatalf("detail must not leak the cause: %q", got)
	}
}
