// Package server wires the HTTP surface of the registry: routing,
// authentication middleware, request logging and the mapping from
// domain errors to responses.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/knotty-dev/knotty/internal/auth"
	"github.com/knotty-dev/knotty/internal/storage"
)

// RunServer connects storage, applies the schema and serves until the
// listener fails.
func RunServer(cfg *ServerConfig) {
	configureLogger(cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		logger.Fatal("database_url is required (KNOTTY_SERVER_DATABASE_URL)")
	}

	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Database connection failed", "err", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Schema setup failed", "err", err)
	}

	deps := &serverDeps{
		store:  storeAdapter{store},
		tokens: auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL()),
		config: cfg,
	}

	mux := setupHandlers(deps)

	var handler http.Handler = mux
	handler = logRequests(handler)

	logger.Info("Knotty registry starting", "address", cfg.GetAddr())

	server := &http.Server{
		Addr:         cfg.GetAddr(),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		logger.Error("ListenAndServe", "err", err)
		os.Exit(1)
	}
}

// setupHandlers builds the route table. Reads are public; every
// mutation requires a bearer token. The user projection is the one
// read that needs the caller's identity, so it stays behind auth.
func setupHandlers(deps *serverDeps) *http.ServeMux {
	mux := http.NewServeMux()
	h := newHandlers(deps)

	mux.HandleFunc("GET /{$}", h.handleInfo)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("POST /user", h.handleRegister)
	mux.HandleFunc("GET /user/{username}", h.wrapWithAuth(h.handleGetUser))

	mux.HandleFunc("POST /namespace", h.wrapWithAuth(h.handleCreateNamespace))
	mux.HandleFunc("GET /namespace/{namespace}", h.handleGetNamespace)
	mux.HandleFunc("POST /namespace/{namespace}", h.wrapWithAuth(h.handleEditNamespace))
	mux.HandleFunc("DELETE /namespace/{namespace}", h.wrapWithAuth(h.handleDeleteNamespace))

	mux.HandleFunc("GET /namespace/{namespace}/user", h.handleListNamespaceUsers)
	mux.HandleFunc("POST /namespace/{namespace}/user", h.wrapWithAuth(h.handleAddNamespaceUser))
	mux.HandleFunc("GET /namespace/{namespace}/user/{username}", h.handleGetNamespaceUser)
	mux.HandleFunc("POST /namespace/{namespace}/user/{username}", h.wrapWithAuth(h.handleEditNamespaceUser))
	mux.HandleFunc("DELETE /namespace/{namespace}/user/{username}", h.wrapWithAuth(h.handleDeleteNamespaceUser))

	mux.HandleFunc("GET /namespace/{namespace}/role", h.handleListNamespaceRoles)
	mux.HandleFunc("POST /namespace/{namespace}/role", h.wrapWithAuth(h.handleCreateNamespaceRole))
	mux.HandleFunc("GET /namespace/{namespace}/role/{role}", h.handleGetNamespaceRole)
	mux.HandleFunc("POST /namespace/{namespace}/role/{role}", h.wrapWithAuth(h.handleEditNamespaceRole))
	mux.HandleFunc("DELETE /namespace/{namespace}/role/{role}", h.wrapWithAuth(h.handleDeleteNamespaceRole))

	mux.HandleFunc("GET /namespace/{namespace}/package", h.handleNamespacePackages)

	mux.HandleFunc("GET /package", h.handleListPackages)
	mux.HandleFunc("POST /package", h.wrapWithAuth(h.handleCreatePackage))
	mux.HandleFunc("GET /package/{package}", h.handleGetPackage)
	mux.HandleFunc("POST /package/{package}", h.wrapWithAuth(h.handleEditPackage))
	mux.HandleFunc("DELETE /package/{package}", h.wrapWithAuth(h.handleDeletePackage))

	mux.HandleFunc("GET /package/{package}/version", h.handleListVersions)
	mux.HandleFunc("POST /package/{package}/version", h.wrapWithAuth(h.handleCreateVersion))
	mux.HandleFunc("GET /package/{package}/version/{version}", h.handleGetVersion)
	mux.HandleFunc("POST /package/{package}/version/{version}", h.wrapWithAuth(h.handleEditVersion))
	mux.HandleFunc("DELETE /package/{package}/version/{version}", h.wrapWithAuth(h.handleDeleteVersion))

	mux.HandleFunc("GET /package/{package}/tag", h.handleListTags)
	mux.HandleFunc("POST /package/{package}/tag", h.wrapWithAuth(h.handleCreateTag))
	mux.HandleFunc("GET /package/{package}/tag/{tag}", h.handleGetTag)
	mux.HandleFunc("POST /package/{package}/tag/{tag}", h.wrapWithAuth(h.handleEditTag))
	mux.HandleFunc("DELETE /package/{package}/tag/{tag}", h.wrapWithAuth(h.handleDeleteTag))

	mux.HandleFunc("GET /permission", h.handleGetPermissions)

	return mux
}
