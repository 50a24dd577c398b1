package server

import (
	"net/http"
	"time"

	"github.com/knotty-dev/knotty/internal/acl"
	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/auth"
	"github.com/knotty-dev/knotty/internal/schema"
)

// Version is stamped at build time.
var Version = "0.1.0"

func (h *handlers) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, schema.Info{Version: Version})
}

// handleLogin exchanges form credentials for a bearer token. The
// grant_type field must be "password"; any credential failure maps to
// the same response.
func (h *handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, apierror.Validation("request body is not a valid form"))
		return
	}
	if r.PostFormValue("grant_type") != "password" {
		writeError(w, apierror.Validation("grant_type: must be password"))
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := h.deps.store.GetUser(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil || !auth.VerifyPassword(password, user.PwHash) {
		writeError(w, apierror.InvalidCredentials())
		return
	}

	token, err := h.deps.tokens.Mint(user.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema.AuthToken{
		TokenType:   "bearer",
		AccessToken: token,
	})
}

func (h *handlers) handleRegister(w http.ResponseWriter, r *http.Request) {
	var data schema.UserRegister
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		usernameTaken, emailTaken, err := tx.UserRegistered(r.Context(), data.Username, data.Email)
		if err != nil {
			return err
		}
		if usernameTaken {
			return apierror.UsernameTaken()
		}
		if emailTaken {
			return apierror.EmailRegistered()
		}

		pwhash, err := auth.HashPassword(data.Password)
		if err != nil {
			return err
		}
		return tx.CreateUser(r.Context(), data.Username, data.Email, pwhash, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "User created")
}

// handleGetUser serves the public projection; admins additionally see
// the account id and global role.
func (h *handlers) handleGetUser(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("username")
	user := userFrom(r)

	if err := acl.Require(acl.CanViewUser(user, target)); err != nil {
		writeError(w, err)
		return
	}

	info, err := h.deps.store.GetUserInfo(r.Context(), target)
	if err != nil {
		writeError(w, err)
		return
	}
	if info == nil {
		// Only admins learn whether an account exists.
		if acl.IsAdmin(user) {
			writeError(w, apierror.NotFound("User"))
		} else {
			writeError(w, apierror.NoPermission())
		}
		return
	}

	if acl.IsAdmin(user) {
		writeJSON(w, http.StatusOK, info)
		return
	}
	writeJSON(w, http.StatusOK, info.UserInfo)
}

func (h *handlers) handleGetPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.deps.store.GetPermissions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}
