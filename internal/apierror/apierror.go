// Package apierror is the registry's domain error taxonomy. Every
// variant carries an HTTP status and serializes to the wire shape
// `{"detail": ...}` plus optional structured fields. Handlers raise
// these as early as possible; the router owns the final serialization.
package apierror

import (
	"fmt"
	"net/http"
	"strings"
)

// Error is the common shape of every domain error.
type Error struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`

	// What identifies the entity for not-found / already-exists
	// responses (User, Namespace, Role, Package, Version, Tag).
	What string `json:"what,omitempty"`

	// Packages lists unresolved dependency targets.
	Packages []string `json:"packages,omitempty"`

	// Usernames lists unresolved owner references.
	Usernames []string `json:"usernames,omitempty"`

	// Header is an extra response header (WWW-Authenticate on 401s).
	Header http.Header `json:"-"`
}

func (e *Error) Error() string { return e.Detail }

func bearerHeader() http.Header {
	h := http.Header{}
	h.Set("WWW-Authenticate", "Bearer")
	return h
}

// Validation reports a request body that failed schema checks. Detail
// holds one field-level message per line.
func Validation(messages ...string) *Error {
	return &Error{
		Status: http.StatusUnprocessableEntity,
		Detail: strings.Join(messages, "\n"),
	}
}

func Unauthorized() *Error {
	return &Error{
		Status: http.StatusUnauthorized,
		Detail: "Could not authenticate the user",
		Header: bearerHeader(),
	}
}

// SessionExpired distinguishes an expired token from a malformed one.
func SessionExpired() *Error {
	return &Error{
		Status: http.StatusUnauthorized,
		Detail: "Session expired",
		Header: bearerHeader(),
	}
}

func InvalidCredentials() *Error {
	return &Error{
		Status: http.StatusUnauthorized,
		Detail: "Invalid username and/or password",
		Header: bearerHeader(),
	}
}

func NoPermission() *Error {
	return &Error{
		Status: http.StatusForbidden,
		Detail: "Access denied due to insufficient permissions",
	}
}

func NotFound(what string) *Error {
	return &Error{
		Status: http.StatusNotFound,
		Detail: fmt.Sprintf("%s not found", what),
		What:   what,
	}
}

func AlreadyExists(what string) *Error {
	return &Error{
		Status: http.StatusConflict,
		Detail: fmt.Sprintf("%s already exists", what),
		What:   what,
	}
}

func UsernameTaken() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Detail: "Username is already taken",
	}
}

func EmailRegistered() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Detail: "Email is already registered",
	}
}

func NoNamespaceOwnerRemains() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Detail: "Operation would leave namespace without owner",
	}
}

func NoPackageOwnerRemains() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Detail: "Operation would leave package without owner",
	}
}

func RoleNotEmpty() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Detail: "Cannot remove namespace role with members",
	}
}

func UnknownOwners(usernames []string) *Error {
	detail := "Owners list includes unknown users"
	if len(usernames) > 0 {
		detail += " " + strings.Join(usernames, ", ")
	}
	return &Error{
		Status:    http.StatusBadRequest,
		Detail:    detail,
		Usernames: usernames,
	}
}

func UnknownDependencies(packages []string) *Error {
	var detail string
	switch len(packages) {
	case 0:
		detail = "Package requires unknown dependencies"
	case 1:
		detail = fmt.Sprintf("Package requires unknown dependency %s", packages[0])
	default:
		detail = fmt.Sprintf("Package requires unknown dependencies %s", strings.Join(packages, ", "))
	}
	return &Error{
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Packages: packages,
	}
}

func HasDependents() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Detail: "Package has dependent packages",
	}
}

func HasReferringTags() *Error {
	return &Error{
		Status: http.StatusBadRequest,
		Detail: "Package has tags referring to this version",
	}
}
