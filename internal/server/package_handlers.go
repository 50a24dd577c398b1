package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/knotty-dev/knotty/internal/acl"
	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
	"github.com/knotty-dev/knotty/internal/storage"
)

// packageAccess loads the access projection for a package plus the
// caller's permissions in its namespace, if it has one.
func (h *handlers) packageAccess(r *http.Request, store registryStore, name string) (*storage.PackageAccess, model.PermissionSet, error) {
	access, err := store.GetPackageAccess(r.Context(), name, userFrom(r).ID)
	if err != nil {
		return nil, nil, err
	}
	if access == nil {
		return nil, nil, apierror.NotFound("Package")
	}

	held := model.PermissionSet{}
	if access.Namespace != nil {
		held, err = store.GetNamespaceUserPermissions(r.Context(), *access.Namespace, userFrom(r).Username)
		if err != nil {
			return nil, nil, err
		}
	}
	return access, held, nil
}

// dependencyNames collects the distinct dependency targets across a
// set of version payloads.
func dependencyNames(versions []schema.PackageVersionCreate) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, v := range versions {
		for _, d := range v.Dependencies {
			key := strings.ToLower(d.Package)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			names = append(names, d.Package)
		}
	}
	return names
}

func (h *handlers) handleListPackages(w http.ResponseWriter, r *http.Request) {
	packages, err := h.deps.store.GetPackages(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, packages)
}

func (h *handlers) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.deps.store.GetPackage(r.Context(), r.PathValue("package"))
	if err != nil {
		writeError(w, err)
		return
	}
	if pkg == nil {
		writeError(w, apierror.NotFound("Package"))
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (h *handlers) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	var data schema.PackageCreate
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)
	if err := acl.Require(acl.CanCreatePackage(user)); err != nil {
		writeError(w, err)
		return
	}

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		if data.Namespace != nil {
			if _, ok, err := tx.GetNamespaceID(r.Context(), *data.Namespace); err != nil {
				return err
			} else if !ok {
				return apierror.NotFound("Namespace")
			}
			held, err := h.heldPermissions(r, tx, *data.Namespace)
			if err != nil {
				return err
			}
			if err := acl.Require(acl.CheckNamespace(user, held, model.PermPackageCreate)); err != nil {
				return err
			}
		}

		unknownOwners, err := tx.GetUnknownUsers(r.Context(), data.Owners)
		if err != nil {
			return err
		}
		if len(unknownOwners) > 0 {
			return apierror.UnknownOwners(unknownOwners)
		}

		unknownDeps, err := tx.GetUnknownPackages(r.Context(), dependencyNames(data.Versions))
		if err != nil {
			return err
		}
		if len(unknownDeps) > 0 {
			return apierror.UnknownDependencies(unknownDeps)
		}

		return tx.CreatePackage(r.Context(), data, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Package created")
}

// handleEditPackage rewrites metadata, ownership and labels. Moving
// the package between namespaces additionally needs package-create in
// the destination.
func (h *handlers) handleEditPackage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("package")
	var data schema.PackageEdit
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		access, held, err := h.packageAccess(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CanEditPackage(user, access.IsOwner, access.NamespaceID != nil, held)); err != nil {
			return err
		}

		if len(data.Owners) == 0 {
			return apierror.NoPackageOwnerRemains()
		}
		unknownOwners, err := tx.GetUnknownUsers(r.Context(), data.Owners)
		if err != nil {
			return err
		}
		if len(unknownOwners) > 0 {
			return apierror.UnknownOwners(unknownOwners)
		}

		if namespaceChanged(access.Namespace, data.Namespace) && data.Namespace != nil {
			if _, ok, err := tx.GetNamespaceID(r.Context(), *data.Namespace); err != nil {
				return err
			} else if !ok {
				return apierror.NotFound("Namespace")
			}
			heldNew, err := h.heldPermissions(r, tx, *data.Namespace)
			if err != nil {
				return err
			}
			if err := acl.Require(acl.CheckNamespace(user, heldNew, model.PermPackageCreate)); err != nil {
				return err
			}
		}

		return tx.EditPackage(r.Context(), access.ID, data, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Package edited")
}

func namespaceChanged(old, new *string) bool {
	if old == nil || new == nil {
		return old != new
	}
	return !strings.EqualFold(*old, *new)
}

func (h *handlers) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("package")
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		access, held, err := h.packageAccess(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CanDeletePackage(user, access.IsOwner, access.NamespaceID != nil, held)); err != nil {
			return err
		}

		dependents, err := tx.PackageHasDependents(r.Context(), access.ID)
		if err != nil {
			return err
		}
		if dependents {
			return apierror.HasDependents()
		}

		return tx.DeletePackage(r.Context(), access.ID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Package deleted")
}

func (h *handlers) handleListVersions(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.deps.store.GetPackage(r.Context(), r.PathValue("package"))
	if err != nil {
		writeError(w, err)
		return
	}
	if pkg == nil {
		writeError(w, apierror.NotFound("Package"))
		return
	}
	writeJSON(w, http.StatusOK, pkg.Versions)
}

func (h *handlers) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.deps.store.GetPackage(r.Context(), r.PathValue("package"))
	if err != nil {
		writeError(w, err)
		return
	}
	if pkg == nil {
		writeError(w, apierror.NotFound("Package"))
		return
	}

	want := r.PathValue("version")
	for _, v := range pkg.Versions {
		if schema.SameVersion(v.Version, want) {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeError(w, apierror.NotFound("Version"))
}

func (h *handlers) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("package")
	var data schema.PackageVersionCreate
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		access, held, err := h.packageAccess(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CanEditPackage(user, access.IsOwner, access.NamespaceID != nil, held)); err != nil {
			return err
		}

		exists, err := tx.VersionExists(r.Context(), access.ID, data.Version)
		if err != nil {
			return err
		}
		if exists {
			return apierror.AlreadyExists("Version")
		}

		unknownDeps, err := tx.GetUnknownPackages(r.Context(), dependencyNames([]schema.PackageVersionCreate{data}))
		if err != nil {
			return err
		}
		if len(unknownDeps) > 0 {
			return apierror.UnknownDependencies(unknownDeps)
		}

		return tx.CreatePackageVersion(r.Context(), access.ID, data, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Version created")
}

func (h *handlers) handleEditVersion(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("package")
	version := r.PathValue("version")
	var data schema.PackageVersionEdit
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		access, held, err := h.packageAccess(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CanEditPackage(user, access.IsOwner, access.NamespaceID != nil, held)); err != nil {
			return err
		}

		unknownDeps, err := tx.GetUnknownPackages(r.Context(), dependencyNames([]schema.PackageVersionCreate{data}))
		if err != nil {
			return err
		}
		if len(unknownDeps) > 0 {
			return apierror.UnknownDependencies(unknownDeps)
		}

		return tx.EditPackageVersion(r.Context(), access.ID, version, data, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Version edited")
}

func (h *handlers) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("package")
	version := r.PathValue("version")
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		access, held, err := h.packageAccess(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CanEditPackage(user, access.IsOwner, access.NamespaceID != nil, held)); err != nil {
			return err
		}

		tagged, err := tx.VersionHasTags(r.Context(), access.ID, version)
		if err != nil {
			return err
		}
		if tagged {
			return apierror.HasReferringTags()
		}

		return tx.DeletePackageVersion(r.Context(), access.ID, version, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Version removed")
}

func (h *handlers) handleListTags(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.deps.store.GetPackage(r.Context(), r.PathValue("package"))
	if err != nil {
		writeError(w, err)
		return
	}
	if pkg == nil {
		writeError(w, apierror.NotFound("Package"))
		return
	}
	writeJSON(w, http.StatusOK, pkg.Tags)
}

func (h *handlers) handleGetTag(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.deps.store.GetPackage(r.Context(), r.PathValue("package"))
	if err != nil {
		writeError(w, err)
		return
	}
	if pkg == nil {
		writeError(w, apierror.NotFound("Package"))
		return
	}

	want := r.PathValue("tag")
	for _, t := range pkg.Tags {
		if strings.EqualFold(t.Name, want) {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeError(w, apierror.NotFound("Tag"))
}

func (h *handlers) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("package")
	var data schema.PackageTag
	if err := decodeBody(r, &data); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		access, held, err := h.packageAccess(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CanEditPackage(user, access.IsOwner, access.NamespaceID != nil, held)); err != nil {
			return err
		}
		return tx.CreatePackageTag(r.Context(), access.ID, data, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusCreated, "Tag created")
}

// handleEditTag repoints the tag named in the path; the body carries
// only the target version.
func (h *handlers) handleEditTag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("package")
	tagName := r.PathValue("tag")

	var data schema.PackageTag
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, apierror.Validation("Request body is not valid JSON"))
		return
	}
	data.Name = tagName
	if err := data.Validate(); err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		access, held, err := h.packageAccess(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CanEditPackage(user, access.IsOwner, access.NamespaceID != nil, held)); err != nil {
			return err
		}
		return tx.EditPackageTag(r.Context(), access.ID, tagName, data.Version, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Tag edited")
}

func (h *handlers) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("package")
	tagName := r.PathValue("tag")
	user := userFrom(r)

	err := h.deps.store.InTx(r.Context(), func(tx registryStore) error {
		access, held, err := h.packageAccess(r, tx, name)
		if err != nil {
			return err
		}
		if err := acl.Require(acl.CanEditPackage(user, access.IsOwner, access.NamespaceID != nil, held)); err != nil {
			return err
		}
		return tx.DeletePackageTag(r.Context(), access.ID, tagName, user, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "Tag removed")
}
