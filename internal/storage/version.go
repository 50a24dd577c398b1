package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

// getVersionID resolves a version spelling against the package's
// versions in parsed semver form, the same comparison the read side
// uses, so prerelease and build metadata stay significant.
func (s *Store) getVersionID(ctx context.Context, pkgID int64, version string) (int64, bool, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, version FROM package_versions WHERE package_id = $1`, pkgID,
	)
	if err != nil {
		return 0, false, fmt.Errorf("get version id: %w", err)
	}
	defer rows.Close()

	var matched int64
	var found bool
	for rows.Next() {
		var id int64
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			return 0, false, err
		}
		if !found && schema.SameVersion(v, version) {
			matched, found = id, true
		}
	}
	if err := rows.Err(); err != nil {
		return 0, false, err
	}
	return matched, found, nil
}

// VersionExists reports whether the package already carries the
// version, for the publish conflict check.
func (s *Store) VersionExists(ctx context.Context, pkgID int64, version string) (bool, error) {
	_, ok, err := s.getVersionID(ctx, pkgID, version)
	return ok, err
}

func (s *Store) CreatePackageVersion(ctx context.Context, pkgID int64, data schema.PackageVersionCreate, createdBy *model.User, now time.Time) error {
	if _, err := s.insertVersion(ctx, pkgID, data, createdBy, now); err != nil {
		return err
	}
	return s.TouchPackage(ctx, pkgID, createdBy, now)
}

// EditPackageVersion replaces the version's metadata, checksums and
// dependencies. Downloads and the creation audit fields are kept.
func (s *Store) EditPackageVersion(ctx context.Context, pkgID int64, version string, data schema.PackageVersionEdit, editor *model.User, now time.Time) error {
	versionID, ok, err := s.getVersionID(ctx, pkgID, version)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.NotFound("Version")
	}

	_, err = s.db.Exec(ctx, `
		UPDATE package_versions SET version = $2, description = $3, repository = $4, tarball = $5
		WHERE id = $1`,
		versionID, data.Version, data.Description, data.Repository, data.Tarball,
	)
	if err != nil {
		return translate(err, "Version")
	}

	if _, err := s.db.Exec(ctx,
		`DELETE FROM package_version_checksums WHERE version_id = $1`, versionID,
	); err != nil {
		return fmt.Errorf("clear checksums: %w", err)
	}
	if _, err := s.db.Exec(ctx,
		`DELETE FROM package_version_dependencies WHERE version_id = $1`, versionID,
	); err != nil {
		return fmt.Errorf("clear dependencies: %w", err)
	}
	if err := s.insertVersionChildren(ctx, versionID, data); err != nil {
		return err
	}
	return s.TouchPackage(ctx, pkgID, editor, now)
}

// VersionHasTags reports whether any tag of the package points at the
// version. Tagged versions cannot be deleted.
func (s *Store) VersionHasTags(ctx context.Context, pkgID int64, version string) (bool, error) {
	versionID, ok, err := s.getVersionID(ctx, pkgID, version)
	if err != nil || !ok {
		return false, err
	}

	var tagged bool
	err = s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM package_tags
			WHERE package_id = $1 AND version_id = $2
		)`,
		pkgID, versionID,
	).Scan(&tagged)
	if err != nil {
		return false, fmt.Errorf("check version tags: %w", err)
	}
	return tagged, nil
}

func (s *Store) DeletePackageVersion(ctx context.Context, pkgID int64, version string, editor *model.User, now time.Time) error {
	versionID, ok, err := s.getVersionID(ctx, pkgID, version)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.NotFound("Version")
	}

	if _, err := s.db.Exec(ctx,
		`DELETE FROM package_versions WHERE id = $1`, versionID,
	); err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	return s.TouchPackage(ctx, pkgID, editor, now)
}
