package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

// CreatePackageTag attaches a tag to one of the package's own
// versions. The version lookup is scoped to the package, so a tag can
// never point across packages.
func (s *Store) CreatePackageTag(ctx context.Context, pkgID int64, data schema.PackageTag, editor *model.User, now time.Time) error {
	versionID, ok, err := s.getVersionID(ctx, pkgID, data.Version)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.NotFound("Version")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO package_tags (package_id, name, version_id)
		VALUES ($1, $2, $3)`,
		pkgID, data.Name, versionID,
	)
	if err != nil {
		return translate(err, "Tag")
	}
	return s.TouchPackage(ctx, pkgID, editor, now)
}

// EditPackageTag repoints an existing tag at another of the package's
// versions.
func (s *Store) EditPackageTag(ctx context.Context, pkgID int64, name, version string, editor *model.User, now time.Time) error {
	versionID, ok, err := s.getVersionID(ctx, pkgID, version)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.NotFound("Version")
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE package_tags SET version_id = $3
		WHERE package_id = $1 AND LOWER(name) = LOWER($2)`,
		pkgID, name, versionID,
	)
	if err != nil {
		return fmt.Errorf("edit tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("Tag")
	}
	return s.TouchPackage(ctx, pkgID, editor, now)
}

func (s *Store) DeletePackageTag(ctx context.Context, pkgID int64, name string, editor *model.User, now time.Time) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM package_tags WHERE package_id = $1 AND LOWER(name) = LOWER($2)`,
		pkgID, name,
	)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apierror.NotFound("Tag")
	}
	return s.TouchPackage(ctx, pkgID, editor, now)
}
