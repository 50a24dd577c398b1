package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

// PackageAccess is the minimal projection the permission checks need:
// where the package lives and whether the caller owns it.
type PackageAccess struct {
	ID          int64
	Name        string
	NamespaceID *int64
	Namespace   *string
	IsOwner     bool
}

func (s *Store) GetPackageAccess(ctx context.Context, name string, userID int64) (*PackageAccess, error) {
	var a PackageAccess
	err := s.db.QueryRow(ctx, `
		SELECT p.id, p.name, p.namespace_id, n.name,
		       EXISTS (SELECT 1 FROM package_owners po WHERE po.package_id = p.id AND po.owner_id = $2)
		FROM packages p
		LEFT JOIN namespaces n ON n.id = p.namespace_id
		WHERE LOWER(p.name) = LOWER($1)`,
		name, userID,
	).Scan(&a.ID, &a.Name, &a.NamespaceID, &a.Namespace, &a.IsOwner)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get package access: %w", err)
	}
	return &a, nil
}

func (s *Store) GetPackageID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`SELECT id FROM packages WHERE LOWER(name) = LOWER($1)`, name,
	).Scan(&id)
	if isNoRows(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get package id: %w", err)
	}
	return id, true, nil
}

// likeEscaper neutralizes pattern metacharacters so user input matches
// literally inside ILIKE.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// GetPackages lists every package in brief form. A non-empty query
// narrows the listing to names and summaries containing it.
func (s *Store) GetPackages(ctx context.Context, query string) ([]schema.PackageBrief, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.name, p.summary, n.name, p.updated_date,
		       COALESCE((SELECT SUM(pv.downloads) FROM package_versions pv WHERE pv.package_id = p.id), 0)
		FROM packages p
		LEFT JOIN namespaces n ON n.id = p.namespace_id
		WHERE $1 = '' OR p.name ILIKE '%' || $1 || '%' OR p.summary ILIKE '%' || $1 || '%'
		ORDER BY p.name`,
		escapeLike(query),
	)
	if err != nil {
		return nil, fmt.Errorf("get packages: %w", err)
	}
	defer rows.Close()

	briefs := []schema.PackageBrief{}
	ids := []int64{}
	index := map[int64]int{}
	for rows.Next() {
		var id int64
		var b schema.PackageBrief
		if err := rows.Scan(&id, &b.Name, &b.Summary, &b.Namespace, &b.UpdatedDate, &b.Downloads); err != nil {
			return nil, err
		}
		b.Labels = []string{}
		b.Owners = []string{}
		index[id] = len(briefs)
		briefs = append(briefs, b)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(briefs) == 0 {
		return briefs, nil
	}

	if err := s.fillPackageLabels(ctx, ids, func(pkgID int64, label string) {
		i := index[pkgID]
		briefs[i].Labels = append(briefs[i].Labels, label)
	}); err != nil {
		return nil, err
	}
	if err := s.fillPackageOwners(ctx, ids, func(pkgID int64, owner string) {
		i := index[pkgID]
		briefs[i].Owners = append(briefs[i].Owners, owner)
	}); err != nil {
		return nil, err
	}
	return briefs, nil
}

func (s *Store) fillPackageLabels(ctx context.Context, ids []int64, add func(pkgID int64, label string)) error {
	rows, err := s.db.Query(ctx, `
		SELECT pl.package_id, l.name
		FROM package_labels pl
		JOIN labels l ON l.id = pl.label_id
		WHERE pl.package_id = ANY ($1)
		ORDER BY l.name`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("get package labels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pkgID int64
		var label string
		if err := rows.Scan(&pkgID, &label); err != nil {
			return err
		}
		add(pkgID, label)
	}
	return rows.Err()
}

func (s *Store) fillPackageOwners(ctx context.Context, ids []int64, add func(pkgID int64, owner string)) error {
	rows, err := s.db.Query(ctx, `
		SELECT po.package_id, u.username
		FROM package_owners po
		JOIN users u ON u.id = po.owner_id
		WHERE po.package_id = ANY ($1)
		ORDER BY u.username`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("get package owners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pkgID int64
		var owner string
		if err := rows.Scan(&pkgID, &owner); err != nil {
			return err
		}
		add(pkgID, owner)
	}
	return rows.Err()
}

// GetNamespacePackages is the namespace-scoped listing: names and
// summaries only.
func (s *Store) GetNamespacePackages(ctx context.Context, namespace string) ([]schema.PackageBasic, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.name, p.summary
		FROM packages p
		JOIN namespaces n ON n.id = p.namespace_id
		WHERE LOWER(n.name) = LOWER($1)
		ORDER BY p.name`,
		namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("get namespace packages: %w", err)
	}
	defer rows.Close()

	basics := []schema.PackageBasic{}
	for rows.Next() {
		var b schema.PackageBasic
		if err := rows.Scan(&b.Name, &b.Summary); err != nil {
			return nil, err
		}
		basics = append(basics, b)
	}
	return basics, rows.Err()
}

// GetPackage builds the full aggregate. Child collections load with
// one query per level, keyed on the version id set, so the query count
// stays fixed no matter how many versions the package has.
func (s *Store) GetPackage(ctx context.Context, name string) (*schema.Package, error) {
	var id int64
	var pkg schema.Package
	err := s.db.QueryRow(ctx, `
		SELECT p.id, p.name, p.summary, n.name,
		       p.created_date, cu.username, p.updated_date, uu.username,
		       COALESCE((SELECT SUM(pv.downloads) FROM package_versions pv WHERE pv.package_id = p.id), 0)
		FROM packages p
		LEFT JOIN namespaces n ON n.id = p.namespace_id
		JOIN users cu ON cu.id = p.created_by
		JOIN users uu ON uu.id = p.updated_by
		WHERE LOWER(p.name) = LOWER($1)`,
		name,
	).Scan(&id, &pkg.Name, &pkg.Summary, &pkg.Namespace,
		&pkg.CreatedDate, &pkg.CreatedBy, &pkg.UpdatedDate, &pkg.UpdatedBy,
		&pkg.Downloads)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get package: %w", err)
	}

	pkg.Labels = []string{}
	pkg.Owners = []string{}
	ids := []int64{id}
	if err := s.fillPackageLabels(ctx, ids, func(_ int64, label string) {
		pkg.Labels = append(pkg.Labels, label)
	}); err != nil {
		return nil, err
	}
	if err := s.fillPackageOwners(ctx, ids, func(_ int64, owner string) {
		pkg.Owners = append(pkg.Owners, owner)
	}); err != nil {
		return nil, err
	}

	if pkg.Versions, err = s.getPackageVersions(ctx, id); err != nil {
		return nil, err
	}
	if pkg.Tags, err = s.getPackageTags(ctx, id); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (s *Store) getPackageVersions(ctx context.Context, packageID int64) ([]schema.PackageVersion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT pv.id, pv.version, pv.downloads, pv.created_date, u.username,
		       pv.description, pv.repository, pv.tarball
		FROM package_versions pv
		JOIN users u ON u.id = pv.created_by
		WHERE pv.package_id = $1
		ORDER BY pv.created_date, pv.version`,
		packageID,
	)
	if err != nil {
		return nil, fmt.Errorf("get package versions: %w", err)
	}
	defer rows.Close()

	versions := []schema.PackageVersion{}
	ids := []int64{}
	index := map[int64]int{}
	for rows.Next() {
		var id int64
		var v schema.PackageVersion
		if err := rows.Scan(&id, &v.Version, &v.Downloads, &v.CreatedDate, &v.CreatedBy,
			&v.Description, &v.Repository, &v.Tarball); err != nil {
			return nil, err
		}
		v.Checksums = []schema.PackageChecksum{}
		v.Dependencies = []schema.PackageDependency{}
		index[id] = len(versions)
		versions = append(versions, v)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return versions, nil
	}

	crows, err := s.db.Query(ctx, `
		SELECT version_id, algorithm, value
		FROM package_version_checksums
		WHERE version_id = ANY ($1)
		ORDER BY algorithm`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("get version checksums: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var versionID int64
		var algorithm model.ChecksumAlgorithm
		var value []byte
		if err := crows.Scan(&versionID, &algorithm, &value); err != nil {
			return nil, err
		}
		i := index[versionID]
		versions[i].Checksums = append(versions[i].Checksums, schema.PackageChecksum{
			Algorithm: algorithm,
			Value:     hex.EncodeToString(value),
		})
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}

	drows, err := s.db.Query(ctx, `
		SELECT pvd.version_id, p.name, pvd.spec
		FROM package_version_dependencies pvd
		JOIN packages p ON p.id = pvd.dep_package_id
		WHERE pvd.version_id = ANY ($1)
		ORDER BY p.name`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("get version dependencies: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		var versionID int64
		var d schema.PackageDependency
		if err := drows.Scan(&versionID, &d.Package, &d.Spec); err != nil {
			return nil, err
		}
		i := index[versionID]
		versions[i].Dependencies = append(versions[i].Dependencies, d)
	}
	return versions, drows.Err()
}

func (s *Store) getPackageTags(ctx context.Context, packageID int64) ([]schema.PackageTag, error) {
	rows, err := s.db.Query(ctx, `
		SELECT pt.name, pv.version
		FROM package_tags pt
		JOIN package_versions pv ON pv.id = pt.version_id
		WHERE pt.package_id = $1
		ORDER BY pt.name`,
		packageID,
	)
	if err != nil {
		return nil, fmt.Errorf("get package tags: %w", err)
	}
	defer rows.Close()

	tags := []schema.PackageTag{}
	for rows.Next() {
		var t schema.PackageTag
		if err := rows.Scan(&t.Name, &t.Version); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetUnknownPackages returns the subset of names with no matching
// package, preserving the order given.
func (s *Store) GetUnknownPackages(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT name FROM packages
		WHERE LOWER(name) = ANY (SELECT LOWER(n) FROM unnest($1::text[]) AS n)`,
		names,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve packages: %w", err)
	}
	defer rows.Close()

	known := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		known[lowerKey(name)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var unknown []string
	for _, name := range names {
		if _, ok := known[lowerKey(name)]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown, nil
}

func (s *Store) resolvePackageIDs(ctx context.Context, names []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(names))
	if len(names) == 0 {
		return ids, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, name FROM packages
		WHERE LOWER(name) = ANY (SELECT LOWER(n) FROM unnest($1::text[]) AS n)`,
		names,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve package ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		ids[lowerKey(name)] = id
	}
	return ids, rows.Err()
}

// CreatePackage writes the package with its owners, labels, versions
// and tags. Owners and dependency names must already be verified to
// exist; the creator is always among the owners.
func (s *Store) CreatePackage(ctx context.Context, data schema.PackageCreate, creator *model.User, now time.Time) error {
	var namespaceID *int64
	if data.Namespace != nil {
		id, ok, err := s.GetNamespaceID(ctx, *data.Namespace)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Namespace")
		}
		namespaceID = &id
	}

	var pkgID int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO packages (name, namespace_id, summary, created_date, created_by, updated_date, updated_by)
		VALUES ($1, $2, $3, $4, $5, $4, $5)
		RETURNING id`,
		data.Name, namespaceID, data.Summary, now, creator.ID,
	).Scan(&pkgID)
	if err != nil {
		return translate(err, "Package")
	}

	if err := s.setPackageOwners(ctx, pkgID, data.Owners, creator); err != nil {
		return err
	}
	if err := s.setPackageLabels(ctx, pkgID, data.Labels); err != nil {
		return err
	}

	type insertedVersion struct {
		version string
		id      int64
	}
	inserted := make([]insertedVersion, 0, len(data.Versions))
	for _, v := range data.Versions {
		id, err := s.insertVersion(ctx, pkgID, v, creator, now)
		if err != nil {
			return err
		}
		inserted = append(inserted, insertedVersion{v.Version, id})
	}

	for _, t := range data.Tags {
		var versionID int64
		var ok bool
		for _, v := range inserted {
			if schema.SameVersion(v.version, t.Version) {
				versionID, ok = v.id, true
				break
			}
		}
		if !ok {
			return apierror.NotFound("Version")
		}
		_, err := s.db.Exec(ctx, `
			INSERT INTO package_tags (package_id, name, version_id)
			VALUES ($1, $2, $3)`,
			pkgID, t.Name, versionID,
		)
		if err != nil {
			return translate(err, "Tag")
		}
	}
	return nil
}

func (s *Store) setPackageOwners(ctx context.Context, pkgID int64, owners []string, always *model.User) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM package_owners WHERE package_id = $1`, pkgID,
	); err != nil {
		return fmt.Errorf("clear package owners: %w", err)
	}

	ids, err := s.ResolveUserIDs(ctx, owners)
	if err != nil {
		return err
	}
	ownerIDs := map[int64]struct{}{}
	if always != nil {
		ownerIDs[always.ID] = struct{}{}
	}
	for _, id := range ids {
		ownerIDs[id] = struct{}{}
	}

	for id := range ownerIDs {
		_, err := s.db.Exec(ctx, `
			INSERT INTO package_owners (package_id, owner_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			pkgID, id,
		)
		if err != nil {
			return fmt.Errorf("set package owner: %w", err)
		}
	}
	return nil
}

func (s *Store) insertVersion(ctx context.Context, pkgID int64, data schema.PackageVersionCreate, createdBy *model.User, now time.Time) (int64, error) {
	var versionID int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO package_versions (package_id, version, created_date, created_by, description, repository, tarball)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		pkgID, data.Version, now, createdBy.ID, data.Description, data.Repository, data.Tarball,
	).Scan(&versionID)
	if err != nil {
		return 0, translate(err, "Version")
	}
	if err := s.insertVersionChildren(ctx, versionID, data); err != nil {
		return 0, err
	}
	return versionID, nil
}

func (s *Store) insertVersionChildren(ctx context.Context, versionID int64, data schema.PackageVersionBase) error {
	for _, c := range data.Checksums {
		value, err := hex.DecodeString(c.Value)
		if err != nil {
			return fmt.Errorf("decode checksum: %w", err)
		}
		_, err = s.db.Exec(ctx, `
			INSERT INTO package_version_checksums (version_id, algorithm, value)
			VALUES ($1, $2, $3)`,
			versionID, c.Algorithm, value,
		)
		if err != nil {
			return fmt.Errorf("insert checksum: %w", err)
		}
	}

	if len(data.Dependencies) == 0 {
		return nil
	}
	names := make([]string, 0, len(data.Dependencies))
	for _, d := range data.Dependencies {
		names = append(names, d.Package)
	}
	depIDs, err := s.resolvePackageIDs(ctx, names)
	if err != nil {
		return err
	}
	for _, d := range data.Dependencies {
		depID, ok := depIDs[lowerKey(d.Package)]
		if !ok {
			return apierror.UnknownDependencies([]string{d.Package})
		}
		_, err := s.db.Exec(ctx, `
			INSERT INTO package_version_dependencies (version_id, dep_package_id, spec)
			VALUES ($1, $2, $3)`,
			versionID, depID, d.Spec,
		)
		if err != nil {
			return fmt.Errorf("insert dependency: %w", err)
		}
	}
	return nil
}

// EditPackage rewrites metadata, ownership and labels. A nil namespace
// detaches the package; labels dropped from the last package holding
// them are purged.
func (s *Store) EditPackage(ctx context.Context, pkgID int64, data schema.PackageEdit, editor *model.User, now time.Time) error {
	var namespaceID *int64
	if data.Namespace != nil {
		id, ok, err := s.GetNamespaceID(ctx, *data.Namespace)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.NotFound("Namespace")
		}
		namespaceID = &id
	}

	_, err := s.db.Exec(ctx, `
		UPDATE packages SET name = $2, namespace_id = $3, summary = $4, updated_date = $5, updated_by = $6
		WHERE id = $1`,
		pkgID, data.Name, namespaceID, data.Summary, now, editor.ID,
	)
	if err != nil {
		return translate(err, "Package")
	}

	// Unlike create, edit replaces the owner set exactly as given; the
	// non-empty guard lives with the caller.
	if err := s.setPackageOwners(ctx, pkgID, data.Owners, nil); err != nil {
		return err
	}
	if err := s.setPackageLabels(ctx, pkgID, data.Labels); err != nil {
		return err
	}
	return s.purgeOrphanLabels(ctx)
}

// PackageHasDependents reports whether any version of another package
// depends on this one.
func (s *Store) PackageHasDependents(ctx context.Context, pkgID int64) (bool, error) {
	var dependents bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM package_version_dependencies pvd
			JOIN package_versions pv ON pv.id = pvd.version_id
			WHERE pvd.dep_package_id = $1 AND pv.package_id <> $1
		)`,
		pkgID,
	).Scan(&dependents)
	if err != nil {
		return false, fmt.Errorf("check dependents: %w", err)
	}
	return dependents, nil
}

func (s *Store) DeletePackage(ctx context.Context, pkgID int64) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM packages WHERE id = $1`, pkgID,
	); err != nil {
		return fmt.Errorf("delete package: %w", err)
	}
	return s.purgeOrphanLabels(ctx)
}

// TouchPackage bumps the audit trail after a version or tag change.
func (s *Store) TouchPackage(ctx context.Context, pkgID int64, editor *model.User, now time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE packages SET updated_date = $2, updated_by = $3 WHERE id = $1`,
		pkgID, now, editor.ID,
	)
	if err != nil {
		return fmt.Errorf("touch package: %w", err)
	}
	return nil
}
