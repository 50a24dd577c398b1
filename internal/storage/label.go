package storage

import (
	"context"
	"fmt"
)

// setPackageLabels replaces the package's label set, creating label
// rows on first use. Labels are shared across packages by name.
func (s *Store) setPackageLabels(ctx context.Context, pkgID int64, labels []string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM package_labels WHERE package_id = $1`, pkgID,
	); err != nil {
		return fmt.Errorf("clear package labels: %w", err)
	}

	seen := map[string]struct{}{}
	for _, label := range labels {
		if _, ok := seen[lowerKey(label)]; ok {
			continue
		}
		seen[lowerKey(label)] = struct{}{}

		var labelID int64
		err := s.db.QueryRow(ctx, `
			INSERT INTO labels (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`,
			label,
		).Scan(&labelID)
		if err != nil {
			return fmt.Errorf("upsert label: %w", err)
		}

		_, err = s.db.Exec(ctx, `
			INSERT INTO package_labels (package_id, label_id) VALUES ($1, $2)`,
			pkgID, labelID,
		)
		if err != nil {
			return fmt.Errorf("attach label: %w", err)
		}
	}
	return nil
}

// purgeOrphanLabels drops label rows no package references anymore.
func (s *Store) purgeOrphanLabels(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM labels l
		WHERE NOT EXISTS (SELECT 1 FROM package_labels pl WHERE pl.label_id = l.id)`,
	)
	if err != nil {
		return fmt.Errorf("purge labels: %w", err)
	}
	return nil
}
