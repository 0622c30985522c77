package inventory

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

// resolveSoftwareVersion returns the shared version id for (name, version,
// publisher), creating the software and version rows on first sight. The
// unique constraints are the source of truth: two endpoints reporting the
// same new title at once both get the one row. Existing rows are only read,
// never updated, so concurrent pushes from different endpoints take no row
// locks on the shared catalog.
func resolveSoftwareVersion(ctx context.Context, tx *dbtx, name, version string, publisher *string) (int64, error) {
	pub := ""
	if publisher != nil {
		pub = strings.TrimSpace(*publisher)
	}

	softwareID, err := insertOrSelect(ctx, tx, `
		INSERT INTO software (name, publisher) VALUES (?, ?)
		ON CONFLICT (name, publisher) DO NOTHING
		RETURNING id`, `
		SELECT id FROM software WHERE name = ? AND publisher = ?`, name, pub)
	if err != nil {
		return 0, fmt.Errorf("resolve software %q: %w", name, err)
	}

	versionID, err := insertOrSelect(ctx, tx, `
		INSERT INTO software_version (software_id, version) VALUES (?, ?)
		ON CONFLICT (software_id, version) DO NOTHING
		RETURNING id`, `
		SELECT id FROM software_version WHERE software_id = ? AND version = ?`, softwareID, version)
	if err != nil {
		return 0, fmt.Errorf("resolve version %q of %q: %w", version, name, err)
	}
	return versionID, nil
}

// insertOrSelect runs an insert that returns no row on conflict, then reads
// the existing row's id with the same arguments.
func insertOrSelect(ctx context.Context, tx *dbtx, insert, lookup string, args ...any) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, insert, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	if err := tx.QueryRowContext(ctx, lookup, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// softwareKey is the natural key a snapshot entry resolves under.
type softwareKey struct {
	name, publisher, version string
}

// softwareKeys trims and de-duplicates the snapshot and sorts it by natural
// key, so concurrent pushes insert new catalog rows in one global order.
func softwareKeys(entries []api.SoftwareEntry) []softwareKey {
	seen := make(map[softwareKey]bool, len(entries))
	keys := make([]softwareKey, 0, len(entries))
	for _, e := range entries {
		k := softwareKey{name: strings.TrimSpace(e.Name), version: strings.TrimSpace(e.Version)}
		if k.name == "" {
			continue
		}
		if e.Publisher != nil {
			k.publisher = strings.TrimSpace(*e.Publisher)
		}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b softwareKey) int {
		return cmp.Or(
			cmp.Compare(a.name, b.name),
			cmp.Compare(a.publisher, b.publisher),
			cmp.Compare(a.version, b.version),
		)
	})
	return keys
}

// ResolveSoftware resolves one title outside of a snapshot push.
func (s *Store) ResolveSoftware(ctx context.Context, name, version string, publisher *string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *dbtx) error {
		var err error
		id, err = resolveSoftwareVersion(ctx, tx, name, version, publisher)
		return err
	})
	return id, err
}

// UpdateSoftware replaces the endpoint's installed software with the
// snapshot. Shared software and version rows are never deleted.
func (s *Store) UpdateSoftware(ctx context.Context, endpointID int64, entries []api.SoftwareEntry) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *dbtx) error {
		if err := touchEndpoint(ctx, tx, endpointID, s.now()); err != nil {
			return err
		}

		keys := softwareKeys(entries)
		seen := make(map[int64]bool, len(keys))
		var versionIDs []int64
		for _, k := range keys {
			id, err := resolveSoftwareVersion(ctx, tx, k.name, k.version, &k.publisher)
			if err != nil {
				return err
			}
			if !seen[id] {
				seen[id] = true
				versionIDs = append(versionIDs, id)
			}
		}
		slices.Sort(versionIDs)

		if _, err := tx.ExecContext(ctx, `DELETE FROM software_presence WHERE endpoint_id = ?`, endpointID); err != nil {
			return fmt.Errorf("clear software presence: %w", err)
		}
		for _, id := range versionIDs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO software_presence (endpoint_id, version_id) VALUES (?, ?)`, endpointID, id); err != nil {
				return fmt.Errorf("insert software presence: %w", err)
			}
		}
		count = len(versionIDs)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update software: %w", err)
	}
	log.Info("software updated", "endpointId", endpointID, "entries", count)
	return count, nil
}

// SoftwareRecord is one installed title on an endpoint.
type SoftwareRecord struct {
	SoftwareID int64  `json:"software_id" yaml:"software_id"`
	VersionID  int64  `json:"version_id" yaml:"version_id"`
	Name       string `json:"name" yaml:"name"`
	Publisher  string `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Version    string `json:"version" yaml:"version"`
}

func (s *Store) ListSoftware(ctx context.Context, endpointID int64) ([]SoftwareRecord, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT sw.id, v.id, sw.name, sw.publisher, v.version
		FROM software_presence sp
		JOIN software_version v ON v.id = sp.version_id
		JOIN software sw ON sw.id = v.software_id
		WHERE sp.endpoint_id = ?
		ORDER BY sw.name, v.version`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list software: %w", err)
	}
	defer rows.Close()

	var out []SoftwareRecord
	for rows.Next() {
		var r SoftwareRecord
		if err := rows.Scan(&r.SoftwareID, &r.VersionID, &r.Name, &r.Publisher, &r.Version); err != nil {
			return nil, fmt.Errorf("scan software: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SoftwareUsage is a title with the number of endpoints that report it.
type SoftwareUsage struct {
	SoftwareID int64  `json:"software_id" yaml:"software_id"`
	Name       string `json:"name" yaml:"name"`
	Publisher  string `json:"publisher,omitempty" yaml:"publisher,omitempty"`
	Endpoints  int    `json:"endpoints" yaml:"endpoints"`
}

// SoftwareCatalog lists every known title with its install count, including
// titles no endpoint reports any more.
func (s *Store) SoftwareCatalog(ctx context.Context) ([]SoftwareUsage, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT sw.id, sw.name, sw.publisher,
		       (SELECT COUNT(DISTINCT sp.endpoint_id)
		        FROM software_presence sp
		        JOIN software_version v ON v.id = sp.version_id
		        WHERE v.software_id = sw.id)
		FROM software sw
		ORDER BY sw.name, sw.publisher`)
	if err != nil {
		return nil, fmt.Errorf("software catalog: %w", err)
	}
	defer rows.Close()

	var out []SoftwareUsage
	for rows.Next() {
		var u SoftwareUsage
		if err := rows.Scan(&u.SoftwareID, &u.Name, &u.Publisher, &u.Endpoints); err != nil {
			return nil, fmt.Errorf("scan software: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
