package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

// UpdateLicenses diffs the endpoint's license keys by name: new names are
// inserted, changed keys updated and names no longer reported deleted. When
// a snapshot repeats a name the last entry wins.
func (s *Store) UpdateLicenses(ctx context.Context, endpointID int64, licenses []api.License) (ReconcileStats, error) {
	incoming := make(map[string]string, len(licenses))
	var order []string
	for _, l := range licenses {
		name := strings.TrimSpace(l.Name)
		if name == "" {
			continue
		}
		if _, ok := incoming[name]; !ok {
			order = append(order, name)
		}
		incoming[name] = l.Key
	}

	var stats ReconcileStats
	err := s.withTx(ctx, func(tx *dbtx) error {
		stats = ReconcileStats{}
		if err := touchEndpoint(ctx, tx, endpointID, s.now()); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `SELECT name, license_key FROM license WHERE endpoint_id = ?`, endpointID)
		if err != nil {
			return fmt.Errorf("load licenses: %w", err)
		}
		existing := make(map[string]string)
		for rows.Next() {
			var name, key string
			if err := rows.Scan(&name, &key); err != nil {
				rows.Close()
				return fmt.Errorf("scan license: %w", err)
			}
			existing[name] = key
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for name := range existing {
			if _, ok := incoming[name]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM license WHERE endpoint_id = ? AND name = ?`, endpointID, name); err != nil {
				return fmt.Errorf("delete license %q: %w", name, err)
			}
			stats.Deleted++
		}

		for _, name := range order {
			key := incoming[name]
			old, ok := existing[name]
			switch {
			case !ok:
				if _, err := tx.ExecContext(ctx, `INSERT INTO license (endpoint_id, name, license_key) VALUES (?, ?, ?)`, endpointID, name, key); err != nil {
					return fmt.Errorf("insert license %q: %w", name, err)
				}
				stats.Added++
			case old != key:
				if _, err := tx.ExecContext(ctx, `UPDATE license SET license_key = ? WHERE endpoint_id = ? AND name = ?`, key, endpointID, name); err != nil {
					return fmt.Errorf("update license %q: %w", name, err)
				}
				stats.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileStats{}, fmt.Errorf("update licenses: %w", err)
	}
	log.Info("licenses updated", "endpointId", endpointID, "added", stats.Added, "updated", stats.Updated, "deleted", stats.Deleted)
	return stats, nil
}

type LicenseRecord struct {
	Name string `json:"name" yaml:"name"`
	Key  string `json:"key" yaml:"key"`
}

func (s *Store) ListLicenses(ctx context.Context, endpointID int64) ([]LicenseRecord, error) {
	rows, err := s.conn().QueryContext(ctx, `SELECT name, license_key FROM license WHERE endpoint_id = ? ORDER BY name`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var out []LicenseRecord
	for rows.Next() {
		var r LicenseRecord
		if err := rows.Scan(&r.Name, &r.Key); err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
