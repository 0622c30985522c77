package inventory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fleetsync/inventory/pkg/api"
)

// ReconcileStats counts the writes a profile reconciliation applied.
type ReconcileStats struct {
	Added   int `json:"added" yaml:"added"`
	Updated int `json:"updated" yaml:"updated"`
	Deleted int `json:"deleted" yaml:"deleted"`
	Paths   int `json:"paths,omitempty" yaml:"paths,omitempty"`
}

type profileMember struct {
	identityID int64
	info       api.ProfileInfo
}

// UpdateProfiles makes the stored profiles of one endpoint match a full
// snapshot. Rows for identities absent from the snapshot are deleted,
// new ones inserted and the rest updated, all in one transaction. Identity
// mappings created here reach the cache only after commit.
func (s *Store) UpdateProfiles(ctx context.Context, endpointID int64, profiles []api.ProfileInfo) (ReconcileStats, error) {
	incoming, err := dedupeProfiles(profiles)
	if err != nil {
		return ReconcileStats{}, err
	}

	var stats ReconcileStats
	created := make(map[string]int64)
	err = s.withTx(ctx, func(tx *dbtx) error {
		stats = ReconcileStats{}
		clear(created)

		now := s.now()
		if err := touchEndpoint(ctx, tx, endpointID, now); err != nil {
			return err
		}

		existing, err := loadProfileIdentities(ctx, tx, endpointID)
		if err != nil {
			return err
		}

		var toAdd, toUpdate []profileMember
		seen := make(map[int64]bool, len(incoming))
		for _, p := range incoming {
			id, isNew, err := s.resolveIdentity(ctx, tx, p)
			if err != nil {
				return err
			}
			if isNew {
				created[p.SID] = id
			}
			seen[id] = true
			if existing[id] {
				toUpdate = append(toUpdate, profileMember{identityID: id, info: p})
			} else {
				toAdd = append(toAdd, profileMember{identityID: id, info: p})
			}
		}

		var toDelete []int64
		for id := range existing {
			if !seen[id] {
				toDelete = append(toDelete, id)
			}
		}
		sort.Slice(toDelete, func(i, j int) bool { return toDelete[i] < toDelete[j] })

		for _, id := range toDelete {
			sid, _, err := s.ids.ResolveReverse(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := deleteProfile(ctx, tx, endpointID, id); err != nil {
				return err
			}
			log.Debug("profile removed", "endpointId", endpointID, "sid", sid)
		}
		for _, m := range toAdd {
			if err := insertProfile(ctx, tx, endpointID, m); err != nil {
				return err
			}
		}
		for _, m := range toUpdate {
			if err := updateProfile(ctx, tx, endpointID, m); err != nil {
				return err
			}
		}

		paths := 0
		for _, group := range [][]profileMember{toAdd, toUpdate} {
			for _, m := range group {
				n, err := upsertProfilePaths(ctx, tx, endpointID, m)
				if err != nil {
					return err
				}
				paths += n
			}
		}

		stats = ReconcileStats{Added: len(toAdd), Updated: len(toUpdate), Deleted: len(toDelete), Paths: paths}
		return nil
	})
	if err != nil {
		return ReconcileStats{}, fmt.Errorf("reconcile profiles: %w", err)
	}

	for sid, id := range created {
		s.ids.Put(sid, id)
	}
	log.Info("profiles reconciled", "endpointId", endpointID,
		"added", stats.Added, "updated", stats.Updated, "deleted", stats.Deleted, "paths", stats.Paths)
	return stats, nil
}

// dedupeProfiles keeps the last occurrence of each sid, in first-seen order.
func dedupeProfiles(profiles []api.ProfileInfo) ([]api.ProfileInfo, error) {
	index := make(map[string]int, len(profiles))
	out := make([]api.ProfileInfo, 0, len(profiles))
	for _, p := range profiles {
		p.SID = strings.TrimSpace(p.SID)
		if p.SID == "" {
			return nil, fmt.Errorf("profile without sid: %w", ErrInvalidInput)
		}
		if i, ok := index[p.SID]; ok {
			out[i] = p
			continue
		}
		index[p.SID] = len(out)
		out = append(out, p)
	}
	return out, nil
}

func loadProfileIdentities(ctx context.Context, tx *dbtx, endpointID int64) (map[int64]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT identity_id FROM profile WHERE endpoint_id = ?`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	defer rows.Close()

	existing := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// resolveIdentity returns the identity id for a profile, creating the
// identity on first sight and refreshing its display fields when the
// snapshot carries different ones. isNew reports an id the cache does not
// hold yet.
func (s *Store) resolveIdentity(ctx context.Context, tx *dbtx, p api.ProfileInfo) (id int64, isNew bool, err error) {
	username, domain := displayName(p)

	id, ok, err := s.ids.Resolve(ctx, tx, p.SID)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO identity (sid, username, domain) VALUES (?, ?, ?)
			ON CONFLICT (sid) DO UPDATE SET
				username = COALESCE(EXCLUDED.username, identity.username),
				domain = COALESCE(EXCLUDED.domain, identity.domain)
			RETURNING id`,
			p.SID, nullString(username), nullString(domain)).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("create identity %s: %w", p.SID, err)
		}
		return id, true, nil
	}

	if username == nil && domain == nil {
		return id, false, nil
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE identity SET username = COALESCE(?, username), domain = COALESCE(?, domain)
		WHERE id = ?
		  AND (COALESCE(username, '') <> COALESCE(?, username, '')
		    OR COALESCE(domain, '') <> COALESCE(?, domain, ''))`,
		nullString(username), nullString(domain), id, nullString(username), nullString(domain))
	if err != nil {
		return 0, false, fmt.Errorf("update identity %s: %w", p.SID, err)
	}
	return id, false, nil
}

func deleteProfile(ctx context.Context, tx *dbtx, endpointID, identityID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM profile_path WHERE endpoint_id = ? AND identity_id = ?`, endpointID, identityID); err != nil {
		return fmt.Errorf("delete profile paths: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM profile WHERE endpoint_id = ? AND identity_id = ?`, endpointID, identityID); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	return nil
}

func insertProfile(ctx context.Context, tx *dbtx, endpointID int64, m profileMember) error {
	p := m.info
	_, err := tx.ExecContext(ctx, `
		INSERT INTO profile (endpoint_id, identity_id, health_status, roaming_configured, roaming_path,
			roaming_preference, last_use_time, last_download_time, last_upload_time, status, size_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		endpointID, m.identityID, int64(p.HealthStatus), p.RoamingConfigured, nullString(p.RoamingPath),
		nullBool(p.RoamingPreference), nullTime(p.LastUseTime), nullTime(p.LastDownloadTime),
		nullTime(p.LastUploadTime), int64(p.Status), nullUint(p.Size))
	if err != nil {
		return fmt.Errorf("insert profile %s: %w", p.SID, err)
	}
	return nil
}

func updateProfile(ctx context.Context, tx *dbtx, endpointID int64, m profileMember) error {
	p := m.info
	_, err := tx.ExecContext(ctx, `
		UPDATE profile SET health_status = ?, roaming_configured = ?, roaming_path = ?,
			roaming_preference = ?, last_use_time = ?, last_download_time = ?, last_upload_time = ?,
			status = ?, size_bytes = ?
		WHERE endpoint_id = ? AND identity_id = ?`,
		int64(p.HealthStatus), p.RoamingConfigured, nullString(p.RoamingPath),
		nullBool(p.RoamingPreference), nullTime(p.LastUseTime), nullTime(p.LastDownloadTime),
		nullTime(p.LastUploadTime), int64(p.Status), nullUint(p.Size),
		endpointID, m.identityID)
	if err != nil {
		return fmt.Errorf("update profile %s: %w", p.SID, err)
	}
	return nil
}

// upsertProfilePaths writes path usage rows by (endpoint, identity, path).
// Paths missing from the snapshot are left alone.
func upsertProfilePaths(ctx context.Context, tx *dbtx, endpointID int64, m profileMember) (int, error) {
	n := 0
	for _, ps := range m.info.PathSize {
		if ps.Path == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO profile_path (endpoint_id, identity_id, path, size_bytes) VALUES (?, ?, ?, ?)
			ON CONFLICT (endpoint_id, identity_id, path) DO UPDATE SET size_bytes = EXCLUDED.size_bytes`,
			endpointID, m.identityID, ps.Path, int64(ps.Size))
		if err != nil {
			return n, fmt.Errorf("upsert profile path %s: %w", ps.Path, err)
		}
		n++
	}
	return n, nil
}

// ProfileRecord is a stored profile joined with its identity.
type ProfileRecord struct {
	SID               string         `json:"sid" yaml:"sid"`
	Username          *string        `json:"username,omitempty" yaml:"username,omitempty"`
	Domain            *string        `json:"domain,omitempty" yaml:"domain,omitempty"`
	HealthStatus      uint8          `json:"health_status" yaml:"health_status"`
	Health            string         `json:"health" yaml:"health"`
	RoamingConfigured bool           `json:"roaming_configured" yaml:"roaming_configured"`
	RoamingPath       *string        `json:"roaming_path,omitempty" yaml:"roaming_path,omitempty"`
	RoamingPreference *bool          `json:"roaming_preference,omitempty" yaml:"roaming_preference,omitempty"`
	LastUseTime       *time.Time     `json:"last_use_time,omitempty" yaml:"last_use_time,omitempty"`
	LastDownloadTime  *time.Time     `json:"last_download_time,omitempty" yaml:"last_download_time,omitempty"`
	LastUploadTime    *time.Time     `json:"last_upload_time,omitempty" yaml:"last_upload_time,omitempty"`
	Status            uint32         `json:"status" yaml:"status"`
	StatusFlags       []string       `json:"status_flags,omitempty" yaml:"status_flags,omitempty"`
	Size              *uint64        `json:"size,omitempty" yaml:"size,omitempty"`
	Paths             []api.PathInfo `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// ListProfiles returns an endpoint's profiles with their path usage.
func (s *Store) ListProfiles(ctx context.Context, endpointID int64) ([]ProfileRecord, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT i.id, i.sid, i.username, i.domain, p.health_status, p.roaming_configured, p.roaming_path,
		       p.roaming_preference, p.last_use_time, p.last_download_time, p.last_upload_time,
		       p.status, p.size_bytes
		FROM profile p
		JOIN identity i ON i.id = p.identity_id
		WHERE p.endpoint_id = ?
		ORDER BY i.sid`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	var out []ProfileRecord
	var identityIDs []int64
	for rows.Next() {
		var rec ProfileRecord
		var identityID, health, status int64
		var username, domain, roamingPath sql.NullString
		var roamingPref sql.NullBool
		var lastUse, lastDown, lastUp sql.NullTime
		var size sql.NullInt64
		if err := rows.Scan(&identityID, &rec.SID, &username, &domain, &health, &rec.RoamingConfigured,
			&roamingPath, &roamingPref, &lastUse, &lastDown, &lastUp, &status, &size); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		rec.Username, rec.Domain, rec.RoamingPath = stringPtr(username), stringPtr(domain), stringPtr(roamingPath)
		if roamingPref.Valid {
			v := roamingPref.Bool
			rec.RoamingPreference = &v
		}
		rec.LastUseTime, rec.LastDownloadTime, rec.LastUploadTime = timePtr(lastUse), timePtr(lastDown), timePtr(lastUp)
		rec.HealthStatus = uint8(health)
		rec.Health = api.ProfileHealthName(rec.HealthStatus)
		rec.Status = uint32(status)
		rec.StatusFlags = api.ProfileStatusFlags(rec.Status)
		rec.Size = uintPtr(size)
		out = append(out, rec)
		identityIDs = append(identityIDs, identityID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		paths, err := s.listProfilePaths(ctx, endpointID, identityIDs[i])
		if err != nil {
			return nil, err
		}
		out[i].Paths = paths
	}
	return out, nil
}

func (s *Store) listProfilePaths(ctx context.Context, endpointID, identityID int64) ([]api.PathInfo, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT path, size_bytes FROM profile_path
		WHERE endpoint_id = ? AND identity_id = ?
		ORDER BY path`, endpointID, identityID)
	if err != nil {
		return nil, fmt.Errorf("list profile paths: %w", err)
	}
	defer rows.Close()

	var out []api.PathInfo
	for rows.Next() {
		var pi api.PathInfo
		var size int64
		if err := rows.Scan(&pi.Path, &size); err != nil {
			return nil, fmt.Errorf("scan profile path: %w", err)
		}
		pi.Size = uint64(size)
		out = append(out, pi)
	}
	return out, rows.Err()
}

// ProfileEndpoints lists the endpoints that carry a profile for sid.
func (s *Store) ProfileEndpoints(ctx context.Context, sid string) ([]Endpoint, error) {
	return s.queryEndpoints(ctx, `
		JOIN profile p ON p.endpoint_id = e.id
		JOIN identity i ON i.id = p.identity_id
		WHERE i.sid = ?
		ORDER BY e.name, e.id`, sid)
}
