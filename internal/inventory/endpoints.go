package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Endpoint is one registered machine.
type Endpoint struct {
	ID              int64     `json:"id" yaml:"id"`
	UUID            string    `json:"uuid" yaml:"uuid"`
	Name            string    `json:"name" yaml:"name"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	LastSeenAt      time.Time `json:"last_seen_at" yaml:"last_seen_at"`
	OperatingSystem *string   `json:"operating_system,omitempty" yaml:"operating_system,omitempty"`
	OSVersion       *string   `json:"os_version,omitempty" yaml:"os_version,omitempty"`
	Domain          *string   `json:"domain,omitempty" yaml:"domain,omitempty"`
}

// Register creates or refreshes an endpoint keyed by its UUID. A nil id
// makes the server assign a new one. Re-registering with a known UUID keeps
// the same row and updates the name.
func (s *Store) Register(ctx context.Context, name string, id *uuid.UUID) (uuid.UUID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return uuid.Nil, fmt.Errorf("endpoint name is empty: %w", ErrInvalidInput)
	}

	endpointUUID := uuid.New()
	if id != nil && *id != uuid.Nil {
		endpointUUID = *id
	}

	now := s.now()
	var rowID int64
	err := s.conn().QueryRowContext(ctx, `
		INSERT INTO endpoint (uuid, name, created_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET name = EXCLUDED.name, last_seen_at = EXCLUDED.last_seen_at
		RETURNING id`,
		endpointUUID.String(), name, now, now).Scan(&rowID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("register endpoint: %w", err)
	}

	log.Debug("endpoint registered", "endpointId", endpointUUID.String(), "rowId", rowID, "name", name)
	return endpointUUID, nil
}

// LookupEndpoint resolves an endpoint UUID to its row.
func (s *Store) LookupEndpoint(ctx context.Context, id uuid.UUID) (Endpoint, error) {
	rows, err := s.queryEndpoints(ctx, `WHERE e.uuid = ?`, id.String())
	if err != nil {
		return Endpoint{}, err
	}
	if len(rows) == 0 {
		return Endpoint{}, fmt.Errorf("endpoint %s: %w", id, ErrEndpointNotFound)
	}
	return rows[0], nil
}

// ListEndpoints returns all endpoints ordered by name.
func (s *Store) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	return s.queryEndpoints(ctx, `ORDER BY e.name, e.id`)
}

func (s *Store) queryEndpoints(ctx context.Context, tail string, args ...any) ([]Endpoint, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT e.id, e.uuid, e.name, e.created_at, e.last_seen_at,
		       o.operating_system, o.os_version, o.domain
		FROM endpoint e
		LEFT JOIN os_info o ON o.endpoint_id = e.id
		`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var e Endpoint
		var osName, osVersion, domain sql.NullString
		if err := rows.Scan(&e.ID, &e.UUID, &e.Name, &e.CreatedAt, &e.LastSeenAt, &osName, &osVersion, &domain); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		e.CreatedAt, e.LastSeenAt = e.CreatedAt.UTC(), e.LastSeenAt.UTC()
		e.OperatingSystem, e.OSVersion, e.Domain = stringPtr(osName), stringPtr(osVersion), stringPtr(domain)
		out = append(out, e)
	}
	return out, rows.Err()
}

// endpointRowID is the cheap uuid-to-id lookup used by push handlers.
func (s *Store) endpointRowID(ctx context.Context, id uuid.UUID) (int64, error) {
	var rowID int64
	err := s.conn().QueryRowContext(ctx, `SELECT id FROM endpoint WHERE uuid = ?`, id.String()).Scan(&rowID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("endpoint %s: %w", id, ErrEndpointNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup endpoint: %w", err)
	}
	return rowID, nil
}

// ResolveEndpoint returns the row id for an endpoint UUID.
func (s *Store) ResolveEndpoint(ctx context.Context, id uuid.UUID) (int64, error) {
	return s.endpointRowID(ctx, id)
}

// EndpointDetail is everything stored for one endpoint.
type EndpointDetail struct {
	Endpoint  Endpoint         `json:"endpoint" yaml:"endpoint"`
	OSInfo    *OSInfoRecord    `json:"os_info,omitempty" yaml:"os_info,omitempty"`
	Hardware  *HardwareRecord  `json:"hardware,omitempty" yaml:"hardware,omitempty"`
	Profiles  []ProfileRecord  `json:"profiles" yaml:"profiles"`
	Software  []SoftwareRecord `json:"software" yaml:"software"`
	Licenses  []LicenseRecord  `json:"licenses" yaml:"licenses"`
	Volumes   []VolumeRecord   `json:"volumes" yaml:"volumes"`
	Batteries []BatteryRecord  `json:"batteries" yaml:"batteries"`
	Tasks     []TaskRecord     `json:"tasks" yaml:"tasks"`
}

// Detail loads the full stored view of one endpoint.
func (s *Store) Detail(ctx context.Context, id uuid.UUID) (*EndpointDetail, error) {
	ep, err := s.LookupEndpoint(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &EndpointDetail{Endpoint: ep}

	if d.OSInfo, err = s.GetOSInfo(ctx, ep.ID); err != nil {
		return nil, err
	}
	if d.Hardware, err = s.GetHardware(ctx, ep.ID); err != nil {
		return nil, err
	}
	if d.Profiles, err = s.ListProfiles(ctx, ep.ID); err != nil {
		return nil, err
	}
	if d.Software, err = s.ListSoftware(ctx, ep.ID); err != nil {
		return nil, err
	}
	if d.Licenses, err = s.ListLicenses(ctx, ep.ID); err != nil {
		return nil, err
	}
	if d.Volumes, err = s.ListVolumes(ctx, ep.ID); err != nil {
		return nil, err
	}
	if d.Batteries, err = s.ListBatteries(ctx, ep.ID); err != nil {
		return nil, err
	}
	if d.Tasks, err = s.ListTasks(ctx, TaskFilter{EndpointID: ep.ID}); err != nil {
		return nil, err
	}
	return d, nil
}
