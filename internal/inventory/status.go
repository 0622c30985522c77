package inventory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fleetsync/inventory/pkg/api"
)

// Volumes are critical below 10% free or 5 GB free, whichever hits first.
const (
	criticalFreeRatio = 0.10
	criticalFreeBytes = 5_000_000_000
)

type VolumeRecord struct {
	DriveLetter string  `json:"drive_letter" yaml:"drive_letter"`
	Label       *string `json:"label,omitempty" yaml:"label,omitempty"`
	FileSystem  string  `json:"file_system" yaml:"file_system"`
	Capacity    uint64  `json:"capacity" yaml:"capacity"`
	FreeSpace   uint64  `json:"free_space" yaml:"free_space"`
	Critical    bool    `json:"critical" yaml:"critical"`
}

// CriticalVolume is a low-space volume with its endpoint.
type CriticalVolume struct {
	EndpointUUID string       `json:"endpoint_uuid" yaml:"endpoint_uuid"`
	EndpointName string       `json:"endpoint_name" yaml:"endpoint_name"`
	Volume       VolumeRecord `json:"volume" yaml:"volume"`
}

func isCritical(capacity, free uint64) bool {
	if free < criticalFreeBytes {
		return true
	}
	return capacity > 0 && float64(free)/float64(capacity) < criticalFreeRatio
}

// UpdateVolumes replaces the endpoint's volume list.
func (s *Store) UpdateVolumes(ctx context.Context, endpointID int64, volumes []api.Volume) error {
	err := s.withTx(ctx, func(tx *dbtx) error {
		if err := touchEndpoint(ctx, tx, endpointID, s.now()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM volume WHERE endpoint_id = ?`, endpointID); err != nil {
			return err
		}
		for _, v := range volumes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO volume (endpoint_id, drive_letter, label, file_system, capacity, free_space)
				VALUES (?, ?, ?, ?, ?, ?)`,
				endpointID, v.DriveLetter, nullString(v.Label), v.FileSystem, int64(v.Capacity), int64(v.FreeSpace)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update volumes: %w", err)
	}
	return nil
}

func (s *Store) ListVolumes(ctx context.Context, endpointID int64) ([]VolumeRecord, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT drive_letter, label, file_system, capacity, free_space
		FROM volume WHERE endpoint_id = ? ORDER BY drive_letter`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	defer rows.Close()

	var out []VolumeRecord
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CriticalVolumes lists low-space volumes across the fleet.
func (s *Store) CriticalVolumes(ctx context.Context) ([]CriticalVolume, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT e.uuid, e.name, v.drive_letter, v.label, v.file_system, v.capacity, v.free_space
		FROM volume v
		JOIN endpoint e ON e.id = v.endpoint_id
		WHERE v.free_space < ? OR (v.capacity > 0 AND v.free_space * 10 < v.capacity)
		ORDER BY e.name, v.drive_letter`, int64(criticalFreeBytes))
	if err != nil {
		return nil, fmt.Errorf("critical volumes: %w", err)
	}
	defer rows.Close()

	var out []CriticalVolume
	for rows.Next() {
		var cv CriticalVolume
		var label sql.NullString
		var capacity, free int64
		if err := rows.Scan(&cv.EndpointUUID, &cv.EndpointName, &cv.Volume.DriveLetter, &label,
			&cv.Volume.FileSystem, &capacity, &free); err != nil {
			return nil, fmt.Errorf("scan volume: %w", err)
		}
		cv.Volume.Label = stringPtr(label)
		cv.Volume.Capacity, cv.Volume.FreeSpace = uint64(capacity), uint64(free)
		cv.Volume.Critical = true
		out = append(out, cv)
	}
	return out, rows.Err()
}

func scanVolume(rows *sql.Rows) (VolumeRecord, error) {
	var v VolumeRecord
	var label sql.NullString
	var capacity, free int64
	if err := rows.Scan(&v.DriveLetter, &label, &v.FileSystem, &capacity, &free); err != nil {
		return v, fmt.Errorf("scan volume: %w", err)
	}
	v.Label = stringPtr(label)
	v.Capacity, v.FreeSpace = uint64(capacity), uint64(free)
	v.Critical = isCritical(v.Capacity, v.FreeSpace)
	return v, nil
}

type BatteryRecord = api.Battery

// UpdateBattery replaces the endpoint's battery list.
func (s *Store) UpdateBattery(ctx context.Context, endpointID int64, batteries []api.Battery) error {
	err := s.withTx(ctx, func(tx *dbtx) error {
		if err := touchEndpoint(ctx, tx, endpointID, s.now()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM battery WHERE endpoint_id = ?`, endpointID); err != nil {
			return err
		}
		for _, b := range batteries {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO battery (endpoint_id, battery_id, manufacturer, serial_number, chemistry,
					cycle_count, designed_capacity, full_charged_capacity)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				endpointID, b.ID, b.Manufacturer, b.SerialNumber, b.Chemistry,
				int64(b.CycleCount), int64(b.DesignedCapacity), int64(b.FullChargedCapacity)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update battery: %w", err)
	}
	return nil
}

func (s *Store) ListBatteries(ctx context.Context, endpointID int64) ([]BatteryRecord, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT battery_id, manufacturer, serial_number, chemistry, cycle_count, designed_capacity, full_charged_capacity
		FROM battery WHERE endpoint_id = ? ORDER BY battery_id`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list batteries: %w", err)
	}
	defer rows.Close()

	var out []BatteryRecord
	for rows.Next() {
		var b BatteryRecord
		var cycles, designed, full int64
		if err := rows.Scan(&b.ID, &b.Manufacturer, &b.SerialNumber, &b.Chemistry, &cycles, &designed, &full); err != nil {
			return nil, fmt.Errorf("scan battery: %w", err)
		}
		b.CycleCount, b.DesignedCapacity, b.FullChargedCapacity = uint32(cycles), uint32(designed), uint32(full)
		out = append(out, b)
	}
	return out, rows.Err()
}
