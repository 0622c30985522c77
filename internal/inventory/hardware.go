package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetsync/inventory/pkg/api"
)

// OSInfoRecord is the stored operating system row of an endpoint.
type OSInfoRecord struct {
	OperatingSystem string    `json:"operating_system" yaml:"operating_system"`
	OSVersion       string    `json:"os_version" yaml:"os_version"`
	ComputerName    string    `json:"computer_name" yaml:"computer_name"`
	Domain          string    `json:"domain" yaml:"domain"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
}

// UpdateOSInfo upserts the one os_info row of an endpoint.
func (s *Store) UpdateOSInfo(ctx context.Context, endpointID int64, info api.OSInfo) error {
	err := s.withTx(ctx, func(tx *dbtx) error {
		now := s.now()
		if err := touchEndpoint(ctx, tx, endpointID, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO os_info (endpoint_id, operating_system, os_version, computer_name, domain, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (endpoint_id) DO UPDATE SET
				operating_system = EXCLUDED.operating_system,
				os_version = EXCLUDED.os_version,
				computer_name = EXCLUDED.computer_name,
				domain = EXCLUDED.domain,
				updated_at = EXCLUDED.updated_at`,
			endpointID, info.OperatingSystem, info.OSVersion, info.ComputerName, info.Domain, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("update os info: %w", err)
	}
	return nil
}

func (s *Store) GetOSInfo(ctx context.Context, endpointID int64) (*OSInfoRecord, error) {
	var r OSInfoRecord
	var osName, osVersion, domain sql.NullString
	err := s.conn().QueryRowContext(ctx, `
		SELECT operating_system, os_version, computer_name, domain, updated_at
		FROM os_info WHERE endpoint_id = ?`, endpointID).Scan(&osName, &osVersion, &r.ComputerName, &domain, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get os info: %w", err)
	}
	r.OperatingSystem, r.OSVersion, r.Domain = osName.String, osVersion.String, domain.String
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// HardwareRecord mirrors the pushed hardware snapshot.
type HardwareRecord struct {
	Model     *api.ComputerModel   `json:"model,omitempty" yaml:"model,omitempty"`
	Processor *api.Processor       `json:"processor,omitempty" yaml:"processor,omitempty"`
	BIOS      *api.BIOS            `json:"bios,omitempty" yaml:"bios,omitempty"`
	Graphics  *api.GraphicsCard    `json:"graphics,omitempty" yaml:"graphics,omitempty"`
	Memory    []api.MemoryStick    `json:"memory" yaml:"memory"`
	Disks     []api.DiskDrive      `json:"disks" yaml:"disks"`
	Network   []api.NetworkAdapter `json:"network" yaml:"network"`
}

// UpdateHardware upserts the single-row hardware tables and replaces the
// memory, disk and network lists wholesale.
func (s *Store) UpdateHardware(ctx context.Context, endpointID int64, hw api.HardwareInfo) error {
	err := s.withTx(ctx, func(tx *dbtx) error {
		if err := touchEndpoint(ctx, tx, endpointID, s.now()); err != nil {
			return err
		}

		single := []struct {
			query string
			args  []any
		}{
			{`INSERT INTO computer_model (endpoint_id, manufacturer, model_family, model, serial_number)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (endpoint_id) DO UPDATE SET manufacturer = EXCLUDED.manufacturer,
					model_family = EXCLUDED.model_family, model = EXCLUDED.model, serial_number = EXCLUDED.serial_number`,
				[]any{endpointID, hw.Model.Manufacturer, hw.Model.ModelFamily, hw.Model.Model, hw.Model.SerialNumber}},
			{`INSERT INTO processor (endpoint_id, name, manufacturer, cores, logical_cores, clock_speed, address_width)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (endpoint_id) DO UPDATE SET name = EXCLUDED.name, manufacturer = EXCLUDED.manufacturer,
					cores = EXCLUDED.cores, logical_cores = EXCLUDED.logical_cores,
					clock_speed = EXCLUDED.clock_speed, address_width = EXCLUDED.address_width`,
				[]any{endpointID, hw.Processor.Name, hw.Processor.Manufacturer, int64(hw.Processor.Cores),
					int64(hw.Processor.LogicalCores), int64(hw.Processor.ClockSpeed), int64(hw.Processor.AddressWidth)}},
			{`INSERT INTO bios (endpoint_id, manufacturer, name, version) VALUES (?, ?, ?, ?)
				ON CONFLICT (endpoint_id) DO UPDATE SET manufacturer = EXCLUDED.manufacturer,
					name = EXCLUDED.name, version = EXCLUDED.version`,
				[]any{endpointID, hw.BIOS.Manufacturer, hw.BIOS.Name, hw.BIOS.Version}},
			{`INSERT INTO graphics_card (endpoint_id, name) VALUES (?, ?)
				ON CONFLICT (endpoint_id) DO UPDATE SET name = EXCLUDED.name`,
				[]any{endpointID, hw.Graphics.Name}},
		}
		for _, st := range single {
			if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
				return err
			}
		}

		for _, table := range []string{"memory_stick", "disk_drive", "network_adapter"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE endpoint_id = ?`, endpointID); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		for _, m := range hw.Memory.Sticks {
			if _, err := tx.ExecContext(ctx, `INSERT INTO memory_stick (endpoint_id, bank_label, capacity) VALUES (?, ?, ?)`,
				endpointID, m.BankLabel, int64(m.Capacity)); err != nil {
				return err
			}
		}
		for _, d := range hw.Disks.Drives {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO disk_drive (endpoint_id, model, serial_number, size_bytes, device_id, status, media_type)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				endpointID, d.Model, d.SerialNumber, int64(d.Size), d.DeviceID, d.Status, d.MediaType); err != nil {
				return err
			}
		}
		for _, n := range hw.Network.Adapters {
			if _, err := tx.ExecContext(ctx, `INSERT INTO network_adapter (endpoint_id, name, mac_address, ip_addresses) VALUES (?, ?, ?, ?)`,
				endpointID, n.Name, nullString(n.MACAddress), strings.Join(n.IPAddresses, ",")); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update hardware: %w", err)
	}
	return nil
}

// GetHardware returns nil when the endpoint never pushed hardware.
func (s *Store) GetHardware(ctx context.Context, endpointID int64) (*HardwareRecord, error) {
	q := s.conn()
	hw := &HardwareRecord{}
	found := false

	var m api.ComputerModel
	err := q.QueryRowContext(ctx, `SELECT manufacturer, model_family, model, serial_number FROM computer_model WHERE endpoint_id = ?`,
		endpointID).Scan(&m.Manufacturer, &m.ModelFamily, &m.Model, &m.SerialNumber)
	if err == nil {
		hw.Model, found = &m, true
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get computer model: %w", err)
	}

	var p api.Processor
	var cores, logical, clock, width int64
	err = q.QueryRowContext(ctx, `SELECT name, manufacturer, cores, logical_cores, clock_speed, address_width FROM processor WHERE endpoint_id = ?`,
		endpointID).Scan(&p.Name, &p.Manufacturer, &cores, &logical, &clock, &width)
	if err == nil {
		p.Cores, p.LogicalCores, p.ClockSpeed, p.AddressWidth = uint32(cores), uint32(logical), uint32(clock), uint16(width)
		hw.Processor, found = &p, true
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get processor: %w", err)
	}

	var b api.BIOS
	err = q.QueryRowContext(ctx, `SELECT manufacturer, name, version FROM bios WHERE endpoint_id = ?`, endpointID).Scan(&b.Manufacturer, &b.Name, &b.Version)
	if err == nil {
		hw.BIOS, found = &b, true
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get bios: %w", err)
	}

	var g api.GraphicsCard
	err = q.QueryRowContext(ctx, `SELECT name FROM graphics_card WHERE endpoint_id = ?`, endpointID).Scan(&g.Name)
	if err == nil {
		hw.Graphics, found = &g, true
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get graphics card: %w", err)
	}

	if hw.Memory, err = s.listMemory(ctx, endpointID); err != nil {
		return nil, err
	}
	if hw.Disks, err = s.listDisks(ctx, endpointID); err != nil {
		return nil, err
	}
	if hw.Network, err = s.listAdapters(ctx, endpointID); err != nil {
		return nil, err
	}
	if !found && len(hw.Memory) == 0 && len(hw.Disks) == 0 && len(hw.Network) == 0 {
		return nil, nil
	}
	return hw, nil
}

func (s *Store) listMemory(ctx context.Context, endpointID int64) ([]api.MemoryStick, error) {
	rows, err := s.conn().QueryContext(ctx, `SELECT bank_label, capacity FROM memory_stick WHERE endpoint_id = ? ORDER BY id`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list memory: %w", err)
	}
	defer rows.Close()
	var out []api.MemoryStick
	for rows.Next() {
		var m api.MemoryStick
		var capacity sql.NullInt64
		if err := rows.Scan(&m.BankLabel, &capacity); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Capacity = uint64(capacity.Int64)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) listDisks(ctx context.Context, endpointID int64) ([]api.DiskDrive, error) {
	rows, err := s.conn().QueryContext(ctx, `
		SELECT model, serial_number, size_bytes, device_id, status, media_type
		FROM disk_drive WHERE endpoint_id = ? ORDER BY id`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list disks: %w", err)
	}
	defer rows.Close()
	var out []api.DiskDrive
	for rows.Next() {
		var d api.DiskDrive
		var size sql.NullInt64
		if err := rows.Scan(&d.Model, &d.SerialNumber, &size, &d.DeviceID, &d.Status, &d.MediaType); err != nil {
			return nil, fmt.Errorf("scan disk: %w", err)
		}
		d.Size = uint64(size.Int64)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) listAdapters(ctx context.Context, endpointID int64) ([]api.NetworkAdapter, error) {
	rows, err := s.conn().QueryContext(ctx, `SELECT name, mac_address, ip_addresses FROM network_adapter WHERE endpoint_id = ? ORDER BY id`, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list network adapters: %w", err)
	}
	defer rows.Close()
	var out []api.NetworkAdapter
	for rows.Next() {
		var n api.NetworkAdapter
		var mac sql.NullString
		var ips string
		if err := rows.Scan(&n.Name, &mac, &ips); err != nil {
			return nil, fmt.Errorf("scan network adapter: %w", err)
		}
		n.MACAddress = stringPtr(mac)
		if ips != "" {
			n.IPAddresses = strings.Split(ips, ",")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
