package inventory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/inventory/pkg/api"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "inventory.db"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func registerEndpoint(t *testing.T, s *Store, name string) (uuid.UUID, int64) {
	t.Helper()
	ctx := context.Background()
	id, err := s.Register(ctx, name, nil)
	require.NoError(t, err)
	rowID, err := s.ResolveEndpoint(ctx, id)
	require.NoError(t, err)
	return id, rowID
}

func strPtr(s string) *string { return &s }

func TestRebindPostgres(t *testing.T) {
	got := rebind(dialectPostgres, `SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?`)
	require.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2`, got)
	require.Equal(t, `SELECT ?`, rebind(dialectSQLite, `SELECT ?`))
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x", 1)
	require.Error(t, err)
}

func TestRegisterAssignsAndKeepsUUID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Register(ctx, "WS-01", nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, first)

	again, err := s.Register(ctx, "WS-01-renamed", &first)
	require.NoError(t, err)
	require.Equal(t, first, again)

	all, err := s.ListEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "WS-01-renamed", all[0].Name)
	require.Equal(t, first.String(), all[0].UUID)
}

func TestRegisterWithClientUUID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := uuid.New()

	got, err := s.Register(ctx, "WS-02", &want)
	require.NoError(t, err)
	require.Equal(t, want, got)

	ep, err := s.LookupEndpoint(ctx, want)
	require.NoError(t, err)
	require.Equal(t, "WS-02", ep.Name)
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Register(context.Background(), "  ", nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestLookupUnknownEndpoint(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LookupEndpoint(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrEndpointNotFound)
	_, err = s.ResolveEndpoint(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestPushToUnknownEndpointRowFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateProfiles(context.Background(), 999, []api.ProfileInfo{{SID: "S-1"}})
	require.ErrorIs(t, err, ErrEndpointNotFound)
	_, err = s.UpdateSoftware(context.Background(), 999, nil)
	require.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestOSInfoUpsertAndDetail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, rowID := registerEndpoint(t, s, "WS-03")

	require.NoError(t, s.UpdateOSInfo(ctx, rowID, api.OSInfo{OperatingSystem: "Windows 11 Pro", OSVersion: "23H2", ComputerName: "WS-03", Domain: "CORP"}))
	require.NoError(t, s.UpdateOSInfo(ctx, rowID, api.OSInfo{OperatingSystem: "Windows 11 Pro", OSVersion: "24H2", ComputerName: "WS-03", Domain: "CORP"}))

	d, err := s.Detail(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, d.OSInfo)
	require.Equal(t, "24H2", d.OSInfo.OSVersion)
	require.NotNil(t, d.Endpoint.OSVersion)
	require.Equal(t, "24H2", *d.Endpoint.OSVersion)
	require.Nil(t, d.Hardware)
}

func TestHardwareReplacesLists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, rowID := registerEndpoint(t, s, "WS-04")

	hw := api.HardwareInfo{
		Model:     api.ComputerModel{Manufacturer: "Lenovo", Model: "T14"},
		Processor: api.Processor{Name: "i7", Cores: 8, LogicalCores: 16},
		Memory:    api.PhysicalMemory{Sticks: []api.MemoryStick{{BankLabel: "A", Capacity: 8 << 30}, {BankLabel: "B", Capacity: 8 << 30}}},
		Network:   api.Network{Adapters: []api.NetworkAdapter{{Name: "eth0", MACAddress: strPtr("aa:bb"), IPAddresses: []string{"10.0.0.2", "fe80::1"}}}},
	}
	require.NoError(t, s.UpdateHardware(ctx, rowID, hw))

	hw.Memory.Sticks = hw.Memory.Sticks[:1]
	require.NoError(t, s.UpdateHardware(ctx, rowID, hw))

	got, err := s.GetHardware(ctx, rowID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Memory, 1)
	require.Equal(t, uint32(16), got.Processor.LogicalCores)
	require.Len(t, got.Network, 1)
	require.Equal(t, []string{"10.0.0.2", "fe80::1"}, got.Network[0].IPAddresses)
}

func TestVolumesAndCriticalList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, rowID := registerEndpoint(t, s, "WS-05")

	require.NoError(t, s.UpdateVolumes(ctx, rowID, []api.Volume{
		{DriveLetter: "C:", FileSystem: "NTFS", Capacity: 500_000_000_000, FreeSpace: 20_000_000_000},
		{DriveLetter: "D:", FileSystem: "NTFS", Capacity: 1_000_000_000_000, FreeSpace: 400_000_000_000},
		{DriveLetter: "E:", FileSystem: "FAT32", Capacity: 8_000_000_000, FreeSpace: 4_000_000_000},
	}))

	vols, err := s.ListVolumes(ctx, rowID)
	require.NoError(t, err)
	require.Len(t, vols, 3)
	require.True(t, vols[0].Critical, "C: has under 10 percent free")
	require.False(t, vols[1].Critical)
	require.True(t, vols[2].Critical, "E: has under 5 GB free")

	crit, err := s.CriticalVolumes(ctx)
	require.NoError(t, err)
	require.Len(t, crit, 2)
}

func TestBatteryReplace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, rowID := registerEndpoint(t, s, "WS-06")

	require.NoError(t, s.UpdateBattery(ctx, rowID, []api.Battery{{ID: "BAT0", CycleCount: 10}, {ID: "BAT1"}}))
	require.NoError(t, s.UpdateBattery(ctx, rowID, []api.Battery{{ID: "BAT0", CycleCount: 11}}))

	got, err := s.ListBatteries(ctx, rowID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint32(11), got[0].CycleCount)
}
