//go:build linux

package collectors

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

const (
	dmiRoot   = "/sys/class/dmi/id"
	blockRoot = "/sys/block"
)

func readSysfs(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func collectPlatformHardware(ctx context.Context, hw *api.HardwareInfo) {
	dmi := func(name string) string { return readSysfs(filepath.Join(dmiRoot, name)) }

	// DMI data works on physical machines and most VMs.
	hw.Model = api.ComputerModel{
		Manufacturer: dmi("sys_vendor"),
		ModelFamily:  dmi("product_family"),
		Model:        dmi("product_name"),
		SerialNumber: dmi("product_serial"),
	}
	hw.BIOS = api.BIOS{
		Manufacturer: dmi("bios_vendor"),
		Name:         dmi("bios_version"),
		Version:      dmi("bios_date"),
	}
	hw.Disks.Drives = readBlockDevices(blockRoot)

	if out, err := runCommand(ctx, "lspci"); err == nil {
		hw.Graphics.Name = parseLSPCIGraphics(string(out))
	}
}

// readBlockDevices lists whole disks under a sysfs block directory. Virtual
// devices (loop, ram, zram, device-mapper) are skipped.
func readBlockDevices(root string) []api.DiskDrive {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var drives []api.DiskDrive
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") ||
			strings.HasPrefix(name, "zram") || strings.HasPrefix(name, "dm-") {
			continue
		}
		dir := filepath.Join(root, name)
		sectors, _ := strconv.ParseUint(readSysfs(filepath.Join(dir, "size")), 10, 64)
		drive := api.DiskDrive{
			Model:        readSysfs(filepath.Join(dir, "device", "model")),
			SerialNumber: readSysfs(filepath.Join(dir, "device", "serial")),
			Size:         sectors * 512,
			DeviceID:     "/dev/" + name,
			Status:       readSysfs(filepath.Join(dir, "device", "state")),
		}
		switch readSysfs(filepath.Join(dir, "queue", "rotational")) {
		case "0":
			drive.MediaType = "SSD"
		case "1":
			drive.MediaType = "HDD"
		}
		drives = append(drives, drive)
	}
	return drives
}

// parseLSPCIGraphics returns the first VGA or 3D controller description.
// Lines look like "00:02.0 VGA compatible controller: Intel Corporation ...".
func parseLSPCIGraphics(out string) string {
	for _, line := range strings.Split(out, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "vga") && !strings.Contains(lower, "3d controller") {
			continue
		}
		if _, desc, ok := strings.Cut(line, ": "); ok {
			return strings.TrimSpace(desc)
		}
	}
	return ""
}
