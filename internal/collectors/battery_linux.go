//go:build linux

package collectors

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

const powerSupplyRoot = "/sys/class/power_supply"

func collectPlatformBattery(context.Context) ([]api.Battery, error) {
	return readBatteries(powerSupplyRoot), nil
}

// readBatteries reads BAT* entries under a power_supply directory.
// Capacities are reported in mWh, or mAh when the driver exposes charge
// counters only.
func readBatteries(root string) []api.Battery {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []api.Battery
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "BAT") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		attr := func(name string) string { return readSysfs(filepath.Join(dir, name)) }
		if t := attr("type"); t != "" && t != "Battery" {
			continue
		}

		design, full := attr("energy_full_design"), attr("energy_full")
		if design == "" {
			design, full = attr("charge_full_design"), attr("charge_full")
		}
		out = append(out, api.Battery{
			ID:                  e.Name(),
			Manufacturer:        attr("manufacturer"),
			SerialNumber:        attr("serial_number"),
			Chemistry:           attr("technology"),
			CycleCount:          parseUint32(attr("cycle_count")),
			DesignedCapacity:    parseUint32(design) / 1000,
			FullChargedCapacity: parseUint32(full) / 1000,
		})
	}
	return out
}
