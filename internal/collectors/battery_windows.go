//go:build windows

package collectors

import (
	"context"

	"github.com/fleetsync/inventory/pkg/api"
)

var wmiNamespace = []string{`/namespace:\\root\wmi`, "path"}

func collectPlatformBattery(ctx context.Context) ([]api.Battery, error) {
	static := wmicList(ctx, append(wmiNamespace, "BatteryStaticData"),
		"Chemistry", "DesignedCapacity", "InstanceName", "ManufactureName", "SerialNumber")
	if len(static) == 0 {
		return nil, nil
	}
	full := indexByInstance(wmicList(ctx, append(wmiNamespace, "BatteryFullChargedCapacity"), "FullChargedCapacity", "InstanceName"))
	cycles := indexByInstance(wmicList(ctx, append(wmiNamespace, "BatteryCycleCount"), "CycleCount", "InstanceName"))

	out := make([]api.Battery, 0, len(static))
	for _, s := range static {
		id := s["InstanceName"]
		out = append(out, api.Battery{
			ID:                  id,
			Manufacturer:        s["ManufactureName"],
			SerialNumber:        s["SerialNumber"],
			Chemistry:           decodeChemistry(s["Chemistry"]),
			CycleCount:          parseUint32(cycles[id]["CycleCount"]),
			DesignedCapacity:    parseUint32(s["DesignedCapacity"]),
			FullChargedCapacity: parseUint32(full[id]["FullChargedCapacity"]),
		})
	}
	return out, nil
}

func indexByInstance(records []map[string]string) map[string]map[string]string {
	idx := make(map[string]map[string]string, len(records))
	for _, r := range records {
		idx[r["InstanceName"]] = r
	}
	return idx
}
