package collectors

import (
	"context"
	"net"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/fleetsync/inventory/pkg/api"
)

// CollectHardware gathers the portable facts through gopsutil and lets the
// platform fill in model, BIOS, memory modules, disks and graphics.
func CollectHardware(ctx context.Context) (api.HardwareInfo, error) {
	var hw api.HardwareInfo

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		hw.Processor.Name = strings.TrimSpace(infos[0].ModelName)
		hw.Processor.Manufacturer = infos[0].VendorID
		hw.Processor.ClockSpeed = uint32(infos[0].Mhz)
	} else if err != nil {
		log.Warn("cpu info unavailable", "error", err)
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		hw.Processor.Cores = uint32(n)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		hw.Processor.LogicalCores = uint32(n)
	}
	hw.Processor.AddressWidth = addressWidth()

	adapters, err := collectAdapters(ctx)
	if err != nil {
		log.Warn("network adapters unavailable", "error", err)
	}
	hw.Network.Adapters = adapters

	collectPlatformHardware(ctx, &hw)

	// Platforms without per-module data still report total memory.
	if len(hw.Memory.Sticks) == 0 {
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			hw.Memory.Sticks = []api.MemoryStick{{BankLabel: "total", Capacity: vm.Total}}
		}
	}
	return hw, nil
}

func collectAdapters(ctx context.Context) ([]api.NetworkAdapter, error) {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var out []api.NetworkAdapter
	for _, iface := range ifaces {
		if skipInterface(iface.Name) || iface.HardwareAddr == "" {
			continue
		}
		mac := iface.HardwareAddr
		adapter := api.NetworkAdapter{Name: iface.Name, MACAddress: &mac}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil || ip.IsLinkLocalUnicast() {
				continue
			}
			adapter.IPAddresses = append(adapter.IPAddresses, ip.String())
		}
		out = append(out, adapter)
	}
	return out, nil
}

func skipInterface(name string) bool {
	if name == "lo" || name == "lo0" {
		return true
	}
	for _, prefix := range []string{"veth", "docker", "br-", "virbr"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func addressWidth() uint16 {
	if strings.Contains(runtime.GOARCH, "64") {
		return 64
	}
	return 32
}
