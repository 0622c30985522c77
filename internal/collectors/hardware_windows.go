//go:build windows

package collectors

import (
	"context"
	"strconv"

	"github.com/fleetsync/inventory/pkg/api"
)

func collectPlatformHardware(ctx context.Context, hw *api.HardwareInfo) {
	if cs := wmicList(ctx, []string{"computersystem"}, "Manufacturer", "Model", "SystemFamily"); len(cs) > 0 {
		hw.Model.Manufacturer = cs[0]["Manufacturer"]
		hw.Model.Model = cs[0]["Model"]
		hw.Model.ModelFamily = cs[0]["SystemFamily"]
	}
	if bios := wmicList(ctx, []string{"bios"}, "Manufacturer", "Name", "SMBIOSBIOSVersion", "SerialNumber"); len(bios) > 0 {
		hw.Model.SerialNumber = bios[0]["SerialNumber"]
		hw.BIOS = api.BIOS{
			Manufacturer: bios[0]["Manufacturer"],
			Name:         bios[0]["Name"],
			Version:      bios[0]["SMBIOSBIOSVersion"],
		}
	}
	if cpu := wmicList(ctx, []string{"cpu"}, "Manufacturer", "AddressWidth", "MaxClockSpeed"); len(cpu) > 0 {
		if v := cpu[0]["Manufacturer"]; v != "" {
			hw.Processor.Manufacturer = v
		}
		if n, err := strconv.ParseUint(cpu[0]["AddressWidth"], 10, 16); err == nil {
			hw.Processor.AddressWidth = uint16(n)
		}
		if n, err := strconv.ParseUint(cpu[0]["MaxClockSpeed"], 10, 32); err == nil {
			hw.Processor.ClockSpeed = uint32(n)
		}
	}
	for _, m := range wmicList(ctx, []string{"memorychip"}, "BankLabel", "Capacity") {
		capacity, _ := strconv.ParseUint(m["Capacity"], 10, 64)
		hw.Memory.Sticks = append(hw.Memory.Sticks, api.MemoryStick{BankLabel: m["BankLabel"], Capacity: capacity})
	}
	for _, d := range wmicList(ctx, []string{"diskdrive"}, "DeviceID", "MediaType", "Model", "SerialNumber", "Size", "Status") {
		size, _ := strconv.ParseUint(d["Size"], 10, 64)
		hw.Disks.Drives = append(hw.Disks.Drives, api.DiskDrive{
			Model:        d["Model"],
			SerialNumber: d["SerialNumber"],
			Size:         size,
			DeviceID:     d["DeviceID"],
			Status:       d["Status"],
			MediaType:    d["MediaType"],
		})
	}
	if serial := wmicGet(ctx, []string{"systemenclosure"}, "SerialNumber"); serial != "" {
		hw.Model.SerialNumber = serial
	}
	hw.Graphics.Name = wmicGet(ctx, []string{"path", "win32_videocontroller"}, "Name")
}
