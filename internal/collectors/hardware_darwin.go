//go:build darwin

package collectors

import (
	"context"
	"encoding/json"

	"github.com/fleetsync/inventory/pkg/api"
)

type spHardware struct {
	SPHardwareDataType []struct {
		MachineName  string `json:"machine_name"`
		MachineModel string `json:"machine_model"`
		SerialNumber string `json:"serial_number"`
		BootROM      string `json:"boot_rom_version"`
	} `json:"SPHardwareDataType"`
}

type spDisplays struct {
	SPDisplaysDataType []struct {
		Model string `json:"sppci_model"`
	} `json:"SPDisplaysDataType"`
}

func collectPlatformHardware(ctx context.Context, hw *api.HardwareInfo) {
	hw.Model.Manufacturer = "Apple Inc."
	hw.BIOS.Manufacturer = "Apple Inc."

	if out, err := runCommand(ctx, "system_profiler", "SPHardwareDataType", "-json"); err == nil {
		var data spHardware
		if json.Unmarshal(out, &data) == nil && len(data.SPHardwareDataType) > 0 {
			h := data.SPHardwareDataType[0]
			hw.Model.ModelFamily = h.MachineName
			hw.Model.Model = h.MachineModel
			hw.Model.SerialNumber = h.SerialNumber
			hw.BIOS.Name = "Boot ROM"
			hw.BIOS.Version = h.BootROM
		}
	}
	if out, err := runCommand(ctx, "system_profiler", "SPDisplaysDataType", "-json"); err == nil {
		var data spDisplays
		if json.Unmarshal(out, &data) == nil && len(data.SPDisplaysDataType) > 0 {
			hw.Graphics.Name = data.SPDisplaysDataType[0].Model
		}
	}
}
