package collectors

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/fleetsync/inventory/pkg/api"
)

const minVolumeBytes = 100 * 1024 * 1024

// CollectVolumes lists mounted volumes with capacity and free space. Pseudo
// filesystems and volumes under 100 MB are skipped.
func CollectVolumes(ctx context.Context) ([]api.Volume, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	vols := make([]api.Volume, 0, len(parts))
	for _, p := range parts {
		if p.Mountpoint == "" || seen[p.Mountpoint] || pseudoFS(p.Fstype) {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			log.Debug("volume usage unavailable", "mount", p.Mountpoint, "error", err)
			continue
		}
		if usage.Total < minVolumeBytes {
			continue
		}
		seen[p.Mountpoint] = true
		vols = append(vols, api.Volume{
			DriveLetter: strings.TrimSuffix(p.Mountpoint, `\`),
			Label:       volumeLabel(p.Mountpoint),
			FileSystem:  p.Fstype,
			Capacity:    usage.Total,
			FreeSpace:   usage.Free,
		})
	}
	return vols, nil
}

func pseudoFS(fstype string) bool {
	for _, prefix := range []string{"squashfs", "tmpfs", "devfs", "devtmpfs", "overlay", "autofs"} {
		if strings.HasPrefix(fstype, prefix) {
			return true
		}
	}
	return false
}
