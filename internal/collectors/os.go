package collectors

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/fleetsync/inventory/pkg/api"
)

// CollectOS returns the operating system facts sent on the fast cadence.
func CollectOS(ctx context.Context) (api.OSInfo, error) {
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return api.OSInfo{}, err
	}
	info := api.OSInfo{
		OperatingSystem: normalizeOSName(hi.OS, hi.Platform),
		OSVersion:       strings.TrimSpace(hi.PlatformVersion + " " + hi.KernelVersion),
		ComputerName:    hi.Hostname,
		Domain:          platformDomain(),
	}
	if name := platformProductName(); name != "" {
		info.OperatingSystem = name
	}
	return info, nil
}

func normalizeOSName(goos, platform string) string {
	switch goos {
	case "darwin":
		return "macOS"
	case "linux":
		if platform != "" {
			return platform
		}
	}
	return goos
}

// parseResolvDomain returns the "domain" entry of a resolv.conf, falling back
// to the first "search" entry.
func parseResolvDomain(r io.Reader) string {
	var search string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "domain":
			return fields[1]
		case "search":
			if search == "" {
				search = fields[1]
			}
		}
	}
	return search
}
