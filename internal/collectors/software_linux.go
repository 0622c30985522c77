//go:build linux

package collectors

import (
	"context"

	"github.com/fleetsync/inventory/pkg/api"
)

// collectPlatformSoftware tries dpkg first and falls back to rpm. A host
// with neither reports an empty library.
func collectPlatformSoftware(ctx context.Context) ([]api.SoftwareEntry, error) {
	if out, err := runCommand(ctx, "dpkg-query", "-W", "-f=${Package}\t${Version}\t${Maintainer}\n"); err == nil {
		if entries := parsePackageLines(out, ""); len(entries) > 0 {
			return entries, nil
		}
	}
	if out, err := runCommand(ctx, "rpm", "-qa", "--queryformat", "%{NAME}\t%{VERSION}-%{RELEASE}\t%{VENDOR}\n"); err == nil {
		return parsePackageLines(out, "(none)"), nil
	}
	return []api.SoftwareEntry{}, nil
}
