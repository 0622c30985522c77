package collectors

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

// CollectSoftware returns the installed software snapshot. Entries are
// deduplicated by name, version and publisher.
func CollectSoftware(ctx context.Context) ([]api.SoftwareEntry, error) {
	entries, err := collectPlatformSoftware(ctx)
	if err != nil {
		return nil, err
	}
	return dedupeSoftware(entries), nil
}

func dedupeSoftware(in []api.SoftwareEntry) []api.SoftwareEntry {
	seen := make(map[string]bool, len(in))
	out := make([]api.SoftwareEntry, 0, len(in))
	for _, e := range in {
		if e.Name == "" {
			continue
		}
		key := e.Name + "\x00" + e.Version + "\x00"
		if e.Publisher != nil {
			key += *e.Publisher
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// parsePackageLines parses tab-separated "name, version, vendor" rows as
// printed by dpkg-query and rpm. A vendor equal to unset is dropped.
func parsePackageLines(out []byte, unset string) []api.SoftwareEntry {
	var entries []api.SoftwareEntry
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		parts := strings.Split(sc.Text(), "\t")
		name := strings.TrimSpace(parts[0])
		if name == "" {
			continue
		}
		e := api.SoftwareEntry{Name: name}
		if len(parts) > 1 {
			e.Version = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			vendor := strings.TrimSpace(parts[2])
			// Maintainer fields often carry an email address.
			if i := strings.Index(vendor, "<"); i > 0 {
				vendor = strings.TrimSpace(vendor[:i])
			}
			if vendor != "" && vendor != unset {
				e.Publisher = &vendor
			}
		}
		entries = append(entries, e)
	}
	return entries
}
