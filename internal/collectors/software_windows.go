//go:build windows

package collectors

import (
	"context"
	"strings"

	"golang.org/x/sys/windows/registry"

	"github.com/fleetsync/inventory/pkg/api"
)

var uninstallPaths = []struct {
	root registry.Key
	path string
}{
	{registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`},
	{registry.LOCAL_MACHINE, `SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall`},
	{registry.CURRENT_USER, `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`},
}

func collectPlatformSoftware(ctx context.Context) ([]api.SoftwareEntry, error) {
	var entries []api.SoftwareEntry
	for _, p := range uninstallPaths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		items, err := readUninstallKey(p.root, p.path)
		if err != nil {
			// Some hives are absent or unreadable for the service account.
			log.Debug("uninstall key unavailable", "path", p.path, "error", err)
			continue
		}
		entries = append(entries, items...)
	}
	return entries, nil
}

func readUninstallKey(root registry.Key, path string) ([]api.SoftwareEntry, error) {
	key, err := registry.OpenKey(root, path, registry.READ)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	names, err := key.ReadSubKeyNames(-1)
	if err != nil {
		return nil, err
	}
	var entries []api.SoftwareEntry
	for _, name := range names {
		sub, err := registry.OpenKey(key, name, registry.READ)
		if err != nil {
			continue
		}
		entry, ok := readSoftwareKey(sub)
		sub.Close()
		if ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func readSoftwareKey(key registry.Key) (api.SoftwareEntry, bool) {
	name := regString(key, "DisplayName")
	if name == "" || isSystemComponent(key, name) {
		return api.SoftwareEntry{}, false
	}
	entry := api.SoftwareEntry{Name: name, Version: regString(key, "DisplayVersion")}
	if pub := regString(key, "Publisher"); pub != "" {
		entry.Publisher = &pub
	}
	return entry, true
}

func regString(key registry.Key, name string) string {
	v, _, err := key.GetStringValue(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

func isSystemComponent(key registry.Key, name string) bool {
	if v, _, err := key.GetIntegerValue("SystemComponent"); err == nil && v == 1 {
		return true
	}
	return strings.HasPrefix(name, "Update for") ||
		strings.HasPrefix(name, "Security Update for") ||
		strings.HasPrefix(name, "Hotfix for")
}
