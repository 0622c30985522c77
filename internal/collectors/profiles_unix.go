//go:build linux || darwin

package collectors

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/fleetsync/inventory/pkg/api"
)

func collectPlatformProfiles(ctx context.Context) ([]api.ProfileInfo, error) {
	accounts, err := localAccounts()
	if err != nil {
		return nil, err
	}
	profiles := make([]api.ProfileInfo, 0, len(accounts))
	for _, acct := range accounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		profiles = append(profiles, unixProfile(ctx, acct))
	}
	return profiles, nil
}

func unixProfile(ctx context.Context, acct passwdEntry) api.ProfileInfo {
	name := acct.Name
	p := api.ProfileInfo{Username: &name, SID: unixSID(acct.UID)}

	info, statErr := os.Stat(acct.Home)
	missing := errors.Is(statErr, fs.ErrNotExist)
	p.Status, p.HealthStatus = profileStatus(0, false, missing)
	if statErr != nil {
		return p
	}
	used := info.ModTime().UTC()
	p.LastUseTime = &used

	total, paths, err := measureDir(ctx, acct.Home)
	if err != nil {
		log.Debug("profile size unavailable", "home", acct.Home, "error", err)
		return p
	}
	p.Size = &total
	p.PathSize = paths
	return p
}

// localAccounts reads /etc/passwd on Linux. macOS keeps accounts in
// directory services, so homes under /Users are used instead.
func localAccounts() ([]passwdEntry, error) {
	if runtime.GOOS != "darwin" {
		f, err := os.Open("/etc/passwd")
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return parsePasswd(f), nil
	}

	entries, err := os.ReadDir("/Users")
	if err != nil {
		return nil, err
	}
	var out []passwdEntry
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "Shared" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		home := filepath.Join("/Users", e.Name())
		info, err := os.Stat(home)
		if err != nil {
			continue
		}
		st, ok := info.Sys().(*syscall.Stat_t)
		if !ok || st.Uid < 500 {
			continue
		}
		out = append(out, passwdEntry{Name: e.Name(), UID: st.Uid, Home: home})
	}
	return out, nil
}
