//go:build windows

package collectors

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/fleetsync/inventory/pkg/api"
)

const profileListPath = `SOFTWARE\Microsoft\Windows NT\CurrentVersion\ProfileList`

// Well-known service account SIDs carry no user data.
var serviceSIDs = map[string]bool{
	"S-1-5-18": true,
	"S-1-5-19": true,
	"S-1-5-20": true,
}

func collectPlatformProfiles(ctx context.Context) ([]api.ProfileInfo, error) {
	list, err := registry.OpenKey(registry.LOCAL_MACHINE, profileListPath, registry.READ)
	if err != nil {
		return nil, err
	}
	defer list.Close()

	sids, err := list.ReadSubKeyNames(-1)
	if err != nil {
		return nil, err
	}
	profiles := make([]api.ProfileInfo, 0, len(sids))
	for _, sid := range sids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if serviceSIDs[sid] || strings.HasSuffix(sid, ".bak") {
			continue
		}
		key, err := registry.OpenKey(list, sid, registry.QUERY_VALUE)
		if err != nil {
			log.Debug("profile key unreadable", "sid", sid, "error", err)
			continue
		}
		profiles = append(profiles, readProfileKey(ctx, sid, key))
		key.Close()
	}
	return profiles, nil
}

func readProfileKey(ctx context.Context, sid string, key registry.Key) api.ProfileInfo {
	p := api.ProfileInfo{SID: sid}

	if parsed, err := windows.StringToSid(sid); err == nil {
		if account, domain, _, err := parsed.LookupAccount(""); err == nil {
			p.Username = &account
			if domain != "" {
				p.Domain = &domain
			}
		}
	}

	state, _, _ := key.GetIntegerValue("State")
	central, _, _ := key.GetStringValue("CentralProfile")
	if central != "" {
		p.RoamingConfigured = true
		p.RoamingPath = &central
	}
	if pref, _, err := key.GetIntegerValue("RoamingPreference"); err == nil {
		b := pref != 0
		p.RoamingPreference = &b
	}
	if t := filetimeValue(key, "LocalProfileLoadTimeHigh", "LocalProfileLoadTimeLow"); t != nil {
		p.LastUseTime = t
	}
	if t := filetimeValue(key, "LocalProfileUnloadTimeHigh", "LocalProfileUnloadTimeLow"); t != nil && p.LastUseTime == nil {
		p.LastUseTime = t
	}

	image, _, _ := key.GetStringValue("ProfileImagePath")
	image, _ = registry.ExpandString(image)
	_, statErr := os.Stat(image)
	missing := image == "" || errors.Is(statErr, fs.ErrNotExist)
	p.Status, p.HealthStatus = profileStatus(uint32(state), p.RoamingConfigured, missing)

	if !missing {
		total, paths, err := measureDir(ctx, image)
		if err == nil {
			p.Size = &total
			p.PathSize = paths
		} else {
			log.Debug("profile size unavailable", "path", image, "error", err)
		}
	}
	return p
}

func filetimeValue(key registry.Key, high, low string) *time.Time {
	hi, _, errHi := key.GetIntegerValue(high)
	lo, _, errLo := key.GetIntegerValue(low)
	if errHi != nil || errLo != nil || (hi == 0 && lo == 0) {
		return nil
	}
	ft := windows.Filetime{HighDateTime: uint32(hi), LowDateTime: uint32(lo)}
	t := time.Unix(0, ft.Nanoseconds()).UTC()
	return &t
}
