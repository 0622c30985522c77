package collectors

import (
	"bufio"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

// Profile health codes.
const (
	healthOK        uint8 = 0
	healthUnhealthy uint8 = 1
	healthAttention uint8 = 2
)

// Windows ProfileList State bits that feed the status mask.
const (
	stateMandatory    uint32 = 0x0001
	stateTempAssigned uint32 = 0x0800
)

// CollectProfiles returns a full snapshot of the local user profiles.
func CollectProfiles(ctx context.Context) ([]api.ProfileInfo, error) {
	profiles, err := collectPlatformProfiles(ctx)
	if err != nil {
		return nil, err
	}
	if profiles == nil {
		profiles = []api.ProfileInfo{}
	}
	return profiles, nil
}

// profileStatus folds the raw profile state into the status bitmask and a
// health code. A profile whose directory is gone is corrupted.
func profileStatus(state uint32, roaming, missing bool) (uint32, uint8) {
	var status uint32
	if state&stateTempAssigned != 0 {
		status |= api.ProfileTemporary
	}
	if roaming {
		status |= api.ProfileRoaming
	}
	if state&stateMandatory != 0 {
		status |= api.ProfileMandatory
	}
	if missing {
		status |= api.ProfileCorrupted
	}

	switch {
	case status&api.ProfileCorrupted != 0:
		return status, healthUnhealthy
	case status&api.ProfileTemporary != 0:
		return status, healthAttention
	default:
		return status, healthOK
	}
}

// measureDir walks root and returns its total size plus the size of each
// top-level entry, largest first. Unreadable entries are skipped.
func measureDir(ctx context.Context, root string) (uint64, []api.PathInfo, error) {
	if _, err := os.Stat(root); err != nil {
		return 0, nil, err
	}
	perTop := make(map[string]uint64)
	var total uint64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size := uint64(info.Size())
		total += size
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		top, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		perTop[filepath.Join(root, top)] += size
		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	paths := make([]api.PathInfo, 0, len(perTop))
	for p, size := range perTop {
		paths = append(paths, api.PathInfo{Path: p, Size: size})
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Size != paths[j].Size {
			return paths[i].Size > paths[j].Size
		}
		return paths[i].Path < paths[j].Path
	})
	return total, paths, nil
}

type passwdEntry struct {
	Name string
	UID  uint32
	Home string
}

// parsePasswd reads /etc/passwd formatted lines and keeps interactive
// accounts: uid at or above 1000, excluding nobody.
func parsePasswd(r io.Reader) []passwdEntry {
	var out []passwdEntry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 {
			continue
		}
		uid, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil || uid < 1000 || uid == 65534 {
			continue
		}
		out = append(out, passwdEntry{Name: fields[0], UID: uint32(uid), Home: fields[5]})
	}
	return out
}

// unixSID builds the S-1-22-1 form used for Unix accounts.
func unixSID(uid uint32) string {
	return "S-1-22-1-" + strconv.FormatUint(uint64(uid), 10)
}
