// Package collectors gathers the endpoint facts the agent pushes to the
// inventory server. Each collector returns the wire type directly; the
// platform-specific parts live in *_windows.go, *_linux.go and *_darwin.go.
package collectors

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/fleetsync/inventory/internal/logging"
)

var log = logging.L("collectors")

// Collector names as used in the enabled_collectors config key.
const (
	NameOS       = "os"
	NameHardware = "hardware"
	NameProfiles = "profiles"
	NameSoftware = "software"
	NameVolumes  = "volumes"
	NameLicenses = "licenses"
	NameBattery  = "battery"
)

// All lists every collector name in push order.
var All = []string{NameOS, NameHardware, NameProfiles, NameSoftware, NameVolumes, NameLicenses, NameBattery}

const commandTimeout = 30 * time.Second

// Set records which collectors are enabled.
type Set struct {
	enabled map[string]bool
}

// NewSet enables the named collectors. An empty list enables all of them.
func NewSet(names []string) *Set {
	s := &Set{enabled: make(map[string]bool)}
	if len(names) == 0 {
		names = All
	}
	for _, n := range names {
		s.enabled[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return s
}

func (s *Set) Enabled(name string) bool {
	return s.enabled[name]
}

// runCommand runs a helper program and returns its stdout.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		log.Debug("helper command failed", "command", name, "error", err)
		return nil, err
	}
	return out, nil
}
