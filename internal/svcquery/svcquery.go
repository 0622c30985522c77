// Package svcquery reports whether the agent's system service is installed
// and running, for the status command.
package svcquery

import (
	"bufio"
	"errors"
	"strings"
)

type State string

const (
	StateRunning      State = "running"
	StateStopped      State = "stopped"
	StateNotInstalled State = "not installed"
	StateUnknown      State = "unknown"
)

// ErrUnsupported is returned on platforms without a service manager
// integration.
var ErrUnsupported = errors.New("service query not supported on this platform")

type Service struct {
	Name      string
	State     State
	StartType string // automatic, manual or disabled; empty when unknown
}

func (s Service) String() string {
	if s.StartType == "" {
		return string(s.State)
	}
	return string(s.State) + " (" + s.StartType + ")"
}

// parseSystemdShow reads `systemctl show -p LoadState,ActiveState,UnitFileState`.
func parseSystemdShow(name, out string) Service {
	props := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "="); ok {
			props[k] = v
		}
	}

	svc := Service{Name: name, State: StateUnknown}
	if props["LoadState"] == "not-found" {
		svc.State = StateNotInstalled
		return svc
	}
	switch props["ActiveState"] {
	case "active", "activating", "reloading":
		svc.State = StateRunning
	case "inactive", "failed", "deactivating":
		svc.State = StateStopped
	}
	switch props["UnitFileState"] {
	case "enabled", "enabled-runtime":
		svc.StartType = "automatic"
	case "disabled", "static":
		svc.StartType = "manual"
	case "masked":
		svc.StartType = "disabled"
	}
	return svc
}
