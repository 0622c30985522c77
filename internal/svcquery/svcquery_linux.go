//go:build linux

package svcquery

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

func Query(name string) (Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "systemctl", "show", "-p", "LoadState,ActiveState,UnitFileState", name+".service").Output()
	if err != nil {
		return Service{Name: name, State: StateUnknown}, fmt.Errorf("systemctl show %s: %w", name, err)
	}
	return parseSystemdShow(name, string(out)), nil
}
