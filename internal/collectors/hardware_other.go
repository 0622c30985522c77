//go:build !windows && !linux && !darwin

package collectors

import (
	"context"

	"github.com/fleetsync/inventory/pkg/api"
)

func collectPlatformHardware(context.Context, *api.HardwareInfo) {}
