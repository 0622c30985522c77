//go:build !windows && !linux

package collectors

import (
	"context"

	"github.com/fleetsync/inventory/pkg/api"
)

func collectPlatformBattery(context.Context) ([]api.Battery, error) {
	return nil, nil
}
