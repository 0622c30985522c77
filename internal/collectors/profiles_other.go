//go:build !windows && !linux && !darwin

package collectors

import (
	"context"

	"github.com/fleetsync/inventory/pkg/api"
)

func collectPlatformProfiles(context.Context) ([]api.ProfileInfo, error) {
	return []api.ProfileInfo{}, nil
}
