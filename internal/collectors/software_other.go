//go:build !windows && !linux && !darwin

package collectors

import (
	"context"

	"github.com/fleetsync/inventory/pkg/api"
)

func collectPlatformSoftware(context.Context) ([]api.SoftwareEntry, error) {
	return []api.SoftwareEntry{}, nil
}
