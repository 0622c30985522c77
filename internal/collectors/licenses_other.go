//go:build !windows

package collectors

import (
	"context"

	"github.com/fleetsync/inventory/pkg/api"
)

func collectPlatformLicenses(context.Context) ([]api.License, error) {
	return []api.License{}, nil
}
