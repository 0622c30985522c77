//go:build windows

package collectors

import (
	"context"

	"golang.org/x/sys/windows/registry"

	"github.com/fleetsync/inventory/pkg/api"
)

func collectPlatformLicenses(context.Context) ([]api.License, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows NT\CurrentVersion`, registry.QUERY_VALUE|registry.WOW64_64KEY)
	if err != nil {
		return nil, err
	}
	defer k.Close()

	name, _, err := k.GetStringValue("ProductName")
	if err != nil {
		return nil, err
	}
	id, _, err := k.GetBinaryValue("DigitalProductId")
	if err != nil {
		return nil, err
	}
	key, err := DecodeProductKey(id)
	if err != nil {
		return nil, err
	}
	return []api.License{{Name: name, Key: key}}, nil
}
