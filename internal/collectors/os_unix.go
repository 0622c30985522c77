//go:build !windows

package collectors

import (
	"os"
)

func platformProductName() string { return "" }

func platformDomain() string {
	f, err := os.Open("/etc/resolv.conf")
	if err != nil {
		return ""
	}
	defer f.Close()
	return parseResolvDomain(f)
}
