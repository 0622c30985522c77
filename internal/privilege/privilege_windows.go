//go:build windows

package privilege

import "golang.org/x/sys/windows"

// IsElevated reports whether the process token is elevated. LocalSystem,
// which the service runs as, always is.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
