//go:build !windows

package collectors

// volumeLabel is only meaningful on Windows; elsewhere the mount point
// already names the volume.
func volumeLabel(string) *string { return nil }
