//go:build windows

package collectors

import (
	"strings"

	"golang.org/x/sys/windows"
)

func volumeLabel(mount string) *string {
	root := mount
	if !strings.HasSuffix(root, `\`) {
		root += `\`
	}
	rootPtr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return nil
	}
	buf := make([]uint16, windows.MAX_PATH+1)
	if err := windows.GetVolumeInformation(rootPtr, &buf[0], uint32(len(buf)), nil, nil, nil, nil, 0); err != nil {
		return nil
	}
	label := windows.UTF16ToString(buf)
	if label == "" {
		return nil
	}
	return &label
}
