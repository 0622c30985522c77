//go:build windows

package taskrunner

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	userenv            = windows.NewLazySystemDLL("userenv.dll")
	procDeleteProfileW = userenv.NewProc("DeleteProfileW")
)

// deleteUserProfile removes the profile directory and registry hive of sid
// through the user profile service.
func deleteUserProfile(_ context.Context, sid string) error {
	if _, err := windows.StringToSid(sid); err != nil {
		return fmt.Errorf("invalid sid %q: %w", sid, err)
	}
	sidPtr, err := windows.UTF16PtrFromString(sid)
	if err != nil {
		return fmt.Errorf("invalid sid %q: %w", sid, err)
	}
	if err := procDeleteProfileW.Find(); err != nil {
		return fmt.Errorf("DeleteProfileW unavailable: %w", err)
	}

	r1, _, callErr := procDeleteProfileW.Call(uintptr(unsafe.Pointer(sidPtr)), 0, 0)
	if r1 == 0 {
		return fmt.Errorf("delete profile %s: %w", sid, callErr)
	}
	log.Info("user profile deleted", "sid", sid)
	return nil
}
