//go:build !windows

package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
)

// Profiles keyed by security identifier only exist on Windows.
func deleteUserProfile(_ context.Context, sid string) error {
	return fmt.Errorf("delete profile %s on %s: %w", sid, runtime.GOOS, errors.ErrUnsupported)
}
