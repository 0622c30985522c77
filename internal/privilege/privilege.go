// Package privilege answers whether the agent process may perform
// administrative changes on the endpoint.
package privilege

import (
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

// elevatedTasks lists task names that change machine-wide state.
var elevatedTasks = map[string]bool{
	api.TaskDeleteUserProfile: true,
}

func RequiresElevation(taskName string) bool {
	return elevatedTasks[strings.ToLower(strings.TrimSpace(taskName))]
}
