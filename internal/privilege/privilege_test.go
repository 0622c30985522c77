package privilege

import (
	"testing"

	"github.com/fleetsync/inventory/pkg/api"
)

func TestRequiresElevation(t *testing.T) {
	cases := map[string]bool{
		api.TaskDeleteUserProfile: true,
		" Delete-User-Profile ":   true,
		"noop":                    false,
		"":                        false,
	}
	for name, want := range cases {
		if got := RequiresElevation(name); got != want {
			t.Errorf("RequiresElevation(%q) = %v, want %v", name, got, want)
		}
	}
}
