//go:build darwin

package collectors

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/fleetsync/inventory/pkg/api"
)

type spApplications struct {
	SPApplicationsDataType []struct {
		Name     string   `json:"_name"`
		Version  string   `json:"version"`
		SignedBy []string `json:"signed_by"`
	} `json:"SPApplicationsDataType"`
}

func collectPlatformSoftware(ctx context.Context) ([]api.SoftwareEntry, error) {
	out, err := runCommand(ctx, "system_profiler", "SPApplicationsDataType", "-json")
	if err != nil {
		return nil, err
	}
	var data spApplications
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, err
	}
	entries := make([]api.SoftwareEntry, 0, len(data.SPApplicationsDataType))
	for _, app := range data.SPApplicationsDataType {
		e := api.SoftwareEntry{Name: app.Name, Version: app.Version}
		if len(app.SignedBy) > 0 {
			// "Developer ID Application: Vendor Name (TEAMID)"
			signer := app.SignedBy[0]
			if _, rest, ok := strings.Cut(signer, ": "); ok {
				signer = rest
			}
			if i := strings.LastIndex(signer, " ("); i > 0 {
				signer = signer[:i]
			}
			e.Publisher = &signer
		}
		entries = append(entries, e)
	}
	return entries, nil
}
