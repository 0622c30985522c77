//go:build integration

package inventory

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/inventory/pkg/api"
)

// Run with:
//
//	INVENTORY_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/inventory/
//
// The database must be disposable. Rows are keyed by fresh uuids and sids so
// repeated runs do not collide.
func openPostgres(t *testing.T, driver string) *Store {
	t.Helper()
	dsn := os.Getenv("INVENTORY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INVENTORY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, driver, dsn, 4)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrate is idempotent")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresRoundTrip(t *testing.T) {
	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			s := openPostgres(t, driver)
			ctx := context.Background()
			suffix := uuid.NewString()

			id, err := s.Register(ctx, "pg-"+suffix, nil)
			require.NoError(t, err)
			ep, err := s.ResolveEndpoint(ctx, id)
			require.NoError(t, err)

			require.NoError(t, s.UpdateOSInfo(ctx, ep, api.OSInfo{OperatingSystem: "Linux", OSVersion: "6.8", ComputerName: "pg"}))

			lastUse := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
			size := uint64(1 << 30)
			sidA, sidB := "S-1-5-21-"+suffix+"-1", "S-1-5-21-"+suffix+"-2"
			stats, err := s.UpdateProfiles(ctx, ep, []api.ProfileInfo{
				{SID: sidA, Username: strPtr(`CORP\alice`), LastUseTime: &lastUse, Size: &size,
					PathSize: []api.PathInfo{{Path: "Documents", Size: 1024}}},
				{SID: sidB, Username: strPtr("bob")},
			})
			require.NoError(t, err)
			assert.Equal(t, 2, stats.Added)

			stats, err = s.UpdateProfiles(ctx, ep, []api.ProfileInfo{{SID: sidB, Username: strPtr("bob")}})
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Deleted)
			assert.Equal(t, 1, stats.Updated)

			n, err := s.UpdateSoftware(ctx, ep, []api.SoftwareEntry{
				{Name: "pg-tool-" + suffix, Version: "1.0"},
				{Name: "pg-tool-" + suffix, Version: "1.0"},
			})
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			_, err = s.UpdateSoftware(ctx, ep, []api.SoftwareEntry{{Name: "pg-tool-" + suffix, Version: "1.0"}})
			require.NoError(t, err, "existing catalog rows resolve without conflict")

			task, err := s.CreateDeleteProfileTask(ctx, ep, sidB)
			require.NoError(t, err)
			pending, err := s.FetchPending(ctx, ep)
			require.NoError(t, err)
			require.Len(t, pending, 1)

			// An absent time_downloaded still has to type-check in COALESCE.
			require.NoError(t, s.UpdateTaskStatus(ctx, ep, api.TaskUpdate{ID: task.ID, TaskStatus: api.TaskDownloaded}))
			require.NoError(t, s.UpdateTaskStatus(ctx, ep, api.TaskUpdate{ID: task.ID, TaskStatus: api.TaskDownloaded}))
			require.NoError(t, s.UpdateTaskStatus(ctx, ep, api.TaskUpdate{ID: task.ID, TaskStatus: api.TaskRunning}))
			require.NoError(t, s.UpdateTaskStatus(ctx, ep, api.TaskUpdate{
				ID: task.ID, TaskStatus: api.TaskFailed, TaskResult: json.RawMessage(`{"error":"insufficient privileges"}`),
			}))
			err = s.UpdateTaskStatus(ctx, ep, api.TaskUpdate{ID: task.ID, TaskStatus: api.TaskSuccessful})
			require.ErrorIs(t, err, ErrStaleTransition)

			detail, err := s.Detail(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, detail.OSInfo)
			require.Len(t, detail.Profiles, 1)
			assert.Equal(t, sidB, detail.Profiles[0].SID)
			require.Len(t, detail.Tasks, 1)
			assert.Equal(t, api.TaskFailed, detail.Tasks[0].Status)
			assert.NotNil(t, detail.Tasks[0].DownloadedAt)
			assert.JSONEq(t, `{"error":"insufficient privileges"}`, string(detail.Tasks[0].Result))
		})
	}
}
