package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsync/inventory/internal/inventory"
	"github.com/fleetsync/inventory/pkg/api"
)

const testToken = "s3cret"

type testEnv struct {
	store *inventory.Store
	srv   *httptest.Server
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	ctx := context.Background()
	store, err := inventory.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "api.db"), 0)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { store.Close() })

	srv := httptest.NewServer(New(store, nil, "test", opts).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{store: store, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+apiPrefix+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) register(t *testing.T, name string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/register", api.Register{Name: name})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[api.Register](t, resp)
	require.NotNil(t, out.UUID)
	return *out.UUID
}

func TestRegisterAssignsAndKeepsUUID(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.register(t, "WS-1")

	resp := env.do(t, http.MethodPost, "/register", api.Register{Name: "WS-1-renamed", UUID: &id})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	out := decode[api.Register](t, resp)
	assert.Equal(t, id, *out.UUID)
	assert.Equal(t, "WS-1-renamed", out.Name)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, Options{})

	bad := "not-a-uuid"
	resp := env.do(t, http.MethodPost, "/register", api.Register{Name: "x", UUID: &bad})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	er := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, codeBadRequest, er.Error)

	resp = env.do(t, http.MethodPost, "/register", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/register", api.Register{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPushToUnknownEndpointIs404(t *testing.T) {
	env := newTestEnv(t, Options{})
	unknown := "0b6f7c1e-4a57-4e4d-9c2f-1f1e0c7d9a10"

	for _, path := range []string{"/os/", "/hardware/", "/profiles/", "/software/", "/licenses/"} {
		resp := env.do(t, http.MethodPost, path+unknown, map[string]any{})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	resp := env.do(t, http.MethodGet, "/tasks/"+unknown, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/os/garbage", api.OSInfo{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPushProfilesReturnsStats(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.register(t, "WS-2")
	user := `CORP\jdoe`

	resp := env.do(t, http.MethodPost, "/profiles/"+id, api.UserProfiles{Profiles: []api.ProfileInfo{
		{SID: "S-1", Username: &user},
		{SID: "S-2"},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[inventory.ReconcileStats](t, resp)
	assert.Equal(t, 2, stats.Added)

	resp = env.do(t, http.MethodPost, "/profiles/"+id, api.UserProfiles{Profiles: []api.ProfileInfo{{SID: "S-2"}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats = decode[inventory.ReconcileStats](t, resp)
	assert.Equal(t, inventory.ReconcileStats{Updated: 1, Deleted: 1}, stats)
}

func TestPushStatusRoutes(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.register(t, "WS-3")

	resp := env.do(t, http.MethodPost, "/os/"+id, api.OSInfo{OperatingSystem: "Windows 11 Pro", OSVersion: "10.0.22631", ComputerName: "WS-3", Domain: "CORP"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/software/"+id, api.SoftwareLibrary{Software: []api.SoftwareEntry{{Name: "Git", Version: "2.45"}}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/licenses/"+id, api.LicenseBundle{Licenses: []api.License{{Name: "Windows", Key: "K"}}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/status/"+id+"/volumes", api.VolumeList{Volumes: []api.Volume{{DriveLetter: "C:", FileSystem: "NTFS", Capacity: 100 << 30, FreeSpace: 1 << 30}}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/status/"+id+"/battery", api.BatteryStatus{Batteries: []api.Battery{{ID: "BAT0"}}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaskFetchAndReport(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.register(t, "WS-4")
	ctx := context.Background()

	rowID := resolve(t, env, id)
	task, err := env.store.CreateDeleteProfileTask(ctx, rowID, "S-1")
	require.NoError(t, err)

	resp := env.do(t, http.MethodGet, "/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	bundle := decode[api.TaskBundle](t, resp)
	require.Len(t, bundle.Tasks, 1)
	assert.Equal(t, task.ID, bundle.Tasks[0].ID)

	report := func(status api.TaskStatus, result string) *http.Response {
		u := api.TaskUpdate{ID: task.ID, TaskStatus: status}
		if result != "" {
			u.TaskResult = json.RawMessage(result)
		}
		return env.do(t, http.MethodPost, "/tasks/"+id, u)
	}
	assert.Equal(t, http.StatusOK, report(api.TaskDownloaded, "").StatusCode)
	assert.Equal(t, http.StatusOK, report(api.TaskDownloaded, "").StatusCode, "duplicate report is accepted")
	assert.Equal(t, http.StatusOK, report(api.TaskRunning, "").StatusCode)
	assert.Equal(t, http.StatusOK, report(api.TaskFailed, `{"error":"unknown task"}`).StatusCode)

	resp = report(api.TaskSuccessful, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, codeConflict, decode[api.ErrorResponse](t, resp).Error)

	resp = env.do(t, http.MethodGet, "/tasks/"+id, nil)
	bundle = decode[api.TaskBundle](t, resp)
	assert.NotNil(t, bundle.Tasks)
	assert.Empty(t, bundle.Tasks)

	other := env.register(t, "WS-5")
	resp = env.do(t, http.MethodPost, "/tasks/"+other, api.TaskUpdate{ID: task.ID, TaskStatus: api.TaskRunning})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/tasks/"+id, `{"id":1,"task_status":"Exploded"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBodyLimit(t *testing.T) {
	env := newTestEnv(t, Options{MaxBodyBytes: 64})
	body := `{"name":"` + strings.Repeat("a", 200) + `"}`
	resp := env.do(t, http.MethodPost, "/register", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[map[string]any](t, resp)
	assert.Equal(t, "healthy", summary["status"])
	assert.Equal(t, "test", summary["version"])

	require.NoError(t, env.store.Close())
	resp = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp := env.do(t, http.MethodGet, "/admin/endpoints", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminRequiresBearer(t *testing.T) {
	env := newTestEnv(t, Options{AdminToken: testToken})

	resp := env.do(t, http.MethodGet, "/admin/endpoints", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/admin/endpoints", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/admin/endpoints", nil, "Authorization", "Bearer "+testToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminCreateAndListTasks(t *testing.T) {
	env := newTestEnv(t, Options{AdminToken: testToken})
	auth := []string{"Authorization", "Bearer " + testToken}
	id := env.register(t, "WS-6")

	resp := env.do(t, http.MethodPost, "/admin/tasks", CreateTaskRequest{
		Endpoint: id,
		Task:     api.TaskPayload{Name: api.TaskDeleteUserProfile, Parameters: map[string]any{"sid": "S-1"}},
	}, auth...)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[inventory.TaskRecord](t, resp)
	assert.Equal(t, api.TaskCreated, created.Status)
	assert.Equal(t, id, created.EndpointUUID)

	resp = env.do(t, http.MethodPost, "/admin/tasks", CreateTaskRequest{
		Endpoint: "0b6f7c1e-4a57-4e4d-9c2f-1f1e0c7d9a10",
		Task:     api.TaskPayload{Name: "noop"},
	}, auth...)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/admin/tasks?endpoint="+id+"&status=created", nil, auth...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Tasks []inventory.TaskRecord `json:"tasks"`
	}](t, resp)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, created.ID, list.Tasks[0].ID)

	resp = env.do(t, http.MethodGet, "/admin/tasks?status=bogus", nil, auth...)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminIdentitiesAndDetail(t *testing.T) {
	env := newTestEnv(t, Options{AdminToken: testToken})
	auth := []string{"Authorization", "Bearer " + testToken}
	id := env.register(t, "WS-7")

	resp := env.do(t, http.MethodPost, "/profiles/"+id, api.UserProfiles{Profiles: []api.ProfileInfo{{SID: "S-1"}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/admin/identities", nil, auth...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ids := decode[struct {
		Identities []inventory.IdentityRecord `json:"identities"`
	}](t, resp)
	require.Len(t, ids.Identities, 1)
	assert.Equal(t, 1, ids.Identities[0].ProfileCount)

	resp = env.do(t, http.MethodGet, "/admin/identities/S-1/endpoints", nil, auth...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/admin/identities/S-404/endpoints", nil, auth...)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/admin/identity-cache/clear", nil, auth...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"cleared": 1}, decode[map[string]int](t, resp))

	resp = env.do(t, http.MethodGet, "/admin/endpoints/"+id, nil, auth...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[inventory.EndpointDetail](t, resp)
	assert.Equal(t, "WS-7", detail.Endpoint.Name)
	require.Len(t, detail.Profiles, 1)

	resp = env.do(t, http.MethodGet, "/admin/endpoints/0b6f7c1e-4a57-4e4d-9c2f-1f1e0c7d9a10", nil, auth...)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func resolve(t *testing.T, env *testEnv, id string) int64 {
	t.Helper()
	eps, err := env.store.ListEndpoints(context.Background())
	require.NoError(t, err)
	for _, ep := range eps {
		if ep.UUID == id {
			return ep.ID
		}
	}
	t.Fatalf("endpoint %s not registered", id)
	return 0
}
