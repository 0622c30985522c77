package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/fleetsync/inventory/internal/inventory"
	"github.com/fleetsync/inventory/pkg/api"
)

// CreateTaskRequest is the body of POST /admin/tasks.
type CreateTaskRequest struct {
	Endpoint  string          `json:"endpoint"`
	Task      api.TaskPayload `json:"task"`
	TimeStart *time.Time      `json:"time_start,omitempty"`
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.store.ListEndpoints(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if eps == nil {
		eps = []inventory.Endpoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": eps})
}

func (s *Server) handleEndpointDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, mux.Vars(r)["uuid"])
	if !ok {
		return
	}
	detail, err := s.store.Detail(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, ok := parseUUID(w, req.Endpoint)
	if !ok {
		return
	}
	endpointID, err := s.store.ResolveEndpoint(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	task, err := s.store.CreateTask(r.Context(), endpointID, req.Task, req.TimeStart)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// handleListTasks accepts optional endpoint, status and limit query
// parameters.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f inventory.TaskFilter

	if raw := q.Get("endpoint"); raw != "" {
		id, ok := parseUUID(w, raw)
		if !ok {
			return
		}
		endpointID, err := s.store.ResolveEndpoint(r.Context(), id)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		f.EndpointID = endpointID
	}
	if raw := q.Get("status"); raw != "" {
		status, err := api.ParseTaskStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
			return
		}
		f.Status = &status
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	tasks, err := s.store.ListTasks(r.Context(), f)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []inventory.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListIdentities(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if ids == nil {
		ids = []inventory.IdentityRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"identities": ids})
}

func (s *Server) handleIdentityEndpoints(w http.ResponseWriter, r *http.Request) {
	sid := mux.Vars(r)["sid"]
	if _, err := s.store.LookupIdentity(r.Context(), sid); err != nil {
		writeStoreError(w, r, err)
		return
	}
	eps, err := s.store.ProfileEndpoints(r.Context(), sid)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if eps == nil {
		eps = []inventory.Endpoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sid": sid, "endpoints": eps})
}

func (s *Server) handleClearIdentityCache(w http.ResponseWriter, r *http.Request) {
	n := s.store.Identities().Clear()
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handleSoftwareCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := s.store.SoftwareCatalog(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if catalog == nil {
		catalog = []inventory.SoftwareUsage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"software": catalog})
}

func (s *Server) handleCriticalVolumes(w http.ResponseWriter, r *http.Request) {
	vols, err := s.store.CriticalVolumes(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if vols == nil {
		vols = []inventory.CriticalVolume{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"volumes": vols})
}
