package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fleetsync/inventory/internal/health"
	"github.com/fleetsync/inventory/pkg/api"
)

type ack struct {
	Status string `json:"status"`
}

var okResponse = ack{Status: "ok"}

type healthResponse struct {
	health.Report
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.health.Update("database", health.Unhealthy, err.Error())
	} else {
		s.health.Update("database", health.Healthy, "")
	}

	report := s.health.Summary()
	status := http.StatusOK
	if report.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Report: report, Version: s.version})
}

// handleRegister creates or refreshes an endpoint. An agent that already
// holds a UUID sends it back so the same row is reused.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.Register
	if !decodeJSON(w, r, &req) {
		return
	}

	var id *uuid.UUID
	if req.UUID != nil && *req.UUID != "" {
		parsed, ok := parseUUID(w, *req.UUID)
		if !ok {
			return
		}
		id = &parsed
	}

	assigned, err := s.store.Register(r.Context(), req.Name, id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	out := assigned.String()
	log.Info("endpoint registered", "endpointId", out, "name", req.Name, "assigned", id == nil)
	writeJSON(w, http.StatusCreated, api.Register{Name: req.Name, UUID: &out})
}

func (s *Server) handleOSInfo(w http.ResponseWriter, r *http.Request) {
	endpointID, found := s.endpointFromPath(w, r)
	if !found {
		return
	}
	var info api.OSInfo
	if !decodeJSON(w, r, &info) {
		return
	}
	if err := s.store.UpdateOSInfo(r.Context(), endpointID, info); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) handleHardware(w http.ResponseWriter, r *http.Request) {
	endpointID, found := s.endpointFromPath(w, r)
	if !found {
		return
	}
	var hw api.HardwareInfo
	if !decodeJSON(w, r, &hw) {
		return
	}
	if err := s.store.UpdateHardware(r.Context(), endpointID, hw); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	endpointID, found := s.endpointFromPath(w, r)
	if !found {
		return
	}
	var body api.UserProfiles
	if !decodeJSON(w, r, &body) {
		return
	}
	stats, err := s.store.UpdateProfiles(r.Context(), endpointID, body.Profiles)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSoftware(w http.ResponseWriter, r *http.Request) {
	endpointID, found := s.endpointFromPath(w, r)
	if !found {
		return
	}
	var body api.SoftwareLibrary
	if !decodeJSON(w, r, &body) {
		return
	}
	n, err := s.store.UpdateSoftware(r.Context(), endpointID, body.Software)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"entries": n})
}

func (s *Server) handleLicenses(w http.ResponseWriter, r *http.Request) {
	endpointID, found := s.endpointFromPath(w, r)
	if !found {
		return
	}
	var body api.LicenseBundle
	if !decodeJSON(w, r, &body) {
		return
	}
	stats, err := s.store.UpdateLicenses(r.Context(), endpointID, body.Licenses)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleVolumes(w http.ResponseWriter, r *http.Request) {
	endpointID, found := s.endpointFromPath(w, r)
	if !found {
		return
	}
	var body api.VolumeList
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.store.UpdateVolumes(r.Context(), endpointID, body.Volumes); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	endpointID, found := s.endpointFromPath(w, r)
	if !found {
		return
	}
	var body api.BatteryStatus
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := s.store.UpdateBattery(r.Context(), endpointID, body.Batteries); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// handleFetchTasks hands out the endpoint's Created tasks. Their state moves
// only when the agent reports Downloaded.
func (s *Server) handleFetchTasks(w http.ResponseWriter, r *http.Request) {
	endpointID, found := s.endpointFromPath(w, r)
	if !found {
		return
	}
	tasks, err := s.store.FetchPending(r.Context(), endpointID)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.TaskBundle{Tasks: tasks})
}

func (s *Server) handleReportTask(w http.ResponseWriter, r *http.Request) {
	endpointID, found := s.endpointFromPath(w, r)
	if !found {
		return
	}
	var update api.TaskUpdate
	if !decodeJSON(w, r, &update) {
		return
	}
	if err := s.store.UpdateTaskStatus(r.Context(), endpointID, update); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}
