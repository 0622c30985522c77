package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/fleetsync/inventory/internal/inventory"
	"github.com/fleetsync/inventory/pkg/api"
)

const (
	codeBadRequest = "bad_request"
	codeNotFound   = "not_found"
	codeConflict   = "conflict"
	codeTooLarge   = "payload_too_large"
	codeInternal   = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: code, Message: message})
}

// writeStoreError maps store sentinels to status codes. Anything unknown is
// logged and reported as 500 without internal detail.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrEndpointNotFound),
		errors.Is(err, inventory.ErrTaskNotFound),
		errors.Is(err, inventory.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, inventory.ErrStaleTransition):
		writeError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, inventory.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
	default:
		log.Error("store operation failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

// decodeJSON reads the request body into v, writing the error response
// itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, codeBadRequest, "request body is empty")
	default:
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid JSON: "+err.Error())
	}
	return false
}

func parseUUID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, fmt.Sprintf("malformed uuid %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

// endpointFromPath resolves the {uuid} route variable to an endpoint row id.
func (s *Server) endpointFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := parseUUID(w, mux.Vars(r)["uuid"])
	if !ok {
		return 0, false
	}
	rowID, err := s.store.ResolveEndpoint(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return 0, false
	}
	return rowID, true
}
