// Copyright 2025 Lawliet Project
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"lawliet/platform/shared/logger"
	"lawliet/platform/shared/types"
)

// LabAPIHandler exposes the lab broker to the web layer: generate, delete,
// info and status. Every handler resolves the caller from the request
// context and passes the username explicitly into the orchestrators.
type LabAPIHandler struct {
	provisioner *Provisioner
	teardown    *TeardownOrchestrator
	registry    *ConnectionRegistry
	catalog     *LabCatalog
	backend     *BackendClient
	log         *logger.Logger
}

// NewLabAPIHandler creates the handler set over the broker components.
func NewLabAPIHandler(provisioner *Provisioner, teardown *TeardownOrchestrator, registry *ConnectionRegistry, catalog *LabCatalog, backend *BackendClient) *LabAPIHandler {
	return &LabAPIHandler{
		provisioner: provisioner,
		teardown:    teardown,
		registry:    registry,
		catalog:     catalog,
		backend:     backend,
		log:         logger.New("lab-api"),
	}
}

// RegisterRoutes mounts the lab API on the router.
func (h *LabAPIHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/lab/generate", h.handleGenerateLab).Methods("POST")
	r.HandleFunc("/lab/delete", h.handleDeleteLab).Methods("POST")
	r.HandleFunc("/lab/info", h.handleLabInfo).Methods("GET")
	r.HandleFunc("/lab/status", h.handleLabStatus).Methods("GET")
	r.HandleFunc("/lab/list", h.handleLabList).Methods("GET")
}

// statusForError maps broker errors onto HTTP status codes. Validation and
// lookup failures are 422 to match what the dashboard JS expects.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusConflict
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrLabNotFound),
		errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicateName),
		errors.Is(err, ErrDuplicateParameter),
		errors.Is(err, ErrDuplicatePermission),
		errors.Is(err, ErrAlreadyExists):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the structured failure payload: a human-readable err
// string, a machine-readable kind, and the identifiers involved.
func writeError(w http.ResponseWriter, err error, extra map[string]interface{}) {
	payload := map[string]interface{}{
		"err":  err.Error(),
		"kind": errorKind(err),
	}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, statusForError(err), payload)
}

// handleGenerateLab provisions a new lab for the caller.
// POST /lab/generate?create={labID}
func (h *LabAPIHandler) handleGenerateLab(w http.ResponseWriter, r *http.Request) {
	username, ok := UsernameFromContext(r.Context())
	if !ok {
		writeAuthError(w, "no authenticated user")
		return
	}

	labID := r.URL.Query().Get("create")
	if labID == "" {
		writeError(w, fmt.Errorf("lab id: %w", ErrMissingParameter), map[string]interface{}{"id": labID})
		return
	}

	result, err := h.provisioner.Provision(r.Context(), username, labID)
	if err != nil {
		writeError(w, err, map[string]interface{}{"id": labID})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"msg":       "Successfully created lab",
		"id":        result.LabID,
		"protocol":  result.Protocol,
		"port":      result.Port,
		"conn_id":   result.ConnectionID,
		"conn_name": result.ConnectionName,
	})
}

// handleDeleteLab tears down one of the caller's labs.
// POST /lab/delete?id={connectionRef}
func (h *LabAPIHandler) handleDeleteLab(w http.ResponseWriter, r *http.Request) {
	username, ok := UsernameFromContext(r.Context())
	if !ok {
		writeAuthError(w, "no authenticated user")
		return
	}

	connectionRef := r.URL.Query().Get("id")
	result, err := h.teardown.Teardown(r.Context(), username, connectionRef)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"msg":       "Successfully deleted labs",
		"n_deleted": result.Deleted,
	})
}

// handleLabInfo lists the caller's active connections with their catalog
// metadata.
// GET /lab/info
func (h *LabAPIHandler) handleLabInfo(w http.ResponseWriter, r *http.Request) {
	username, ok := UsernameFromContext(r.Context())
	if !ok {
		writeAuthError(w, "no authenticated user")
		return
	}

	conns, err := h.registry.FindConnectionsByUser(r.Context(), username)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	info := make([]types.ActiveLab, 0, len(conns))
	for _, conn := range conns {
		entry := types.ActiveLab{
			Protocol: conn.Protocol,
			ConnID:   conn.ConnectionID,
			ConnName: conn.Name,
		}
		lab, err := h.catalog.GetLab(r.Context(), conn.LabID)
		if err != nil {
			// Catalog row deleted out from under an active lab; report the
			// connection anyway so the user can still tear it down.
			h.log.Warn(username, "", "Active connection references unknown lab", map[string]interface{}{
				"conn_id": conn.ConnectionID,
				"lab_id":  conn.LabID,
			})
		} else {
			entry.Name = lab.Name
			entry.URL = lab.URL
		}
		info = append(info, entry)
	}

	writeJSON(w, http.StatusOK, info)
}

// handleLabStatus passes the backend's pod status payload through to the
// dashboard.
// GET /lab/status
func (h *LabAPIHandler) handleLabStatus(w http.ResponseWriter, r *http.Request) {
	username, ok := UsernameFromContext(r.Context())
	if !ok {
		writeAuthError(w, "no authenticated user")
		return
	}

	payload, err := h.backend.PodStatus(r.Context(), username)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleLabList returns the lab catalog for the dashboard's picker.
// GET /lab/list
func (h *LabAPIHandler) handleLabList(w http.ResponseWriter, r *http.Request) {
	if _, ok := UsernameFromContext(r.Context()); !ok {
		writeAuthError(w, "no authenticated user")
		return
	}

	labs, err := h.catalog.ListLabs(r.Context())
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if labs == nil {
		labs = []types.LabEnvironment{}
	}
	writeJSON(w, http.StatusOK, labs)
}
