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
	"context"
	"errors"
	"fmt"
	"time"

	"lawliet/platform/shared/logger"
	"lawliet/platform/shared/types"
)

// TeardownOrchestrator reverses a provisioning run: destroy the backing
// container, revoke the grant, delete the connection, release the quota
// slot. Ownership is checked before any mutation.
type TeardownOrchestrator struct {
	users    *UserStore
	identity *IdentityBridge
	registry *ConnectionRegistry
	backend  *BackendClient
	log      *logger.Logger
}

// NewTeardownOrchestrator wires a teardown orchestrator over its
// collaborators.
func NewTeardownOrchestrator(users *UserStore, identity *IdentityBridge, registry *ConnectionRegistry, backend *BackendClient) *TeardownOrchestrator {
	return &TeardownOrchestrator{
		users:    users,
		identity: identity,
		registry: registry,
		backend:  backend,
		log:      logger.New("teardown"),
	}
}

// Teardown removes the connection identified by connectionRef (a numeric id
// or a connection name) for username. The second teardown of the same
// reference fails with ErrNotFound and touches nothing, so the counter is
// never double-decremented.
func (t *TeardownOrchestrator) Teardown(ctx context.Context, username, connectionRef string) (*types.TeardownResult, error) {
	start := time.Now()
	fail := func(err error) (*types.TeardownResult, error) {
		promTeardownsTotal.WithLabelValues("failure").Inc()
		t.log.Error(username, "", "Teardown failed", map[string]interface{}{
			"conn_ref": connectionRef,
			"error":    err.Error(),
		})
		return nil, err
	}

	if connectionRef == "" {
		return fail(fmt.Errorf("connection reference: %w", ErrMissingParameter))
	}

	conns, err := t.registry.FindConnectionsByRef(ctx, connectionRef)
	if err != nil {
		return fail(err)
	}
	if len(conns) == 0 {
		return fail(fmt.Errorf("connection %s: %w", connectionRef, ErrNotFound))
	}

	// Ownership filter before any mutation.
	var owned []types.Connection
	for _, c := range conns {
		if c.Username == username {
			owned = append(owned, c)
		}
	}
	if len(owned) == 0 {
		return fail(fmt.Errorf("connection %s is not owned by %s: %w", connectionRef, username, ErrPermissionDenied))
	}

	// Destroy is best-effort: the container may already be gone, and a
	// dead backend must not leave the connection row stuck forever.
	if err := t.backend.DestroyPod(ctx, username); err != nil {
		t.log.Warn(username, "", "Container destroy failed during teardown", map[string]interface{}{
			"conn_ref": connectionRef,
			"error":    err.Error(),
		})
	}

	identity, err := t.identity.LookupIdentity(ctx, username)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fail(err)
	}

	deleted := 0
	for _, c := range owned {
		if identity != nil {
			if err := t.registry.RevokePermission(ctx, identity.EntityID, c.ConnectionID, types.PermissionRead); err != nil {
				return fail(err)
			}
		}
		if err := t.registry.DeleteConnection(ctx, c.ConnectionID); err != nil {
			if errors.Is(err, ErrNotFound) {
				// Lost a race with a concurrent teardown of the same
				// connection; the winner already decremented for it.
				continue
			}
			return fail(err)
		}
		deleted++
	}

	if err := t.users.DecrementActiveLabs(ctx, username, deleted); err != nil {
		return fail(err)
	}

	promTeardownsTotal.WithLabelValues("success").Inc()
	promActiveLabs.Sub(float64(deleted))
	t.log.InfoWithDuration(username, "", "Tore down lab", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"conn_ref":  connectionRef,
		"n_deleted": deleted,
	})

	return &types.TeardownResult{Deleted: deleted}, nil
}
