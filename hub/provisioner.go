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
	"fmt"
	"strconv"
	"time"

	"lawliet/platform/shared/logger"
	"lawliet/platform/shared/types"
)

// ProvisionState names the stages of one provisioning run, for logging and
// failure reports.
type ProvisionState string

const (
	StateStart              ProvisionState = "START"
	StateLabResolved        ProvisionState = "LAB_RESOLVED"
	StateConnectionCreated  ProvisionState = "CONNECTION_CREATED"
	StateContainerRequested ProvisionState = "CONTAINER_REQUESTED"
	StateCounterUpdated     ProvisionState = "COUNTER_UPDATED"
)

// Provisioner drives one lab provisioning run across the three failure
// domains: the app store (quota/counter), the gateway store (connection
// bundle) and the container backend. The gateway writes are one local
// transaction; the backend call is compensated, not transacted.
type Provisioner struct {
	users    *UserStore
	catalog  *LabCatalog
	identity *IdentityBridge
	registry *ConnectionRegistry
	backend  *BackendClient

	// guacHostname is the gateway-side proxy host recorded as the new
	// connection's hostname parameter.
	guacHostname string

	log *logger.Logger
}

// NewProvisioner wires a provisioner over its collaborators.
func NewProvisioner(users *UserStore, catalog *LabCatalog, identity *IdentityBridge, registry *ConnectionRegistry, backend *BackendClient, guacHostname string) *Provisioner {
	return &Provisioner{
		users:        users,
		catalog:      catalog,
		identity:     identity,
		registry:     registry,
		backend:      backend,
		guacHostname: guacHostname,
		log:          logger.New("provisioner"),
	}
}

// Provision creates a lab environment for username from the catalog entry
// labID: a gateway connection with its parameters and READ grant, a backing
// container, and one reserved slot of the user's lab quota.
//
// Failure at any stage undoes everything already committed. In particular a
// backend failure deletes the connection bundle and reports the failure to
// the caller; the connection table never advertises a lab whose container
// was not requested successfully.
func (p *Provisioner) Provision(ctx context.Context, username, labID string) (*types.ProvisionResult, error) {
	state := StateStart
	start := time.Now()

	fail := func(err error) (*types.ProvisionResult, error) {
		promProvisionsTotal.WithLabelValues("failure").Inc()
		p.log.Error(username, "", "Provisioning failed", map[string]interface{}{
			"lab_id": labID,
			"state":  string(state),
			"error":  err.Error(),
		})
		return nil, err
	}

	// Quota fast-path: reject before creating anything. The authoritative
	// check is the conditional counter update below; this one exists so an
	// over-quota user fails with no side effects at all.
	user, err := p.users.GetUser(ctx, username)
	if err != nil {
		return fail(err)
	}
	if user.NActiveLabs >= user.MaxLabs {
		return fail(fmt.Errorf("user %s has %d active labs (limit %d): %w",
			username, user.NActiveLabs, user.MaxLabs, ErrQuotaExceeded))
	}

	// The counter lives in the app store but the connections live in the
	// gateway store. Reconcile against the gateway's own rows so a counter
	// that diverged (reset, manual edit) cannot over-provision.
	active, err := p.registry.CountConnectionsByUser(ctx, username)
	if err != nil {
		return fail(err)
	}
	if active >= user.MaxLabs {
		return fail(fmt.Errorf("user %s owns %d gateway connections (limit %d): %w",
			username, active, user.MaxLabs, ErrQuotaExceeded))
	}

	lab, err := p.catalog.GetLab(ctx, labID)
	if err != nil {
		return fail(err)
	}
	state = StateLabResolved
	port := strconv.Itoa(lab.Port)

	identity, err := p.identity.LookupIdentity(ctx, username)
	if err != nil {
		return fail(fmt.Errorf("no gateway identity for %s: %w", username, err))
	}

	// Connection + parameters + permission commit as one unit.
	conn, err := p.registry.CreateConnectionBundle(ctx, BundleSpec{
		Protocol: lab.Protocol,
		LabID:    lab.ID,
		Username: username,
		EntityID: identity.EntityID,
		Hostname: p.guacHostname,
		Port:     port,
	})
	if err != nil {
		return fail(err)
	}
	state = StateConnectionCreated

	p.log.Info(username, "", "Requesting lab container", map[string]interface{}{
		"lab_id":    labID,
		"image":     lab.URL,
		"port":      port,
		"conn_id":   conn.ConnectionID,
		"conn_name": conn.Name,
	})

	if err := p.backend.ProvisionPod(ctx, username, lab.URL, port); err != nil {
		p.compensateConnection(ctx, username, conn.ConnectionID)
		return fail(err)
	}
	state = StateContainerRequested

	// Conditional increment: a concurrent provision that won the race for
	// the last quota slot makes this fail, and everything rolls back.
	if err := p.users.IncrementActiveLabs(ctx, username, user.MaxLabs); err != nil {
		p.compensatePod(ctx, username)
		p.compensateConnection(ctx, username, conn.ConnectionID)
		return fail(err)
	}
	state = StateCounterUpdated

	promProvisionsTotal.WithLabelValues("success").Inc()
	promActiveLabs.Inc()
	p.log.InfoWithDuration(username, "", "Provisioned lab", float64(time.Since(start).Milliseconds()), map[string]interface{}{
		"state":     string(state),
		"lab_id":    labID,
		"conn_id":   conn.ConnectionID,
		"conn_name": conn.Name,
		"protocol":  lab.Protocol,
		"port":      port,
	})

	return &types.ProvisionResult{
		ConnectionID:   conn.ConnectionID,
		ConnectionName: conn.Name,
		LabID:          labID,
		Protocol:       lab.Protocol,
		Port:           port,
	}, nil
}

// compensateConnection deletes a connection bundle committed earlier in a
// run that has since failed. A compensation failure leaves an orphaned
// connection; that is logged loudly and left for teardown, which is safe to
// run against it.
func (p *Provisioner) compensateConnection(ctx context.Context, username string, connectionID int64) {
	if err := p.registry.DeleteConnection(ctx, connectionID); err != nil {
		p.log.Error(username, "", "Failed to roll back connection after provisioning failure", map[string]interface{}{
			"conn_id": connectionID,
			"error":   err.Error(),
		})
	}
}

// compensatePod destroys a container requested earlier in a run that has
// since failed. Destroy is idempotent backend-side, so racing an
// already-gone pod is harmless.
func (p *Provisioner) compensatePod(ctx context.Context, username string) {
	if err := p.backend.DestroyPod(ctx, username); err != nil {
		p.log.Error(username, "", "Failed to roll back container after provisioning failure", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
