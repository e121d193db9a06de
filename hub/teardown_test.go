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
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func (f *provisionerFixture) expectConnectionByName(connID int64, name, owner string) {
	f.gwMock.ExpectQuery("SELECT connection_id, connection_name, protocol, lab_id, username, created_at FROM guacamole_connection WHERE connection_name").
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows([]string{"connection_id", "connection_name", "protocol", "lab_id", "username", "created_at"}).
			AddRow(connID, name, "ssh", "lab-1", owner, time.Now()))
}

func (f *provisionerFixture) expectRevokeAndDelete(connID int64) {
	f.gwMock.ExpectExec("DELETE FROM guacamole_connection_permission WHERE entity_id").
		WithArgs(7, connID, "READ").
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.expectBundleDelete(connID)
}

// TestTeardown covers the full teardown path: container destroyed, grant
// revoked, connection deleted, quota slot released
func TestTeardown(t *testing.T) {
	f := newProvisionerFixture(t)

	f.expectConnectionByName(42, "lawliet-env-abc", "alice")
	f.expectIdentity()
	f.expectRevokeAndDelete(42)
	f.appMock.ExpectExec("UPDATE users SET n_active_labs = GREATEST").
		WithArgs("alice", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := f.teardown.Teardown(context.Background(), "alice", "lawliet-env-abc")
	if err != nil {
		t.Fatalf("Teardown returned error: %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("Expected 1 deleted connection, got %d", result.Deleted)
	}

	calls := f.backend.recorded()
	if len(calls) != 1 || calls[0] != "DELETE /pods/alice" {
		t.Errorf("Expected exactly one DELETE /pods/alice, got %v", calls)
	}

	f.verify(t)
}

// TestTeardownMissingRef verifies an empty connection reference is rejected
// without touching anything
func TestTeardownMissingRef(t *testing.T) {
	f := newProvisionerFixture(t)

	_, err := f.teardown.Teardown(context.Background(), "alice", "")
	if !errors.Is(err, ErrMissingParameter) {
		t.Fatalf("Expected ErrMissingParameter, got %v", err)
	}
	if calls := f.backend.recorded(); len(calls) != 0 {
		t.Errorf("Expected no backend calls, got %v", calls)
	}
	f.verify(t)
}

// TestTeardownUnknownConnection verifies tearing down a connection that no
// longer exists fails with ErrNotFound and never reaches the counter, so a
// repeated teardown cannot double-decrement
func TestTeardownUnknownConnection(t *testing.T) {
	f := newProvisionerFixture(t)

	f.gwMock.ExpectQuery("SELECT connection_id, connection_name, protocol, lab_id, username, created_at FROM guacamole_connection WHERE connection_name").
		WillReturnRows(sqlmock.NewRows([]string{"connection_id", "connection_name", "protocol", "lab_id", "username", "created_at"}))

	_, err := f.teardown.Teardown(context.Background(), "alice", "lawliet-env-gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	if calls := f.backend.recorded(); len(calls) != 0 {
		t.Errorf("Expected no backend calls, got %v", calls)
	}
	f.verify(t)
}

// TestTeardownNotOwner verifies one user cannot tear down another user's
// connection
func TestTeardownNotOwner(t *testing.T) {
	f := newProvisionerFixture(t)

	f.expectConnectionByName(42, "lawliet-env-abc", "bob")

	_, err := f.teardown.Teardown(context.Background(), "alice", "lawliet-env-abc")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
	if calls := f.backend.recorded(); len(calls) != 0 {
		t.Errorf("Expected no backend calls before ownership check, got %v", calls)
	}
	f.verify(t)
}

// TestTeardownBackendDown verifies a dead container backend does not block
// the registry cleanup or the counter release
func TestTeardownBackendDown(t *testing.T) {
	f := newProvisionerFixture(t)
	f.backend.status = http.StatusBadGateway

	f.expectConnectionByName(42, "lawliet-env-abc", "alice")
	f.expectIdentity()
	f.expectRevokeAndDelete(42)
	f.appMock.ExpectExec("UPDATE users SET n_active_labs = GREATEST").
		WithArgs("alice", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := f.teardown.Teardown(context.Background(), "alice", "lawliet-env-abc")
	if err != nil {
		t.Fatalf("Teardown returned error: %v", err)
	}
	if result.Deleted != 1 {
		t.Errorf("Expected 1 deleted connection, got %d", result.Deleted)
	}
	f.verify(t)
}

// TestTeardownDeleteRace verifies a connection deleted by a concurrent
// teardown between lookup and delete is skipped: the winner already
// released the quota slot for it
func TestTeardownDeleteRace(t *testing.T) {
	f := newProvisionerFixture(t)

	f.expectConnectionByName(42, "lawliet-env-abc", "alice")
	f.expectIdentity()
	f.gwMock.ExpectExec("DELETE FROM guacamole_connection_permission WHERE entity_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.gwMock.ExpectBegin()
	f.gwMock.ExpectExec("DELETE FROM guacamole_connection_permission WHERE connection_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.gwMock.ExpectExec("DELETE FROM guacamole_connection_parameter WHERE connection_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.gwMock.ExpectExec("DELETE FROM guacamole_connection WHERE connection_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	f.gwMock.ExpectRollback()

	result, err := f.teardown.Teardown(context.Background(), "alice", "lawliet-env-abc")
	if err != nil {
		t.Fatalf("Teardown returned error: %v", err)
	}
	if result.Deleted != 0 {
		t.Errorf("Expected 0 deleted connections after losing the race, got %d", result.Deleted)
	}
	f.verify(t)
}
