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
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"lawliet/platform/shared/types"
)

func newMockBridge(t *testing.T) (*IdentityBridge, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewIdentityBridge(db), mock
}

// TestHashCredential verifies the credential derivation is deterministic
// for a fixed salt and differs across salts
func TestHashCredential(t *testing.T) {
	salt1 := bytes.Repeat([]byte{0x01}, 32)
	salt2 := bytes.Repeat([]byte{0x02}, 32)

	h1 := hashCredential("hunter2", salt1)
	h2 := hashCredential("hunter2", salt1)
	h3 := hashCredential("hunter2", salt2)
	h4 := hashCredential("hunter3", salt1)

	if !bytes.Equal(h1, h2) {
		t.Error("Same password and salt should produce the same hash")
	}
	if bytes.Equal(h1, h3) {
		t.Error("Different salts should produce different hashes")
	}
	if bytes.Equal(h1, h4) {
		t.Error("Different passwords should produce different hashes")
	}
	if len(h1) != 32 {
		t.Errorf("Expected 32-byte sha256 digest, got %d bytes", len(h1))
	}
}

// TestCreateIdentity verifies entity and credential record commit together
func TestCreateIdentity(t *testing.T) {
	bridge, mock := newMockBridge(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO guacamole_entity").
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec("INSERT INTO guacamole_user").
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	identity, err := bridge.CreateIdentity(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatalf("CreateIdentity returned error: %v", err)
	}
	if identity.EntityID != 7 || identity.UserID != 3 || identity.Username != "alice" {
		t.Errorf("Unexpected identity: %+v", identity)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

// TestCreateIdentityTwice verifies the at-most-once contract: a second
// creation for the same username fails with ErrAlreadyExists
func TestCreateIdentityTwice(t *testing.T) {
	bridge, mock := newMockBridge(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO guacamole_entity").
		WithArgs("alice").
		WillReturnError(duplicateKeyErr())
	mock.ExpectRollback()

	_, err := bridge.CreateIdentity(context.Background(), "alice", "hunter2")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
}

// TestGrantBaselinePermissions verifies regular users get READ and UPDATE
// and nothing system-scoped
func TestGrantBaselinePermissions(t *testing.T) {
	bridge, mock := newMockBridge(t)
	identity := &types.Identity{EntityID: 7, UserID: 3, Username: "alice"}

	mock.ExpectExec("INSERT INTO guacamole_user_permission").
		WithArgs(int64(7), int64(3), "READ").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO guacamole_user_permission").
		WithArgs(int64(7), int64(3), "UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := bridge.GrantBaselinePermissions(context.Background(), identity, false); err != nil {
		t.Fatalf("GrantBaselinePermissions returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

// TestGrantBaselinePermissionsSuperuser verifies superusers additionally
// get ADMINISTER and the fixed system-scope capability set
func TestGrantBaselinePermissionsSuperuser(t *testing.T) {
	bridge, mock := newMockBridge(t)
	identity := &types.Identity{EntityID: 7, UserID: 3, Username: "root"}

	for _, perm := range []string{"READ", "UPDATE", "ADMINISTER"} {
		mock.ExpectExec("INSERT INTO guacamole_user_permission").
			WithArgs(int64(7), int64(3), perm).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	for _, perm := range types.SuperuserSystemPermissions {
		mock.ExpectExec("INSERT INTO guacamole_system_permission").
			WithArgs(int64(7), perm).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	if err := bridge.GrantBaselinePermissions(context.Background(), identity, true); err != nil {
		t.Fatalf("GrantBaselinePermissions returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

// TestLookupIdentity verifies resolution and the missing-identity gap
func TestLookupIdentity(t *testing.T) {
	bridge, mock := newMockBridge(t)

	mock.ExpectQuery("SELECT e.entity_id, u.user_id").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "user_id"}).AddRow(7, 3))

	identity, err := bridge.LookupIdentity(context.Background(), "alice")
	if err != nil {
		t.Fatalf("LookupIdentity returned error: %v", err)
	}
	if identity.EntityID != 7 || identity.UserID != 3 {
		t.Errorf("Unexpected identity: %+v", identity)
	}

	mock.ExpectQuery("SELECT e.entity_id, u.user_id").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "user_id"}))

	_, err = bridge.LookupIdentity(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for user without identity, got %v", err)
	}
}

// TestResyncCredential verifies a password change rewrites the gateway
// credential record
func TestResyncCredential(t *testing.T) {
	bridge, mock := newMockBridge(t)

	mock.ExpectQuery("SELECT e.entity_id, u.user_id").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "user_id"}).AddRow(7, 3))
	mock.ExpectExec("UPDATE guacamole_user SET password_hash").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := bridge.ResyncCredential(context.Background(), "alice", "newpassword"); err != nil {
		t.Fatalf("ResyncCredential returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
