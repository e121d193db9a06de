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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockUserStore(t *testing.T) (*UserStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUserStore(db, 3), mock
}

var userColumns = []string{"email", "is_superuser", "n_active_labs", "max_labs"}

// TestGetUser verifies user loading and the default quota fallback
func TestGetUser(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectQuery("SELECT email, is_superuser, n_active_labs, max_labs FROM users").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("alice@example.com", false, 1, 0))

	user, err := store.GetUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if user.NActiveLabs != 1 {
		t.Errorf("Expected 1 active lab, got %d", user.NActiveLabs)
	}
	if user.MaxLabs != 3 {
		t.Errorf("Expected default quota 3, got %d", user.MaxLabs)
	}

	mock.ExpectQuery("SELECT email, is_superuser, n_active_labs, max_labs FROM users").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(userColumns))

	if _, err := store.GetUser(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

// TestIncrementActiveLabs verifies the conditional increment reserves a
// slot only below the quota
func TestIncrementActiveLabs(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectExec("UPDATE users SET n_active_labs").
		WithArgs("alice", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.IncrementActiveLabs(context.Background(), "alice", 3); err != nil {
		t.Fatalf("IncrementActiveLabs returned error: %v", err)
	}

	// At quota: the conditional update matches no row
	mock.ExpectExec("UPDATE users SET n_active_labs").
		WithArgs("alice", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.IncrementActiveLabs(context.Background(), "alice", 3)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Expected ErrQuotaExceeded, got %v", err)
	}
}

// TestDecrementActiveLabs verifies the floored decrement and the zero-count
// no-op
func TestDecrementActiveLabs(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectExec("UPDATE users SET n_active_labs").
		WithArgs("alice", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.DecrementActiveLabs(context.Background(), "alice", 2); err != nil {
		t.Fatalf("DecrementActiveLabs returned error: %v", err)
	}

	// Zero deletions issue no SQL at all
	if err := store.DecrementActiveLabs(context.Background(), "alice", 0); err != nil {
		t.Fatalf("DecrementActiveLabs(0) returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
