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
	"database/sql"
	"fmt"

	"lawliet/platform/shared/types"
)

// UserStore is the broker's view of the application user table. The
// identity subsystem owns user rows; the broker reads them and maintains
// the active-lab counter.
type UserStore struct {
	db             *sql.DB
	defaultMaxLabs int
}

// NewUserStore creates a store over the application database handle.
func NewUserStore(db *sql.DB, defaultMaxLabs int) *UserStore {
	return &UserStore{db: db, defaultMaxLabs: defaultMaxLabs}
}

// InitSchema creates the broker-owned columns' home table if absent. In a
// shared deployment the identity subsystem has already migrated this table;
// the statement is a no-op there.
func (s *UserStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			username VARCHAR(150) PRIMARY KEY,
			email VARCHAR(254) NOT NULL DEFAULT '',
			is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
			n_active_labs INTEGER NOT NULL DEFAULT 0 CHECK (n_active_labs >= 0),
			max_labs INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize users schema: %w", err)
	}
	return nil
}

// GetUser loads a user row. A max_labs of zero means "use the deployment
// default".
func (s *UserStore) GetUser(ctx context.Context, username string) (*types.User, error) {
	u := &types.User{Username: username}
	err := s.db.QueryRowContext(ctx,
		`SELECT email, is_superuser, n_active_labs, max_labs FROM users WHERE username = $1`,
		username).Scan(&u.Email, &u.IsSuperuser, &u.NActiveLabs, &u.MaxLabs)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", username, err)
	}
	if u.MaxLabs == 0 {
		u.MaxLabs = s.defaultMaxLabs
	}
	return u, nil
}

// IncrementActiveLabs reserves one lab slot for username. The update is a
// single conditional statement so concurrent provisions cannot push the
// counter past the quota through lost updates.
func (s *UserStore) IncrementActiveLabs(ctx context.Context, username string, maxLabs int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET n_active_labs = n_active_labs + 1 WHERE username = $1 AND n_active_labs < $2`,
		username, maxLabs)
	if err != nil {
		return fmt.Errorf("failed to increment active labs for %s: %w", username, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read increment result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %s: %w", username, ErrQuotaExceeded)
	}
	return nil
}

// DecrementActiveLabs releases n lab slots, flooring at zero.
func (s *UserStore) DecrementActiveLabs(ctx context.Context, username string, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET n_active_labs = GREATEST(n_active_labs - $2, 0) WHERE username = $1`,
		username, n)
	if err != nil {
		return fmt.Errorf("failed to decrement active labs for %s: %w", username, err)
	}
	return nil
}
