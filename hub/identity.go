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
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"lawliet/platform/shared/logger"
	"lawliet/platform/shared/types"
)

// IdentityBridge maps application users onto gateway-side principals: one
// guacamole_entity plus one guacamole_user credential record per username,
// created exactly once at account-creation time.
type IdentityBridge struct {
	db  *sql.DB
	log *logger.Logger
}

// NewIdentityBridge creates a bridge over the gateway database handle.
func NewIdentityBridge(db *sql.DB) *IdentityBridge {
	return &IdentityBridge{db: db, log: logger.New("identity-bridge")}
}

// hashCredential derives the gateway credential hash the way the gateway
// expects it: sha256 over the password bytes followed by the upper-case hex
// encoding of the salt.
func hashCredential(password string, salt []byte) []byte {
	h := sha256.New()
	h.Write([]byte(password))
	h.Write([]byte(strings.ToUpper(hex.EncodeToString(salt))))
	return h.Sum(nil)
}

// newSalt returns 32 bytes of fresh randomness for a credential record.
func newSalt() ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate credential salt: %w", err)
	}
	return salt, nil
}

// CreateIdentity creates the gateway entity and credential record for a
// username. The caller must guarantee at-most-once invocation per username;
// a second call fails with ErrAlreadyExists.
func (b *IdentityBridge) CreateIdentity(ctx context.Context, username, password string) (*types.Identity, error) {
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	hash := hashCredential(password, salt)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin identity transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO guacamole_entity (name, type) VALUES (?, 'USER')`, username)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("identity for %s: %w", username, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert entity for %s: %w", username, err)
	}
	entityID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read entity id: %w", err)
	}

	result, err = tx.ExecContext(ctx,
		`INSERT INTO guacamole_user (entity_id, password_hash, password_salt, password_date) VALUES (?, ?, ?, ?)`,
		entityID, hash, salt, time.Now().UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("credential record for %s: %w", username, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to insert credential record for %s: %w", username, err)
	}
	userID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway user id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit identity for %s: %w", username, err)
	}

	b.log.Info(username, "", "Created gateway identity", map[string]interface{}{
		"entity_id": entityID,
	})

	return &types.Identity{EntityID: entityID, UserID: userID, Username: username}, nil
}

// GrantBaselinePermissions grants the identity READ and UPDATE on itself,
// plus ADMINISTER and the fixed system-scope capability set for superusers.
func (b *IdentityBridge) GrantBaselinePermissions(ctx context.Context, identity *types.Identity, isSuperuser bool) error {
	userPerms := []string{types.PermissionRead, types.PermissionUpdate}
	var systemPerms []string
	if isSuperuser {
		b.log.Warn(identity.Username, "", "Granting superuser gateway permissions", nil)
		userPerms = append(userPerms, types.PermissionAdminister)
		systemPerms = types.SuperuserSystemPermissions
	}

	for _, perm := range userPerms {
		_, err := b.db.ExecContext(ctx,
			`INSERT INTO guacamole_user_permission (entity_id, affected_user_id, permission) VALUES (?, ?, ?)`,
			identity.EntityID, identity.UserID, perm)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("user permission %s for %s: %w", perm, identity.Username, ErrDuplicatePermission)
			}
			return fmt.Errorf("failed to grant user permission %s for %s: %w", perm, identity.Username, err)
		}
	}

	for _, perm := range systemPerms {
		_, err := b.db.ExecContext(ctx,
			`INSERT INTO guacamole_system_permission (entity_id, permission) VALUES (?, ?)`,
			identity.EntityID, perm)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("system permission %s for %s: %w", perm, identity.Username, ErrDuplicatePermission)
			}
			return fmt.Errorf("failed to grant system permission %s for %s: %w", perm, identity.Username, err)
		}
	}

	return nil
}

// LookupIdentity resolves a username to its gateway identity. Users created
// before the bridge existed have no identity; those lookups fail with
// ErrNotFound rather than creating one on the fly.
func (b *IdentityBridge) LookupIdentity(ctx context.Context, username string) (*types.Identity, error) {
	identity := &types.Identity{Username: username}
	err := b.db.QueryRowContext(ctx,
		`SELECT e.entity_id, u.user_id
		 FROM guacamole_entity e
		 JOIN guacamole_user u ON u.entity_id = e.entity_id
		 WHERE e.name = ? AND e.type = 'USER'`,
		username).Scan(&identity.EntityID, &identity.UserID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("identity for %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity for %s: %w", username, err)
	}
	return identity, nil
}

// ResyncCredential re-derives the gateway credential record from the
// primary password so a password change cannot leave the two credential
// stores diverged.
func (b *IdentityBridge) ResyncCredential(ctx context.Context, username, password string) error {
	identity, err := b.LookupIdentity(ctx, username)
	if err != nil {
		return err
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}
	hash := hashCredential(password, salt)

	_, err = b.db.ExecContext(ctx,
		`UPDATE guacamole_user SET password_hash = ?, password_salt = ?, password_date = ? WHERE user_id = ?`,
		hash, salt, time.Now().UTC(), identity.UserID)
	if err != nil {
		return fmt.Errorf("failed to resync credential for %s: %w", username, err)
	}

	b.log.Info(username, "", "Resynced gateway credential", nil)
	return nil
}
