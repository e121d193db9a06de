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
	"errors"
	"fmt"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"lawliet/platform/shared/types"
)

// mysqlDuplicateEntry is the MySQL error number for a unique-key violation.
const mysqlDuplicateEntry = 1062

// isDuplicateKey reports whether err is a unique-constraint violation from
// the gateway store.
func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

// genConnectionName returns a connection name that is unique per creation.
// A fresh UUID keeps concurrent provisions for the same user from ever
// colliding on the gateway's name constraint.
func genConnectionName() string {
	return fmt.Sprintf("lawliet-env-%s", uuid.New())
}

// ConnectionRegistry is the typed access layer over the gateway store's
// connection, parameter and permission tables. Uniqueness is enforced by
// the store itself; the registry only maps constraint violations onto the
// broker's error taxonomy.
type ConnectionRegistry struct {
	db *sql.DB
}

// NewConnectionRegistry creates a registry over the gateway database handle.
func NewConnectionRegistry(db *sql.DB) *ConnectionRegistry {
	return &ConnectionRegistry{db: db}
}

// InitSchema creates the gateway tables if they do not exist. The unique
// keys here are load-bearing: they are the concurrency control for
// conflicting creates.
func (r *ConnectionRegistry) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS guacamole_entity (
			entity_id INT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			type VARCHAR(10) NOT NULL,
			UNIQUE KEY guacamole_entity_name_scope (type, name)
		)`,
		`CREATE TABLE IF NOT EXISTS guacamole_user (
			user_id INT AUTO_INCREMENT PRIMARY KEY,
			entity_id INT NOT NULL,
			password_hash VARBINARY(32) NOT NULL,
			password_salt VARBINARY(32),
			password_date TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY guacamole_user_single_entity (entity_id),
			FOREIGN KEY (entity_id) REFERENCES guacamole_entity (entity_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS guacamole_connection (
			connection_id INT AUTO_INCREMENT PRIMARY KEY,
			connection_name VARCHAR(128) NOT NULL,
			protocol VARCHAR(32) NOT NULL,
			lab_id VARCHAR(64) NOT NULL,
			username VARCHAR(128) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY guacamole_connection_name (connection_name)
		)`,
		`CREATE TABLE IF NOT EXISTS guacamole_connection_parameter (
			connection_id INT NOT NULL,
			parameter_name VARCHAR(128) NOT NULL,
			parameter_value VARCHAR(4096) NOT NULL,
			PRIMARY KEY (connection_id, parameter_name),
			FOREIGN KEY (connection_id) REFERENCES guacamole_connection (connection_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS guacamole_connection_permission (
			entity_id INT NOT NULL,
			connection_id INT NOT NULL,
			permission VARCHAR(10) NOT NULL,
			PRIMARY KEY (entity_id, connection_id, permission),
			FOREIGN KEY (entity_id) REFERENCES guacamole_entity (entity_id) ON DELETE CASCADE,
			FOREIGN KEY (connection_id) REFERENCES guacamole_connection (connection_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS guacamole_system_permission (
			entity_id INT NOT NULL,
			permission VARCHAR(32) NOT NULL,
			PRIMARY KEY (entity_id, permission),
			FOREIGN KEY (entity_id) REFERENCES guacamole_entity (entity_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS guacamole_user_permission (
			entity_id INT NOT NULL,
			affected_user_id INT NOT NULL,
			permission VARCHAR(10) NOT NULL,
			PRIMARY KEY (entity_id, affected_user_id, permission),
			FOREIGN KEY (entity_id) REFERENCES guacamole_entity (entity_id) ON DELETE CASCADE,
			FOREIGN KEY (affected_user_id) REFERENCES guacamole_user (user_id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize gateway schema: %w", err)
		}
	}
	return nil
}

// execer covers both *sql.DB and *sql.Tx so registry writes can run inside
// or outside an enclosing transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreateConnection inserts a connection row with a freshly generated name.
func (r *ConnectionRegistry) CreateConnection(ctx context.Context, protocol, labID, username string) (*types.Connection, error) {
	return createConnection(ctx, r.db, protocol, labID, username)
}

func createConnection(ctx context.Context, q execer, protocol, labID, username string) (*types.Connection, error) {
	conn := &types.Connection{
		Name:     genConnectionName(),
		Protocol: protocol,
		LabID:    labID,
		Username: username,
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO guacamole_connection (connection_name, protocol, lab_id, username) VALUES (?, ?, ?, ?)`,
		conn.Name, conn.Protocol, conn.LabID, conn.Username,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("connection %s: %w", conn.Name, ErrDuplicateName)
		}
		return nil, fmt.Errorf("failed to insert connection: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read connection id: %w", err)
	}
	conn.ConnectionID = id
	return conn, nil
}

// AddParameters bulk-inserts key/value parameters for a connection.
func (r *ConnectionRegistry) AddParameters(ctx context.Context, connectionID int64, params []types.ConnectionParameter) error {
	return addParameters(ctx, r.db, connectionID, params)
}

func addParameters(ctx context.Context, q execer, connectionID int64, params []types.ConnectionParameter) error {
	for _, p := range params {
		_, err := q.ExecContext(ctx,
			`INSERT INTO guacamole_connection_parameter (connection_id, parameter_name, parameter_value) VALUES (?, ?, ?)`,
			connectionID, p.Name, p.Value,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("parameter %s on connection %d: %w", p.Name, connectionID, ErrDuplicateParameter)
			}
			return fmt.Errorf("failed to insert parameter %s: %w", p.Name, err)
		}
	}
	return nil
}

// GrantPermission grants a capability on a connection to an entity. The
// grant is idempotent: a pre-existing identical grant is not an error,
// since provisioning retries are expected.
func (r *ConnectionRegistry) GrantPermission(ctx context.Context, entityID, connectionID int64, permission string) error {
	return grantPermission(ctx, r.db, entityID, connectionID, permission)
}

func grantPermission(ctx context.Context, q execer, entityID, connectionID int64, permission string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO guacamole_connection_permission (entity_id, connection_id, permission) VALUES (?, ?, ?)`,
		entityID, connectionID, permission,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("failed to grant %s on connection %d: %w", permission, connectionID, err)
	}
	return nil
}

// RevokePermission removes a grant. Revoking an absent grant is a no-op.
func (r *ConnectionRegistry) RevokePermission(ctx context.Context, entityID, connectionID int64, permission string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM guacamole_connection_permission WHERE entity_id = ? AND connection_id = ? AND permission = ?`,
		entityID, connectionID, permission,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke %s on connection %d: %w", permission, connectionID, err)
	}
	return nil
}

// DeleteConnection removes a connection together with its parameters and
// any remaining permission grants, in one transaction.
func (r *ConnectionRegistry) DeleteConnection(ctx context.Context, connectionID int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM guacamole_connection_permission WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("failed to delete permissions for connection %d: %w", connectionID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM guacamole_connection_parameter WHERE connection_id = ?`, connectionID); err != nil {
		return fmt.Errorf("failed to delete parameters for connection %d: %w", connectionID, err)
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM guacamole_connection WHERE connection_id = ?`, connectionID)
	if err != nil {
		return fmt.Errorf("failed to delete connection %d: %w", connectionID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("connection %d: %w", connectionID, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

const connectionColumns = `connection_id, connection_name, protocol, lab_id, username, created_at`

func scanConnections(rows *sql.Rows) ([]types.Connection, error) {
	defer rows.Close()

	var conns []types.Connection
	for rows.Next() {
		var c types.Connection
		if err := rows.Scan(&c.ConnectionID, &c.Name, &c.Protocol, &c.LabID, &c.Username, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection row: %w", err)
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connection rows: %w", err)
	}
	return conns, nil
}

// FindConnectionsByUser returns every connection owned by username.
func (r *ConnectionRegistry) FindConnectionsByUser(ctx context.Context, username string) ([]types.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM guacamole_connection WHERE username = ?`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections for %s: %w", username, err)
	}
	return scanConnections(rows)
}

// FindConnectionsByRef resolves a connection reference as supplied by the
// web layer: a numeric connection id or a connection name.
func (r *ConnectionRegistry) FindConnectionsByRef(ctx context.Context, ref string) ([]types.Connection, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+connectionColumns+` FROM guacamole_connection WHERE connection_id = ?`, id)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+connectionColumns+` FROM guacamole_connection WHERE connection_name = ?`, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query connection %s: %w", ref, err)
	}
	return scanConnections(rows)
}

// CountConnectionsByUser returns the number of connections username owns.
func (r *ConnectionRegistry) CountConnectionsByUser(ctx context.Context, username string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM guacamole_connection WHERE username = ?`, username).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count connections for %s: %w", username, err)
	}
	return n, nil
}

// BundleSpec describes the connection-with-parameters-and-permission unit
// the provisioner commits atomically.
type BundleSpec struct {
	Protocol string
	LabID    string
	Username string
	EntityID int64
	Hostname string
	Port     string
}

// CreateConnectionBundle creates a connection, its hostname/port parameters
// and the owner's READ grant in a single local transaction. Either the
// whole bundle commits or none of it does; a committed connection is never
// missing its parameters or permission.
func (r *ConnectionRegistry) CreateConnectionBundle(ctx context.Context, spec BundleSpec) (*types.Connection, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin bundle transaction: %w", err)
	}
	defer tx.Rollback()

	conn, err := createConnection(ctx, tx, spec.Protocol, spec.LabID, spec.Username)
	if err != nil {
		return nil, err
	}

	params := []types.ConnectionParameter{
		{ConnectionID: conn.ConnectionID, Name: "hostname", Value: spec.Hostname},
		{ConnectionID: conn.ConnectionID, Name: "port", Value: spec.Port},
	}
	if err := addParameters(ctx, tx, conn.ConnectionID, params); err != nil {
		return nil, err
	}

	if err := grantPermission(ctx, tx, spec.EntityID, conn.ConnectionID, types.PermissionRead); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit connection bundle: %w", err)
	}
	return conn, nil
}
