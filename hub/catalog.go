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
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"lawliet/platform/shared/logger"
	"lawliet/platform/shared/types"
)

// catalogCacheTTL bounds staleness of cached catalog rows. Catalog rows are
// immutable once published, so the TTL only matters for deletions.
const catalogCacheTTL = 5 * time.Minute

// LabCatalog is the broker's read-only view of the lab environment catalog,
// fronted by an optional redis read-through cache. Catalog management
// happens elsewhere; the broker never writes these rows.
type LabCatalog struct {
	db    *sql.DB
	cache *redis.Client
	log   *logger.Logger
}

// NewLabCatalog creates a catalog reader. cache may be nil; every read then
// goes straight to the database.
func NewLabCatalog(db *sql.DB, cache *redis.Client) *LabCatalog {
	return &LabCatalog{db: db, cache: cache, log: logger.New("lab-catalog")}
}

// InitSchema creates the catalog table if absent. Shared deployments have
// it already; the statement is a no-op there.
func (c *LabCatalog) InitSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS lab_environments (
			id UUID PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			url VARCHAR(512) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			protocol VARCHAR(8) NOT NULL,
			port INTEGER NOT NULL CHECK (port > 0)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize catalog schema: %w", err)
	}
	return nil
}

func catalogCacheKey(labID string) string {
	return "labenv:" + labID
}

// GetLab resolves a lab id to its catalog row. Cache misses and cache
// errors both fall through to the database; redis being down never fails a
// provisioning request.
func (c *LabCatalog) GetLab(ctx context.Context, labID string) (*types.LabEnvironment, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, catalogCacheKey(labID)).Result()
		if err == nil {
			var lab types.LabEnvironment
			if jsonErr := json.Unmarshal([]byte(cached), &lab); jsonErr == nil {
				c.log.Debug("", "", "Catalog cache hit", map[string]interface{}{"lab_id": labID})
				return &lab, nil
			}
			// Corrupt cache entry, fall through to the database
		} else if err != redis.Nil {
			c.log.Warn("", "", "Catalog cache read failed", map[string]interface{}{
				"lab_id": labID,
				"error":  err.Error(),
			})
		}
	}

	lab := &types.LabEnvironment{}
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, url, description, protocol, port FROM lab_environments WHERE id = $1`,
		labID).Scan(&lab.ID, &lab.Name, &lab.URL, &lab.Description, &lab.Protocol, &lab.Port)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("lab %s: %w", labID, ErrLabNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lab %s: %w", labID, err)
	}

	if !types.ValidProtocol(lab.Protocol) {
		return nil, fmt.Errorf("lab %s has unsupported protocol %q: %w", labID, lab.Protocol, ErrLabNotFound)
	}

	if c.cache != nil {
		if data, err := json.Marshal(lab); err == nil {
			if err := c.cache.Set(ctx, catalogCacheKey(labID), data, catalogCacheTTL).Err(); err != nil {
				c.log.Warn("", "", "Catalog cache write failed", map[string]interface{}{
					"lab_id": labID,
					"error":  err.Error(),
				})
			}
		}
	}

	return lab, nil
}

// ListLabs returns the full catalog, for the dashboard's lab listing.
func (c *LabCatalog) ListLabs(ctx context.Context) ([]types.LabEnvironment, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, url, description, protocol, port FROM lab_environments ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list labs: %w", err)
	}
	defer rows.Close()

	var labs []types.LabEnvironment
	for rows.Next() {
		var lab types.LabEnvironment
		if err := rows.Scan(&lab.ID, &lab.Name, &lab.URL, &lab.Description, &lab.Protocol, &lab.Port); err != nil {
			return nil, fmt.Errorf("failed to scan lab row: %w", err)
		}
		labs = append(labs, lab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lab rows: %w", err)
	}
	return labs, nil
}
