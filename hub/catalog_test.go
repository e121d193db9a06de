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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var labColumns = []string{"id", "name", "url", "description", "protocol", "port"}

func newMockCatalog(t *testing.T, withCache bool) (*LabCatalog, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var cache *redis.Client
	var mr *miniredis.Miniredis
	if withCache {
		mr = miniredis.RunT(t)
		cache = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	}
	return NewLabCatalog(db, cache), mock, mr
}

// TestGetLab verifies the database path and protocol validation
func TestGetLab(t *testing.T) {
	catalog, mock, _ := newMockCatalog(t, false)

	mock.ExpectQuery("SELECT id, name, url, description, protocol, port FROM lab_environments").
		WithArgs("lab-1").
		WillReturnRows(sqlmock.NewRows(labColumns).
			AddRow("lab-1", "Intro to SSH", "lawliet/ssh-lab:latest", "", "ssh", 22))

	lab, err := catalog.GetLab(context.Background(), "lab-1")
	require.NoError(t, err)
	assert.Equal(t, "Intro to SSH", lab.Name)
	assert.Equal(t, "lawliet/ssh-lab:latest", lab.URL)
	assert.Equal(t, "ssh", lab.Protocol)
	assert.Equal(t, 22, lab.Port)
}

// TestGetLabNotFound verifies the missing-lab error
func TestGetLabNotFound(t *testing.T) {
	catalog, mock, _ := newMockCatalog(t, false)

	mock.ExpectQuery("SELECT id, name, url, description, protocol, port FROM lab_environments").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(labColumns))

	_, err := catalog.GetLab(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrLabNotFound)
}

// TestGetLabBadProtocol verifies rows with protocols the gateway cannot
// proxy are rejected
func TestGetLabBadProtocol(t *testing.T) {
	catalog, mock, _ := newMockCatalog(t, false)

	mock.ExpectQuery("SELECT id, name, url, description, protocol, port FROM lab_environments").
		WithArgs("lab-bad").
		WillReturnRows(sqlmock.NewRows(labColumns).
			AddRow("lab-bad", "Bad", "img", "", "telnet", 23))

	_, err := catalog.GetLab(context.Background(), "lab-bad")
	assert.ErrorIs(t, err, ErrLabNotFound)
}

// TestGetLabCached verifies the read-through cache: the second read is
// served from redis without touching the database
func TestGetLabCached(t *testing.T) {
	catalog, mock, mr := newMockCatalog(t, true)

	// Exactly one database round trip expected
	mock.ExpectQuery("SELECT id, name, url, description, protocol, port FROM lab_environments").
		WithArgs("lab-1").
		WillReturnRows(sqlmock.NewRows(labColumns).
			AddRow("lab-1", "Intro to SSH", "lawliet/ssh-lab:latest", "", "ssh", 22))

	lab, err := catalog.GetLab(context.Background(), "lab-1")
	require.NoError(t, err)

	require.True(t, mr.Exists("labenv:lab-1"), "catalog row should be cached after first read")

	cached, err := catalog.GetLab(context.Background(), "lab-1")
	require.NoError(t, err)
	assert.Equal(t, lab, cached)

	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestGetLabCacheDown verifies a dead cache falls through to the database
func TestGetLabCacheDown(t *testing.T) {
	catalog, mock, mr := newMockCatalog(t, true)
	mr.Close()

	mock.ExpectQuery("SELECT id, name, url, description, protocol, port FROM lab_environments").
		WithArgs("lab-1").
		WillReturnRows(sqlmock.NewRows(labColumns).
			AddRow("lab-1", "Intro to SSH", "lawliet/ssh-lab:latest", "", "ssh", 22))

	lab, err := catalog.GetLab(context.Background(), "lab-1")
	require.NoError(t, err)
	assert.Equal(t, "ssh", lab.Protocol)
}

// TestListLabs verifies the catalog listing
func TestListLabs(t *testing.T) {
	catalog, mock, _ := newMockCatalog(t, false)

	mock.ExpectQuery("SELECT id, name, url, description, protocol, port FROM lab_environments").
		WillReturnRows(sqlmock.NewRows(labColumns).
			AddRow("lab-1", "Intro to SSH", "img-a", "", "ssh", 22).
			AddRow("lab-2", "Desktop Forensics", "img-b", "", "rdp", 3389))

	labs, err := catalog.ListLabs(context.Background())
	require.NoError(t, err)
	require.Len(t, labs, 2)
	assert.Equal(t, "Desktop Forensics", labs[1].Name)
}
