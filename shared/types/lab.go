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

package types

import "time"

// Wire protocols supported by the remote-desktop gateway.
const (
	ProtocolSSH = "ssh"
	ProtocolVNC = "vnc"
	ProtocolRDP = "rdp"
)

// ValidProtocol reports whether p is a protocol the gateway can proxy.
func ValidProtocol(p string) bool {
	switch p {
	case ProtocolSSH, ProtocolVNC, ProtocolRDP:
		return true
	}
	return false
}

// Connection permissions understood by the gateway.
const (
	PermissionRead       = "READ"
	PermissionUpdate     = "UPDATE"
	PermissionAdminister = "ADMINISTER"
)

// SuperuserSystemPermissions is the fixed set of system-scope capabilities
// granted to superuser identities at creation time.
var SuperuserSystemPermissions = []string{
	"CREATE_CONNECTION",
	"CREATE_CONNECTION_GROUP",
	"CREATE_SHARING_PROFILE",
	"CREATE_USER",
	"CREATE_USER_GROUP",
	"ADMINISTER",
}

// LabEnvironment is one immutable row of the lab catalog.
type LabEnvironment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"` // container image reference
	Description string `json:"description,omitempty"`
	Protocol    string `json:"protocol"`
	Port        int    `json:"port"`
}

// User is the broker's read view of an application user. The identity
// subsystem owns the row; the broker only touches the active-lab counter.
type User struct {
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	NActiveLabs int    `json:"n_active_labs"`
	MaxLabs     int    `json:"max_labs"`
	IsSuperuser bool   `json:"is_superuser,omitempty"`
}

// Identity is a gateway-side principal, one-to-one with a User.
type Identity struct {
	EntityID int64  `json:"entity_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// Connection is one live remote-access session target registered with the
// gateway.
type Connection struct {
	ConnectionID int64     `json:"connection_id"`
	Name         string    `json:"connection_name"`
	Protocol     string    `json:"protocol"`
	LabID        string    `json:"lab_id"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConnectionParameter is one key/value pair attached to a Connection.
type ConnectionParameter struct {
	ConnectionID int64  `json:"connection_id"`
	Name         string `json:"parameter_name"`
	Value        string `json:"parameter_value"`
}

// ProvisionResult is returned to the caller after a successful lab
// provisioning run.
type ProvisionResult struct {
	ConnectionID   int64  `json:"conn_id"`
	ConnectionName string `json:"conn_name"`
	LabID          string `json:"id"`
	Protocol       string `json:"protocol"`
	Port           string `json:"port"`
}

// TeardownResult reports how many connections a teardown run removed.
type TeardownResult struct {
	Deleted int `json:"n_deleted"`
}

// ActiveLab is one entry of the caller's active-connection listing.
type ActiveLab struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Protocol string `json:"protocol"`
	ConnID   int64  `json:"conn_id"`
	ConnName string `json:"conn_name"`
}

// PodRequest is the JSON body of the container backend's provisioning call.
// Ports are serialized as strings, which is what the backend expects.
type PodRequest struct {
	Image string   `json:"image"`
	Ports []string `json:"ports"`
}
