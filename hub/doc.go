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

/*
Package hub implements the lab-connection broker behind the Lawliet
dashboard.

On a user's request the broker provisions a backing container for a chosen
lab image, registers a remote-access connection (protocol, host, port) in
the remote-desktop gateway's control database, grants the requesting user
exactly the permission needed to reach that connection, and later reverses
all of it on teardown while keeping the user's active-lab counter
consistent.

The broker spans three failure domains:

  - the application store (PostgreSQL): user rows with the active-lab
    counter and quota, and the read-only lab catalog
  - the gateway store (MySQL, the Guacamole control schema): connections,
    connection parameters, permission grants and identities
  - the container backend (HTTP): the pod API that actually runs lab images

Writes to the gateway store commit as single local transactions. The
backend call cannot join those transactions, so provisioning compensates:
a failed container request deletes the already-committed connection bundle
and the operation reports failure. Teardown is idempotent and safe to run
against containers that no longer exist.

Concurrent requests for the same user are serialized by the stores, not by
the broker: connection names, parameter keys and permission tuples carry
unique constraints, and the active-lab counter moves only through atomic
conditional updates.
*/
package hub
