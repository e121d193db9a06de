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

import "errors"

// Broker error taxonomy. Callers match with errors.Is; the HTTP layer maps
// each sentinel to a status code and a machine-readable kind string.
var (
	// ErrLabNotFound: the requested lab id is not in the catalog.
	ErrLabNotFound = errors.New("lab environment does not exist")

	// ErrMissingParameter: a required request parameter was not supplied.
	ErrMissingParameter = errors.New("required parameter not provided")

	// ErrNotFound: the referenced connection (or identity) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied: the connection exists but belongs to another user.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrDuplicateName: connection name collision at the gateway store.
	ErrDuplicateName = errors.New("duplicate connection name")

	// ErrDuplicateParameter: (connection, parameter_name) collision.
	ErrDuplicateParameter = errors.New("duplicate connection parameter")

	// ErrDuplicatePermission: (entity, connection, permission) collision.
	ErrDuplicatePermission = errors.New("duplicate permission grant")

	// ErrAlreadyExists: a gateway identity already exists for the username.
	ErrAlreadyExists = errors.New("identity already exists")

	// ErrBackendUnavailable: the container backend call failed or timed out.
	ErrBackendUnavailable = errors.New("container backend unavailable")

	// ErrQuotaExceeded: the user is at their concurrent-lab limit.
	ErrQuotaExceeded = errors.New("active lab quota exceeded")
)

// errorKind returns the machine-readable kind string for an error, for use
// in API error payloads.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrLabNotFound):
		return "LAB_NOT_FOUND"
	case errors.Is(err, ErrMissingParameter):
		return "MISSING_PARAMETER"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrDuplicateName):
		return "DUPLICATE_NAME"
	case errors.Is(err, ErrDuplicateParameter):
		return "DUPLICATE_PARAMETER"
	case errors.Is(err, ErrDuplicatePermission):
		return "DUPLICATE_PERMISSION"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrBackendUnavailable):
		return "BACKEND_UNAVAILABLE"
	case errors.Is(err, ErrQuotaExceeded):
		return "QUOTA_EXCEEDED"
	}
	return "INTERNAL"
}
