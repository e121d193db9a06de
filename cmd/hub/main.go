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

// Package main is the entry point for the Lawliet Hub service.
//
// The Hub is the lab-connection broker that:
// - Provisions containerized lab environments through the orchestration backend
// - Registers remote-access connections in the gateway control database
// - Grants and revokes per-user connection permissions
// - Keeps per-user active-lab counters consistent across failures
//
// Usage:
//
//	./hub
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	DATABASE_URL - PostgreSQL connection string for the application store
//	GUACAMOLE_DATABASE_URL - MySQL DSN for the gateway control database
//	HUB_API_SERVER - Container backend base URL (default: http://lawliet-k8s-api-server)
//	REDIS_URL - Optional catalog cache
//	JWT_SECRET - Session token signing secret
//	GUAC_HOSTNAME - Gateway-side container access host (default: lawliet-ssh)
//	BACKEND_TIMEOUT - Outbound call bound (default: 10s)
//	HUB_CONFIG - Optional YAML config file; environment takes priority
package main

import (
	"lawliet/platform/hub"
)

func main() {
	hub.Run()
}
